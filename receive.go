package mediator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/chatmesh/mediator-go/internal/mediatorframe"
	"github.com/chatmesh/mediator-go/internal/processor"
	"github.com/chatmesh/mediator-go/internal/taskdef"
	"github.com/chatmesh/mediator-go/internal/taskqueue"
)

// Payload kinds on the proxied chat-server leg. Message payloads carry a
// fixed-layout header after the kind byte: peer identity (8 ASCII bytes),
// message ID (8 LE), created-at millis (8 LE), legacy type (1), message
// nonce (24), then the message body. Ack payloads stop after the message ID.
const (
	proxyOutgoingMessage = 0x01 // client to chat server
	proxyIncomingMessage = 0x02 // chat server to client
	proxyOutgoingAck     = 0x81 // client confirms a received message
	proxyIncomingAck     = 0x82 // chat server confirms a sent message
)

const proxyMessageHeaderLen = 1 + 8 + 8 + 8 + 1 + 24

// receiveLoop reads mediator frames until the context is canceled. It only
// classifies frames; all actual message work goes through the task queue so
// ordering guarantees hold.
func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.recvDone)

	for {
		frame, err := c.conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logf(c.logger, "receive loop: %v", err)
			return
		}
		if len(frame) < mediatorframe.CommonHeaderLen {
			logf(c.logger, "dropping runt frame (%d bytes)", len(frame))
			continue
		}
		if !mediatorframe.IsMediatorFrame(frame) && mediatorframe.Type(frame[0]) != mediatorframe.TypeProxy {
			logf(c.logger, "dropping malformed frame (%d bytes)", len(frame))
			continue
		}
		c.dispatchFrame(ctx, frame)
	}
}

func (c *Client) dispatchFrame(ctx context.Context, frame []byte) {
	switch t := mediatorframe.Type(frame[0]); t {
	case mediatorframe.TypeReflected:
		task := taskdef.NewReceiveReflectedMessage(frame)
		if err := c.queue.Enqueue(task, nil); err != nil {
			logf(c.logger, "enqueue reflected frame: %v", err)
			return
		}
		go c.queue.Spool(context.Background())

	case mediatorframe.TypeReflectAck:
		ack, err := mediatorframe.DecodeReflectAck(frame)
		if err != nil {
			logf(c.logger, "bad reflect ack: %v", err)
			return
		}
		c.completeReflect(ack.ReflectID, ack.AckedAt)

	case mediatorframe.TypeProxy:
		c.dispatchProxy(frame)

	case mediatorframe.TypeReflectionQueueDry:
		logf(c.logger, "reflection queue dry")

	case mediatorframe.TypeRolePromotedToLeader:
		logf(c.logger, "promoted to device group leader")

	case mediatorframe.TypeDeviceInfo,
		mediatorframe.TypeDropDeviceAck,
		mediatorframe.TypeLockAck,
		mediatorframe.TypeUnlockAck,
		mediatorframe.TypeRejected,
		mediatorframe.TypeEnded:
		c.deliverControl(t, frame)

	default:
		logf(c.logger, "unhandled frame type %v", t)
	}
}

func (c *Client) dispatchProxy(frame []byte) {
	payload := frame[mediatorframe.CommonHeaderLen:]
	if len(payload) == 0 {
		logf(c.logger, "empty proxy payload")
		return
	}
	switch payload[0] {
	case proxyIncomingMessage:
		task, err := parseProxyMessage(payload)
		if err != nil {
			logf(c.logger, "bad proxy message: %v", err)
			return
		}
		if err := c.queue.Enqueue(task, nil); err != nil {
			logf(c.logger, "enqueue incoming message: %v", err)
			return
		}
		go c.queue.Spool(context.Background())
	case proxyIncomingAck:
		if len(payload) < 17 {
			logf(c.logger, "short proxy ack (%d bytes)", len(payload))
			return
		}
		messageID := binary.LittleEndian.Uint64(payload[9:17])
		if err := c.store.SetMessageState(messageID, processor.StateSent); err != nil {
			logf(c.logger, "mark message %x sent: %v", messageID, err)
		}
	default:
		logf(c.logger, "unhandled proxy payload kind %#02x", payload[0])
	}
}

func parseProxyMessage(payload []byte) (*taskdef.ReceiveMessage, error) {
	if len(payload) < proxyMessageHeaderLen {
		return nil, fmt.Errorf("mediator: proxy message payload %d bytes, need %d", len(payload), proxyMessageHeaderLen)
	}
	sender := string(payload[1:9])
	messageID := binary.LittleEndian.Uint64(payload[9:17])
	createdAt := binary.LittleEndian.Uint64(payload[17:25])
	typeCode := uint64(payload[25])
	nonce := append([]byte(nil), payload[26:50]...)
	body := append([]byte(nil), payload[50:]...)
	return taskdef.NewReceiveMessage(sender, messageID, createdAt, typeCode, body, nonce), nil
}

// reflect sends one encrypted envelope and blocks until the mediator acks
// it. The ack carries the server-side timestamp.
func (c *Client) reflect(ctx context.Context, envelope []byte) (time.Time, error) {
	if c.conn == nil || !c.conn.LoggedIn() {
		return time.Time{}, c.notReady()
	}

	id := c.nextReflectID.Add(1)
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame := mediatorframe.EncodeReflect(envelope, id)
	if err := c.conn.Send(ctx, frame); err != nil {
		return time.Time{}, taskqueue.Transient(err)
	}

	select {
	case ackedAt, ok := <-ch:
		if !ok {
			return time.Time{}, taskqueue.Transient(errors.New("mediator: connection lost awaiting reflect ack"))
		}
		return ackedAt, nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

func (c *Client) completeReflect(id uint32, ackedAt time.Time) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		logf(c.logger, "reflect ack for unknown id %d", id)
		return
	}
	ch <- ackedAt
}

func (c *Client) notReady() error {
	if c.conn == nil {
		return taskqueue.ErrNotConnected
	}
	return taskqueue.ErrNotLoggedIn
}

// awaitControl registers interest in one control frame type and waits.
func (c *Client) awaitControl(ctx context.Context, types ...mediatorframe.Type) ([]byte, error) {
	ch := make(chan []byte, 1)
	c.ctlMu.Lock()
	for _, t := range types {
		c.ctlWait[t] = ch
	}
	c.ctlMu.Unlock()
	defer func() {
		c.ctlMu.Lock()
		for _, t := range types {
			if c.ctlWait[t] == ch {
				delete(c.ctlWait, t)
			}
		}
		c.ctlMu.Unlock()
	}()

	select {
	case frame := <-ch:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) deliverControl(t mediatorframe.Type, frame []byte) {
	c.ctlMu.Lock()
	ch, ok := c.ctlWait[t]
	c.ctlMu.Unlock()
	if !ok {
		logf(c.logger, "unsolicited %v frame", t)
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

// DeviceInfo is one device of the device group as reported by the mediator.
// The per-device payload stays encrypted toward the server; callers decrypt
// it with the device-info key.
type DeviceInfo struct {
	DeviceID uint64
	Payload  []byte
}

// Devices asks the mediator for the device group roster.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	if c.conn == nil || !c.conn.LoggedIn() {
		return nil, c.notReady()
	}
	if err := c.conn.Send(ctx, mediatorframe.EncodeCommonHeader(mediatorframe.TypeGetDeviceInfo)); err != nil {
		return nil, err
	}
	frame, err := c.awaitControl(ctx, mediatorframe.TypeDeviceInfo)
	if err != nil {
		return nil, err
	}
	return parseDeviceInfo(frame)
}

// Device info payload: repeated [deviceID 8 LE][payloadLen 2 LE][payload].
func parseDeviceInfo(frame []byte) ([]DeviceInfo, error) {
	data := frame[mediatorframe.CommonHeaderLen:]
	var devices []DeviceInfo
	for len(data) > 0 {
		if len(data) < 10 {
			return nil, fmt.Errorf("mediator: truncated device info entry (%d bytes)", len(data))
		}
		id := binary.LittleEndian.Uint64(data[:8])
		plen := int(binary.LittleEndian.Uint16(data[8:10]))
		if len(data) < 10+plen {
			return nil, fmt.Errorf("mediator: device info payload truncated")
		}
		devices = append(devices, DeviceInfo{
			DeviceID: id,
			Payload:  append([]byte(nil), data[10:10+plen]...),
		})
		data = data[10+plen:]
	}
	return devices, nil
}

// DropDevice removes a device from the device group. Blocks until the
// mediator confirms.
func (c *Client) DropDevice(ctx context.Context, deviceID uint64) error {
	if c.conn == nil || !c.conn.LoggedIn() {
		return c.notReady()
	}
	frame := mediatorframe.EncodeCommonHeader(mediatorframe.TypeDropDevice)
	frame = binary.LittleEndian.AppendUint64(frame, deviceID)
	if err := c.conn.Send(ctx, frame); err != nil {
		return err
	}
	_, err := c.awaitControl(ctx, mediatorframe.TypeDropDeviceAck)
	return err
}

// ErrTransactionRejected means another device holds the device group lock.
var ErrTransactionRejected = errors.New("mediator: transaction rejected, lock held elsewhere")

// Lock acquires the device group transaction lock. Multi-step syncs wrap
// themselves in Lock/Unlock so other devices cannot interleave.
func (c *Client) Lock(ctx context.Context) error {
	if c.conn == nil || !c.conn.LoggedIn() {
		return c.notReady()
	}
	if err := c.conn.Send(ctx, mediatorframe.EncodeCommonHeader(mediatorframe.TypeLock)); err != nil {
		return err
	}
	frame, err := c.awaitControl(ctx, mediatorframe.TypeLockAck, mediatorframe.TypeRejected)
	if err != nil {
		return err
	}
	if mediatorframe.Type(frame[0]) == mediatorframe.TypeRejected {
		return ErrTransactionRejected
	}
	return nil
}

// Unlock releases the device group transaction lock.
func (c *Client) Unlock(ctx context.Context) error {
	if c.conn == nil || !c.conn.LoggedIn() {
		return c.notReady()
	}
	if err := c.conn.Send(ctx, mediatorframe.EncodeCommonHeader(mediatorframe.TypeUnlock)); err != nil {
		return err
	}
	frame, err := c.awaitControl(ctx, mediatorframe.TypeUnlockAck, mediatorframe.TypeEnded)
	if err != nil {
		return err
	}
	if mediatorframe.Type(frame[0]) == mediatorframe.TypeEnded {
		logf(c.logger, "transaction already ended by the mediator")
	}
	return nil
}
