package mediator

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const linkScheme = "mdmesh"

// LinkOffer carries everything a new device needs to join the device
// group: the shared device group key, the account identity, and a one-time
// session ID so the mediator can correlate the join.
type LinkOffer struct {
	SessionID      uuid.UUID
	Identity       string
	DeviceGroupKey []byte
}

// NewLinkOffer builds a link offer for this client's account. Rendered as a
// QR code on the existing device and scanned by the new one.
func (c *Client) NewLinkOffer() (*LinkOffer, error) {
	if len(c.deviceGroupKey) == 0 {
		return nil, fmt.Errorf("mediator: no device group key to share")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return &LinkOffer{
		SessionID:      id,
		Identity:       c.identity,
		DeviceGroupKey: c.deviceGroupKey,
	}, nil
}

// URI encodes the offer as mdmesh://join/<session>?identity=...&dgk=...
func (o *LinkOffer) URI() string {
	q := url.Values{}
	q.Set("identity", o.Identity)
	q.Set("dgk", base64.RawURLEncoding.EncodeToString(o.DeviceGroupKey))
	return fmt.Sprintf("%s://join/%s?%s", linkScheme, o.SessionID, q.Encode())
}

// ParseLinkURI decodes a link offer scanned from another device.
func ParseLinkURI(s string) (*LinkOffer, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("mediator: link uri: %w", err)
	}
	if u.Scheme != linkScheme || u.Host != "join" {
		return nil, fmt.Errorf("mediator: link uri: not a %s join link", linkScheme)
	}
	session, err := uuid.Parse(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("mediator: link uri: session: %w", err)
	}
	key, err := base64.RawURLEncoding.DecodeString(u.Query().Get("dgk"))
	if err != nil {
		return nil, fmt.Errorf("mediator: link uri: device group key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("mediator: link uri: device group key is %d bytes, want 32", len(key))
	}
	identity := u.Query().Get("identity")
	if identity == "" {
		return nil, fmt.Errorf("mediator: link uri: missing identity")
	}
	return &LinkOffer{
		SessionID:      session,
		Identity:       identity,
		DeviceGroupKey: key,
	}, nil
}
