package processor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/d2dproto"
	"github.com/chatmesh/mediator-go/internal/msgtype"
)

type fakeStore struct {
	contacts map[string][]byte
	groups   map[string][]string // "creator/id" -> members
	names    map[string]string
	messages map[uint64]*Record
	states   map[uint64]MessageState
	nonces   map[string]bool

	saveCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts: map[string][]byte{},
		groups:   map[string][]string{},
		names:    map[string]string{},
		messages: map[uint64]*Record{},
		states:   map[uint64]MessageState{},
		nonces:   map[string]bool{},
	}
}

func groupKey(creator string, id uint64) string {
	return fmt.Sprintf("%s/%d", creator, id)
}

func (s *fakeStore) HasContact(identity string) (bool, error) {
	_, ok := s.contacts[identity]
	return ok, nil
}

func (s *fakeStore) SaveContact(identity string, publicKey []byte, nickname string) error {
	s.contacts[identity] = publicKey
	return nil
}

func (s *fakeStore) DeleteContact(identity string) error {
	delete(s.contacts, identity)
	return nil
}

func (s *fakeStore) HasGroup(creator string, id uint64) (bool, error) {
	_, ok := s.groups[groupKey(creator, id)]
	return ok, nil
}

func (s *fakeStore) UpsertGroup(creator string, id uint64, name string, members []string) error {
	s.groups[groupKey(creator, id)] = members
	if name != "" {
		s.names[groupKey(creator, id)] = name
	}
	return nil
}

func (s *fakeStore) RenameGroup(creator string, id uint64, name string) error {
	s.names[groupKey(creator, id)] = name
	return nil
}

func (s *fakeStore) RemoveGroupMember(creator string, id uint64, identity string) error {
	key := groupKey(creator, id)
	var kept []string
	for _, m := range s.groups[key] {
		if m != identity {
			kept = append(kept, m)
		}
	}
	s.groups[key] = kept
	return nil
}

func (s *fakeStore) DeleteGroup(creator string, id uint64) error {
	delete(s.groups, groupKey(creator, id))
	return nil
}

func (s *fakeStore) SaveMessage(r *Record) error {
	s.saveCalls++
	s.messages[r.MessageID] = r
	return nil
}

func (s *fakeStore) SetMessageState(id uint64, state MessageState) error {
	s.states[id] = state
	return nil
}

func (s *fakeStore) EditMessageBody(id uint64, body string) error {
	if r, ok := s.messages[id]; ok {
		r.Body = []byte(body)
	}
	return nil
}

func (s *fakeStore) RemoveMessage(id uint64) error {
	delete(s.messages, id)
	return nil
}

func (s *fakeStore) SeenNonce(nonce []byte) (bool, error) {
	key := string(nonce)
	if s.nonces[key] {
		return true, nil
	}
	s.nonces[key] = true
	return false, nil
}

func incoming(sender string, id uint64, msg chatmsg.Message) Incoming {
	return Incoming{
		Sender:    sender,
		MessageID: id,
		CreatedAt: time.Now(),
		Nonce:     []byte{byte(id), 1, 2, 3},
		Msg:       msg,
	}
}

func TestTextPersisted(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}
	p := New(st)

	if err := p.ProcessIncoming(incoming("CONTACT1", 10, chatmsg.Text{Body: "hi"})); err != nil {
		t.Fatal(err)
	}
	rec := st.messages[10]
	if rec == nil {
		t.Fatal("message not persisted")
	}
	if rec.Type != msgtype.TypeText || !rec.Incoming || rec.ContactIdentity != "CONTACT1" {
		t.Errorf("record = %#v", rec)
	}
}

func TestReceiverNotFound(t *testing.T) {
	st := newFakeStore()
	p := New(st)

	err := p.ProcessIncoming(incoming("STRANGER", 1, chatmsg.Text{Body: "?"}))
	if !errors.Is(err, ErrReceiverNotFound) {
		t.Fatalf("err = %v, want ErrReceiverNotFound", err)
	}
	if st.saveCalls != 0 {
		t.Errorf("save calls = %d, want 0", st.saveCalls)
	}
}

func TestGroupNotFound(t *testing.T) {
	st := newFakeStore()
	p := New(st)

	group := chatmsg.GroupRef{CreatorIdentity: "CREATOR1", GroupID: 9}
	err := p.ProcessIncoming(incoming("MEMBER01", 1, chatmsg.GroupText{GroupRef: group, Body: "x"}))
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("err = %v, want ErrGroupNotFound", err)
	}
	if st.saveCalls != 0 {
		t.Errorf("save calls = %d, want 0", st.saveCalls)
	}
}

func TestDeprecatedRejectedWithoutPersistence(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}
	p := New(st)

	for _, msg := range []chatmsg.Message{
		chatmsg.DeprecatedImage{Raw: []byte{1}},
		chatmsg.DeprecatedVideo{Raw: []byte{1}},
		chatmsg.DeprecatedAudio{Raw: []byte{1}},
	} {
		err := p.ProcessIncoming(incoming("CONTACT1", 1, msg))
		if !errors.Is(err, ErrDeprecatedType) {
			t.Errorf("%T: err = %v, want ErrDeprecatedType", msg, err)
		}
	}
	if st.saveCalls != 0 {
		t.Errorf("save calls = %d, want 0", st.saveCalls)
	}
	if len(st.nonces) != 0 {
		t.Errorf("nonce log has %d entries, want 0", len(st.nonces))
	}
}

func TestDuplicateNonceDiscarded(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}
	p := New(st)

	in := incoming("CONTACT1", 5, chatmsg.Text{Body: "once"})
	if err := p.ProcessIncoming(in); err != nil {
		t.Fatal(err)
	}
	err := p.ProcessIncoming(in)
	if !errors.Is(err, ErrMessageAlreadyProcessed) {
		t.Fatalf("second delivery: err = %v, want ErrMessageAlreadyProcessed", err)
	}
	if st.saveCalls != 1 {
		t.Errorf("save calls = %d, want 1", st.saveCalls)
	}
}

func TestReceiptIdempotent(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}
	p := New(st)

	receipt := chatmsg.DeliveryReceipt{Kind: chatmsg.ReceiptRead, MessageIDs: []uint64{7, 8}}
	for i := 0; i < 2; i++ {
		in := incoming("CONTACT1", uint64(100+i), receipt)
		if err := p.ProcessIncoming(in); err != nil {
			t.Fatalf("application %d: %v", i, err)
		}
	}
	for _, id := range []uint64{7, 8} {
		if st.states[id] != StateRead {
			t.Errorf("message %d state = %q, want %q", id, st.states[id], StateRead)
		}
	}
}

func TestVoIPRouting(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}

	var gotSender string
	var gotType msgtype.Type
	p := New(st, WithCallHandler(func(sender string, msg chatmsg.Message) (bool, error) {
		gotSender = sender
		gotType = msg.Type()
		return true, nil
	}))

	offer := chatmsg.CallOffer{Payload: []byte(`{}`)}
	if err := p.ProcessIncoming(incoming("CONTACT1", 1, offer)); err != nil {
		t.Fatal(err)
	}
	if gotSender != "CONTACT1" || gotType != msgtype.TypeVoIPCallOffer {
		t.Errorf("handler saw sender=%q type=%v", gotSender, gotType)
	}
	if st.saveCalls != 0 {
		t.Errorf("call messages must not be persisted, save calls = %d", st.saveCalls)
	}
}

func TestVoIPAckSuppression(t *testing.T) {
	st := newFakeStore()
	p := New(st, WithCallHandler(func(string, chatmsg.Message) (bool, error) {
		return false, nil
	}))

	err := p.ProcessIncoming(incoming("CONTACT1", 1, chatmsg.CallOffer{Payload: []byte(`{}`)}))
	if !errors.Is(err, ErrDoNotAckVoIP) {
		t.Fatalf("err = %v, want ErrDoNotAckVoIP", err)
	}
}

func TestReceiptEnqueuedAfterPersist(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}

	type enq struct {
		recipient string
		id        uint64
	}
	var enqueued []enq
	p := New(st, WithReceiptEnqueuer(func(recipient string, kind chatmsg.ReceiptKind, id uint64) {
		if kind != chatmsg.ReceiptReceived {
			t.Errorf("kind = 0x%02x, want received", byte(kind))
		}
		enqueued = append(enqueued, enq{recipient, id})
	}))

	if err := p.ProcessIncoming(incoming("CONTACT1", 33, chatmsg.Text{Body: "x"})); err != nil {
		t.Fatal(err)
	}
	if len(enqueued) != 1 || enqueued[0] != (enq{"CONTACT1", 33}) {
		t.Errorf("enqueued = %v", enqueued)
	}

	// A failed message must not trigger a receipt.
	_ = p.ProcessIncoming(incoming("STRANGER", 34, chatmsg.Text{Body: "x"}))
	if len(enqueued) != 1 {
		t.Errorf("enqueued = %v after failed persist", enqueued)
	}
}

func TestFileHook(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}

	var hooked int
	p := New(st, WithFileHook(func(sender string, f chatmsg.File) {
		hooked++
		if f.Name != "a.txt" {
			t.Errorf("file name = %q", f.Name)
		}
	}))

	f := chatmsg.File{
		BlobID: make([]byte, 16), Key: make([]byte, 32),
		MimeType: "text/plain", Name: "a.txt", Size: 1,
	}
	if err := p.ProcessIncoming(incoming("CONTACT1", 1, f)); err != nil {
		t.Fatal(err)
	}
	if hooked != 1 {
		t.Errorf("file hook called %d times, want 1", hooked)
	}
}

func TestGroupMembershipMessages(t *testing.T) {
	st := newFakeStore()
	p := New(st)

	group := chatmsg.GroupRef{CreatorIdentity: "CREATOR1", GroupID: 7}
	create := chatmsg.GroupCreate{GroupRef: group, Members: []string{"MEMBER01", "MEMBER02"}}
	if err := p.ProcessIncoming(incoming("CREATOR1", 1, create)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := st.HasGroup("CREATOR1", 7); !ok {
		t.Fatal("group not created")
	}

	rename := chatmsg.GroupRename{GroupRef: group, Name: "renamed"}
	if err := p.ProcessIncoming(incoming("CREATOR1", 2, rename)); err != nil {
		t.Fatal(err)
	}
	if st.names[groupKey("CREATOR1", 7)] != "renamed" {
		t.Errorf("group name = %q", st.names[groupKey("CREATOR1", 7)])
	}

	leave := chatmsg.GroupLeave{GroupRef: group}
	if err := p.ProcessIncoming(incoming("MEMBER01", 3, leave)); err != nil {
		t.Fatal(err)
	}
	for _, m := range st.groups[groupKey("CREATOR1", 7)] {
		if m == "MEMBER01" {
			t.Error("MEMBER01 still in group after leave")
		}
	}
}

func TestEnvelopeIncomingMessage(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}
	p := New(st)

	env := &d2dproto.Envelope{
		DeviceID: 2,
		Content: &d2dproto.IncomingMessage{
			SenderIdentity: "CONTACT1",
			MessageID:      50,
			CreatedAt:      1700000000000,
			Type:           uint64(msgtype.LegacyText),
			Body:           []byte("from the other device"),
			Nonce:          []byte{9, 9, 9},
		},
	}
	if err := p.ProcessEnvelope(env); err != nil {
		t.Fatal(err)
	}
	if st.messages[50] == nil {
		t.Fatal("reflected incoming message not persisted")
	}
}

func TestEnvelopeOutgoingMessage(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}
	p := New(st)

	env := &d2dproto.Envelope{
		Content: &d2dproto.OutgoingMessage{
			Conversation: d2dproto.Conversation{Contact: "CONTACT1"},
			MessageID:    60,
			CreatedAt:    1700000000000,
			Type:         uint64(msgtype.LegacyText),
			Body:         []byte("sent elsewhere"),
		},
	}
	if err := p.ProcessEnvelope(env); err != nil {
		t.Fatal(err)
	}
	rec := st.messages[60]
	if rec == nil {
		t.Fatal("reflected outgoing message not persisted")
	}
	if rec.Incoming {
		t.Error("reflected outgoing message marked incoming")
	}
}

func TestEnvelopeContactSync(t *testing.T) {
	st := newFakeStore()
	p := New(st)

	env := &d2dproto.Envelope{Content: &d2dproto.ContactSync{
		Action:  d2dproto.SyncCreate,
		Contact: d2dproto.Contact{Identity: "NEWGUY01", PublicKey: []byte{4}, Nickname: "n"},
	}}
	if err := p.ProcessEnvelope(env); err != nil {
		t.Fatal(err)
	}
	if ok, _ := st.HasContact("NEWGUY01"); !ok {
		t.Fatal("contact not created by sync")
	}

	env.Content = &d2dproto.ContactSync{
		Action:  d2dproto.SyncDelete,
		Contact: d2dproto.Contact{Identity: "NEWGUY01"},
	}
	if err := p.ProcessEnvelope(env); err != nil {
		t.Fatal(err)
	}
	if ok, _ := st.HasContact("NEWGUY01"); ok {
		t.Fatal("contact survived sync delete")
	}
}

func TestEnvelopeMessageUpdates(t *testing.T) {
	st := newFakeStore()
	st.contacts["CONTACT1"] = []byte{1}
	p := New(st)

	if err := p.ProcessIncoming(incoming("CONTACT1", 70, chatmsg.Text{Body: "orig"})); err != nil {
		t.Fatal(err)
	}

	update := func(kind d2dproto.UpdateKind, payload []byte) error {
		return p.ProcessEnvelope(&d2dproto.Envelope{Content: &d2dproto.OutgoingMessageUpdate{
			Conversation: d2dproto.Conversation{Contact: "CONTACT1"},
			MessageID:    70,
			Kind:         kind,
			Payload:      payload,
		}})
	}

	if err := update(d2dproto.UpdateRead, nil); err != nil {
		t.Fatal(err)
	}
	if st.states[70] != StateRead {
		t.Errorf("state = %q, want read", st.states[70])
	}
	if err := update(d2dproto.UpdateEdited, []byte("edited")); err != nil {
		t.Fatal(err)
	}
	if string(st.messages[70].Body) != "edited" {
		t.Errorf("body = %q, want edited", st.messages[70].Body)
	}
	if err := update(d2dproto.UpdateDeleted, nil); err != nil {
		t.Fatal(err)
	}
	if st.messages[70] != nil {
		t.Error("message survived delete update")
	}
}
