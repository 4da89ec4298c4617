package taskdef

import (
	"bytes"
	"testing"

	"github.com/chatmesh/mediator-go/internal/chatmsg"
	"github.com/chatmesh/mediator-go/internal/d2dproto"
)

func TestNonceForIsStablePerRecipient(t *testing.T) {
	task := NewSendText("CONTACT1", "hi", 1)

	n1, err := task.TaskBase().NonceFor("CONTACT1")
	if err != nil {
		t.Fatal(err)
	}
	if len(n1) != NonceLen {
		t.Fatalf("nonce length = %d, want %d", len(n1), NonceLen)
	}
	n2, err := task.TaskBase().NonceFor("CONTACT1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(n1, n2) {
		t.Error("second NonceFor for same recipient returned a different nonce")
	}

	other, err := task.TaskBase().NonceFor("CONTACT2")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(n1, other) {
		t.Error("different recipients share a nonce")
	}
}

// A task serialized mid-execution with nonces for two recipients must come
// back interrupted with an empty nonce map, and the next NonceFor must
// produce fresh nonces.
func TestRoundTripResetsNoncesAndState(t *testing.T) {
	task := NewSendText("CONTACT1", "resend me", 42)
	task.State = Executing
	task.RetryCount = 2

	before1, _ := task.TaskBase().NonceFor("CONTACT1")
	before2, _ := task.TaskBase().NonceFor("CONTACT2")

	blob, err := Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Unmarshal(blob)
	if err != nil {
		t.Fatal(err)
	}

	got, ok := restored.(*SendText)
	if !ok {
		t.Fatalf("restored type = %T", restored)
	}
	if got.Recipient != "CONTACT1" || got.Body != "resend me" || got.MessageID != 42 {
		t.Errorf("payload fields lost: %#v", got)
	}
	base := got.TaskBase()
	if base.State != Interrupted {
		t.Errorf("state = %v, want interrupted", base.State)
	}
	if base.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2 (preserved)", base.RetryCount)
	}
	if len(base.Nonces) != 0 {
		t.Fatalf("nonce map has %d entries after restore, want 0", len(base.Nonces))
	}

	after1, _ := base.NonceFor("CONTACT1")
	after2, _ := base.NonceFor("CONTACT2")
	if bytes.Equal(after1, before1) || bytes.Equal(after2, before2) {
		t.Error("resumed task reused a pre-restart nonce")
	}
}

func TestRoundTripPendingStateKept(t *testing.T) {
	task := NewGroupRename(chatmsg.GroupRef{CreatorIdentity: "CREATOR1", GroupID: 3}, "new")
	blob, err := Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Unmarshal(blob)
	if err != nil {
		t.Fatal(err)
	}
	if restored.TaskBase().State != Pending {
		t.Errorf("state = %v, want pending", restored.TaskBase().State)
	}
	if restored.(*GroupRename).Name != "new" {
		t.Errorf("name = %q", restored.(*GroupRename).Name)
	}
}

func TestAllRegisteredTasksRoundTrip(t *testing.T) {
	group := chatmsg.GroupRef{CreatorIdentity: "CREATOR1", GroupID: 1}
	tasks := []Task{
		NewSendText("CONTACT1", "a", 1),
		NewSendLocation("CONTACT1", chatmsg.Location{Latitude: 1, Longitude: 2}, 2),
		NewSendBallot("CONTACT1", chatmsg.BallotCreate{BallotID: 3, Title: "t"}, 3),
		NewSendDeliveryReceipt("CONTACT1", chatmsg.ReceiptRead, []uint64{4}),
		NewGroupCreate(group, "g", []string{"MEMBER01"}),
		NewGroupRename(group, "g2"),
		NewGroupSetPhoto(group, make([]byte, 16), 9, make([]byte, 32)),
		NewGroupLeave(group),
		NewGroupDissolve(group, []string{"MEMBER01"}),
		NewProfileSync(d2dproto.UserProfileSync{Nickname: "me"}),
		NewSettingsSync(d2dproto.SettingsSync{ReadReceiptPolicy: 1}),
		NewContactSync(d2dproto.SyncCreate, d2dproto.Contact{Identity: "CONTACT2"}),
		NewReceiveMessage("CONTACT1", 5, 6, 1, []byte("x"), []byte{1}),
		NewReceiveReflectedMessage([]byte{0x82, 0, 0, 0}),
		NewForwardSecurityRefresh("CONTACT1"),
	}
	for _, task := range tasks {
		blob, err := Marshal(task)
		if err != nil {
			t.Fatalf("%s: %v", task.TaskName(), err)
		}
		restored, err := Unmarshal(blob)
		if err != nil {
			t.Fatalf("%s: %v", task.TaskName(), err)
		}
		if restored.TaskName() != task.TaskName() {
			t.Errorf("name = %q, want %q", restored.TaskName(), task.TaskName())
		}
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	task := NewSendText("CONTACT1", "x", 1)
	blob, err := Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the registry name in the encoded record.
	bad := bytes.Replace(blob, []byte("send-text"), []byte("bent-text"), 1)
	if _, err := Unmarshal(bad); err == nil {
		t.Error("unknown task type: want error")
	}
}

func TestDurabilityDefaults(t *testing.T) {
	tests := []struct {
		task Task
		typ  TaskType
		rtry bool
	}{
		{NewSendText("A", "b", 1), Persistent, true},
		{NewSendDeliveryReceipt("A", chatmsg.ReceiptRead, nil), Persistent, true},
		{NewGroupDissolve(chatmsg.GroupRef{}, nil), Persistent, true},
		{NewReceiveMessage("A", 1, 2, 1, nil, nil), DropOnDisconnect, false},
		{NewReceiveReflectedMessage(nil), Volatile, false},
		{NewForwardSecurityRefresh("A"), DropOnDisconnect, true},
	}
	for _, tt := range tests {
		base := tt.task.TaskBase()
		if base.Type != tt.typ {
			t.Errorf("%s: type = %v, want %v", tt.task.TaskName(), base.Type, tt.typ)
		}
		if base.Retry != tt.rtry {
			t.Errorf("%s: retry = %v, want %v", tt.task.TaskName(), base.Retry, tt.rtry)
		}
	}
}

func TestNewMessageID(t *testing.T) {
	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		id, err := NewMessageID()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate message ID %d", id)
		}
		seen[id] = true
	}
}
