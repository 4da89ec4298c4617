package taskdef

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// record is the serialized envelope around a task: the registry name plus
// the task's own fields.
type record struct {
	Type string          `cbor:"type"`
	Task cbor.RawMessage `cbor:"task"`
}

// registry maps task names to empty-value factories for decoding.
var registry = map[string]func() Task{}

func register(name string, factory func() Task) {
	if _, dup := registry[name]; dup {
		panic("taskdef: duplicate task name " + name)
	}
	registry[name] = factory
}

func init() {
	register("send-text", func() Task { return &SendText{} })
	register("send-location", func() Task { return &SendLocation{} })
	register("send-ballot", func() Task { return &SendBallot{} })
	register("send-delivery-receipt", func() Task { return &SendDeliveryReceipt{} })
	register("group-create", func() Task { return &GroupCreate{} })
	register("group-rename", func() Task { return &GroupRename{} })
	register("group-set-photo", func() Task { return &GroupSetPhoto{} })
	register("group-leave", func() Task { return &GroupLeave{} })
	register("group-dissolve", func() Task { return &GroupDissolve{} })
	register("profile-sync", func() Task { return &ProfileSync{} })
	register("settings-sync", func() Task { return &SettingsSync{} })
	register("contact-sync", func() Task { return &ContactSync{} })
	register("receive-message", func() Task { return &ReceiveMessage{} })
	register("receive-reflected-message", func() Task { return &ReceiveReflectedMessage{} })
	register("forward-security-refresh", func() Task { return &ForwardSecurityRefresh{} })
}

// Marshal serializes a task for the persistent queue.
func Marshal(task Task) ([]byte, error) {
	if _, known := registry[task.TaskName()]; !known {
		return nil, fmt.Errorf("taskdef: task %q not registered", task.TaskName())
	}
	inner, err := cbor.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("taskdef: marshal %q: %w", task.TaskName(), err)
	}
	blob, err := cbor.Marshal(record{Type: task.TaskName(), Task: inner})
	if err != nil {
		return nil, fmt.Errorf("taskdef: marshal record: %w", err)
	}
	return blob, nil
}

// Unmarshal restores a task from its serialized record. Tasks that were
// executing when serialized come back as Interrupted, and the nonce map is
// always empty so resumed sends draw fresh nonces.
func Unmarshal(blob []byte) (Task, error) {
	var rec record
	if err := cbor.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("taskdef: unmarshal record: %w", err)
	}
	factory, ok := registry[rec.Type]
	if !ok {
		return nil, fmt.Errorf("taskdef: unknown task type %q", rec.Type)
	}
	task := factory()
	if err := cbor.Unmarshal(rec.Task, task); err != nil {
		return nil, fmt.Errorf("taskdef: unmarshal %q: %w", rec.Type, err)
	}

	base := task.TaskBase()
	base.Nonces = nil
	base.Dropped = false
	if base.State == Executing {
		base.State = Interrupted
	}
	return task, nil
}
