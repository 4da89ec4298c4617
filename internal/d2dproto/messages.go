package d2dproto

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// GroupIdentity identifies a group by its ID and creator identity.
type GroupIdentity struct {
	GroupID         uint64
	CreatorIdentity string
}

func (g *GroupIdentity) appendTo(b []byte) ([]byte, error) {
	b = appendFixed64Field(b, 1, g.GroupID)
	b = appendStringField(b, 2, g.CreatorIdentity)
	return b, nil
}

func (g *GroupIdentity) unmarshal(raw []byte) error {
	*g = GroupIdentity{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "group identity")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.Fixed64Type:
			g.GroupID, raw, err = parseFixed64(raw, "group id")
		case num == 2 && typ == protowire.BytesType:
			g.CreatorIdentity, raw, err = parseString(raw, "group creator")
		default:
			raw, err = skipField(num, typ, raw, "group identity")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Conversation locates the conversation a message belongs to: either a 1:1
// contact or a group. Exactly one of Contact and Group is set.
type Conversation struct {
	Contact string
	Group   *GroupIdentity
}

func (c *Conversation) appendTo(b []byte) ([]byte, error) {
	if c.Contact != "" && c.Group != nil {
		return nil, fmt.Errorf("d2dproto: conversation has both contact and group")
	}
	b = appendStringField(b, 1, c.Contact)
	if c.Group != nil {
		inner, err := c.Group.appendTo(nil)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, 2, inner)
	}
	return b, nil
}

func (c *Conversation) unmarshal(raw []byte) error {
	*c = Conversation{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "conversation")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			c.Contact, raw, err = parseString(raw, "conversation contact")
		case num == 2 && typ == protowire.BytesType:
			var inner []byte
			inner, raw, err = parseBytes(raw, "conversation group")
			if err == nil {
				c.Group = new(GroupIdentity)
				err = c.Group.unmarshal(inner)
			}
		default:
			raw, err = skipField(num, typ, raw, "conversation")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// OutgoingMessage mirrors a message sent from this device to the other
// devices in the group. Body is the serialized legacy message payload,
// Type the legacy message type code. Nonces are the per-recipient nonces
// used on the chat server connection, kept so other devices can maintain
// their replay protection.
type OutgoingMessage struct {
	Conversation Conversation
	MessageID    uint64
	CreatedAt    uint64 // unix millis
	Type         uint64 // legacy message type code
	Body         []byte
	Nonces       [][]byte
}

func (*OutgoingMessage) fieldNumber() protowire.Number { return fieldOutgoingMessage }

func (m *OutgoingMessage) appendTo(b []byte) ([]byte, error) {
	inner, err := m.Conversation.appendTo(nil)
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, 1, inner)
	b = appendFixed64Field(b, 2, m.MessageID)
	b = appendVarintField(b, 3, m.CreatedAt)
	b = appendVarintField(b, 4, m.Type)
	b = appendBytesField(b, 5, m.Body)
	for _, nonce := range m.Nonces {
		b = appendMessageField(b, 6, nonce)
	}
	return b, nil
}

func (m *OutgoingMessage) unmarshal(raw []byte) error {
	*m = OutgoingMessage{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "outgoing message")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			var inner []byte
			inner, raw, err = parseBytes(raw, "outgoing conversation")
			if err == nil {
				err = m.Conversation.unmarshal(inner)
			}
		case num == 2 && typ == protowire.Fixed64Type:
			m.MessageID, raw, err = parseFixed64(raw, "outgoing message id")
		case num == 3 && typ == protowire.VarintType:
			m.CreatedAt, raw, err = parseVarint(raw, "outgoing created at")
		case num == 4 && typ == protowire.VarintType:
			m.Type, raw, err = parseVarint(raw, "outgoing type")
		case num == 5 && typ == protowire.BytesType:
			m.Body, raw, err = parseBytes(raw, "outgoing body")
		case num == 6 && typ == protowire.BytesType:
			var nonce []byte
			nonce, raw, err = parseBytes(raw, "outgoing nonce")
			if err == nil {
				m.Nonces = append(m.Nonces, nonce)
			}
		default:
			raw, err = skipField(num, typ, raw, "outgoing message")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IncomingMessage mirrors a message received from the chat server.
type IncomingMessage struct {
	SenderIdentity string
	MessageID      uint64
	CreatedAt      uint64 // unix millis
	Type           uint64 // legacy message type code
	Body           []byte
	Nonce          []byte
}

func (*IncomingMessage) fieldNumber() protowire.Number { return fieldIncomingMessage }

func (m *IncomingMessage) appendTo(b []byte) ([]byte, error) {
	b = appendStringField(b, 1, m.SenderIdentity)
	b = appendFixed64Field(b, 2, m.MessageID)
	b = appendVarintField(b, 3, m.CreatedAt)
	b = appendVarintField(b, 4, m.Type)
	b = appendBytesField(b, 5, m.Body)
	b = appendBytesField(b, 6, m.Nonce)
	return b, nil
}

func (m *IncomingMessage) unmarshal(raw []byte) error {
	*m = IncomingMessage{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "incoming message")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			m.SenderIdentity, raw, err = parseString(raw, "incoming sender")
		case num == 2 && typ == protowire.Fixed64Type:
			m.MessageID, raw, err = parseFixed64(raw, "incoming message id")
		case num == 3 && typ == protowire.VarintType:
			m.CreatedAt, raw, err = parseVarint(raw, "incoming created at")
		case num == 4 && typ == protowire.VarintType:
			m.Type, raw, err = parseVarint(raw, "incoming type")
		case num == 5 && typ == protowire.BytesType:
			m.Body, raw, err = parseBytes(raw, "incoming body")
		case num == 6 && typ == protowire.BytesType:
			m.Nonce, raw, err = parseBytes(raw, "incoming nonce")
		default:
			raw, err = skipField(num, typ, raw, "incoming message")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateKind describes what changed about an already delivered message.
type UpdateKind uint64

const (
	UpdateSent      UpdateKind = 1 // outgoing: accepted by the chat server
	UpdateDelivered UpdateKind = 2
	UpdateRead      UpdateKind = 3
	UpdateEdited    UpdateKind = 4
	UpdateDeleted   UpdateKind = 5
	UpdateReaction  UpdateKind = 6
)

// OutgoingMessageUpdate mirrors a state change of a message this group sent.
type OutgoingMessageUpdate struct {
	Conversation Conversation
	MessageID    uint64
	Kind         UpdateKind
	At           uint64 // unix millis
	Payload      []byte // edit body, reaction, etc.; kind-dependent
}

func (*OutgoingMessageUpdate) fieldNumber() protowire.Number { return fieldOutgoingMessageUpdate }

func (m *OutgoingMessageUpdate) appendTo(b []byte) ([]byte, error) {
	inner, err := m.Conversation.appendTo(nil)
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, 1, inner)
	b = appendFixed64Field(b, 2, m.MessageID)
	b = appendVarintField(b, 3, uint64(m.Kind))
	b = appendVarintField(b, 4, m.At)
	b = appendBytesField(b, 5, m.Payload)
	return b, nil
}

func (m *OutgoingMessageUpdate) unmarshal(raw []byte) error {
	*m = OutgoingMessageUpdate{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "outgoing update")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			var inner []byte
			inner, raw, err = parseBytes(raw, "outgoing update conversation")
			if err == nil {
				err = m.Conversation.unmarshal(inner)
			}
		case num == 2 && typ == protowire.Fixed64Type:
			m.MessageID, raw, err = parseFixed64(raw, "outgoing update message id")
		case num == 3 && typ == protowire.VarintType:
			var v uint64
			v, raw, err = parseVarint(raw, "outgoing update kind")
			m.Kind = UpdateKind(v)
		case num == 4 && typ == protowire.VarintType:
			m.At, raw, err = parseVarint(raw, "outgoing update at")
		case num == 5 && typ == protowire.BytesType:
			m.Payload, raw, err = parseBytes(raw, "outgoing update payload")
		default:
			raw, err = skipField(num, typ, raw, "outgoing update")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IncomingMessageUpdate mirrors a state change of a received message, e.g.
// it was read on another device.
type IncomingMessageUpdate struct {
	Conversation Conversation
	MessageID    uint64
	Kind         UpdateKind
	At           uint64 // unix millis
}

func (*IncomingMessageUpdate) fieldNumber() protowire.Number { return fieldIncomingMessageUpdate }

func (m *IncomingMessageUpdate) appendTo(b []byte) ([]byte, error) {
	inner, err := m.Conversation.appendTo(nil)
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, 1, inner)
	b = appendFixed64Field(b, 2, m.MessageID)
	b = appendVarintField(b, 3, uint64(m.Kind))
	b = appendVarintField(b, 4, m.At)
	return b, nil
}

func (m *IncomingMessageUpdate) unmarshal(raw []byte) error {
	*m = IncomingMessageUpdate{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "incoming update")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			var inner []byte
			inner, raw, err = parseBytes(raw, "incoming update conversation")
			if err == nil {
				err = m.Conversation.unmarshal(inner)
			}
		case num == 2 && typ == protowire.Fixed64Type:
			m.MessageID, raw, err = parseFixed64(raw, "incoming update message id")
		case num == 3 && typ == protowire.VarintType:
			var v uint64
			v, raw, err = parseVarint(raw, "incoming update kind")
			m.Kind = UpdateKind(v)
		case num == 4 && typ == protowire.VarintType:
			m.At, raw, err = parseVarint(raw, "incoming update at")
		default:
			raw, err = skipField(num, typ, raw, "incoming update")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SyncAction is the operation a contact or group sync applies.
type SyncAction uint64

const (
	SyncCreate SyncAction = 1
	SyncUpdate SyncAction = 2
	SyncDelete SyncAction = 3
)

// Contact is the synchronized subset of a contact record.
type Contact struct {
	Identity  string
	PublicKey []byte
	Nickname  string
}

func (c *Contact) appendTo(b []byte) ([]byte, error) {
	b = appendStringField(b, 1, c.Identity)
	b = appendBytesField(b, 2, c.PublicKey)
	b = appendStringField(b, 3, c.Nickname)
	return b, nil
}

func (c *Contact) unmarshal(raw []byte) error {
	*c = Contact{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "contact")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			c.Identity, raw, err = parseString(raw, "contact identity")
		case num == 2 && typ == protowire.BytesType:
			c.PublicKey, raw, err = parseBytes(raw, "contact public key")
		case num == 3 && typ == protowire.BytesType:
			c.Nickname, raw, err = parseString(raw, "contact nickname")
		default:
			raw, err = skipField(num, typ, raw, "contact")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ContactSync propagates a contact create/update/delete to the group.
type ContactSync struct {
	Action  SyncAction
	Contact Contact
}

func (*ContactSync) fieldNumber() protowire.Number { return fieldContactSync }

func (m *ContactSync) appendTo(b []byte) ([]byte, error) {
	b = appendVarintField(b, 1, uint64(m.Action))
	inner, err := m.Contact.appendTo(nil)
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, 2, inner)
	return b, nil
}

func (m *ContactSync) unmarshal(raw []byte) error {
	*m = ContactSync{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "contact sync")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.VarintType:
			var v uint64
			v, raw, err = parseVarint(raw, "contact sync action")
			m.Action = SyncAction(v)
		case num == 2 && typ == protowire.BytesType:
			var inner []byte
			inner, raw, err = parseBytes(raw, "contact sync contact")
			if err == nil {
				err = m.Contact.unmarshal(inner)
			}
		default:
			raw, err = skipField(num, typ, raw, "contact sync")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Group is the synchronized subset of a group record.
type Group struct {
	Identity GroupIdentity
	Name     string
	Members  []string
}

func (g *Group) appendTo(b []byte) ([]byte, error) {
	inner, err := g.Identity.appendTo(nil)
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, 1, inner)
	b = appendStringField(b, 2, g.Name)
	for _, m := range g.Members {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m)
	}
	return b, nil
}

func (g *Group) unmarshal(raw []byte) error {
	*g = Group{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "group")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			var inner []byte
			inner, raw, err = parseBytes(raw, "group identity")
			if err == nil {
				err = g.Identity.unmarshal(inner)
			}
		case num == 2 && typ == protowire.BytesType:
			g.Name, raw, err = parseString(raw, "group name")
		case num == 3 && typ == protowire.BytesType:
			var member string
			member, raw, err = parseString(raw, "group member")
			if err == nil {
				g.Members = append(g.Members, member)
			}
		default:
			raw, err = skipField(num, typ, raw, "group")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// GroupSync propagates a group create/update/delete to the group of devices.
type GroupSync struct {
	Action SyncAction
	Group  Group
}

func (*GroupSync) fieldNumber() protowire.Number { return fieldGroupSync }

func (m *GroupSync) appendTo(b []byte) ([]byte, error) {
	b = appendVarintField(b, 1, uint64(m.Action))
	inner, err := m.Group.appendTo(nil)
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, 2, inner)
	return b, nil
}

func (m *GroupSync) unmarshal(raw []byte) error {
	*m = GroupSync{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "group sync")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.VarintType:
			var v uint64
			v, raw, err = parseVarint(raw, "group sync action")
			m.Action = SyncAction(v)
		case num == 2 && typ == protowire.BytesType:
			var inner []byte
			inner, raw, err = parseBytes(raw, "group sync group")
			if err == nil {
				err = m.Group.unmarshal(inner)
			}
		default:
			raw, err = skipField(num, typ, raw, "group sync")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SettingsSync propagates privacy settings across the device group.
type SettingsSync struct {
	ContactSyncPolicy     uint64
	UnknownContactPolicy  uint64
	ReadReceiptPolicy     uint64
	TypingIndicatorPolicy uint64
}

func (*SettingsSync) fieldNumber() protowire.Number { return fieldSettingsSync }

func (m *SettingsSync) appendTo(b []byte) ([]byte, error) {
	b = appendVarintField(b, 1, m.ContactSyncPolicy)
	b = appendVarintField(b, 2, m.UnknownContactPolicy)
	b = appendVarintField(b, 3, m.ReadReceiptPolicy)
	b = appendVarintField(b, 4, m.TypingIndicatorPolicy)
	return b, nil
}

func (m *SettingsSync) unmarshal(raw []byte) error {
	*m = SettingsSync{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "settings sync")
		if err != nil {
			return err
		}
		raw = rest
		if typ != protowire.VarintType {
			raw, err = skipField(num, typ, raw, "settings sync")
			if err != nil {
				return err
			}
			continue
		}
		var v uint64
		v, raw, err = parseVarint(raw, "settings sync value")
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.ContactSyncPolicy = v
		case 2:
			m.UnknownContactPolicy = v
		case 3:
			m.ReadReceiptPolicy = v
		case 4:
			m.TypingIndicatorPolicy = v
		}
	}
	return nil
}

// UserProfileSync propagates the user's own profile across devices.
type UserProfileSync struct {
	Nickname         string
	ProfilePictureID []byte // blob reference, empty when the picture is unset
}

func (*UserProfileSync) fieldNumber() protowire.Number { return fieldUserProfileSync }

func (m *UserProfileSync) appendTo(b []byte) ([]byte, error) {
	b = appendStringField(b, 1, m.Nickname)
	b = appendBytesField(b, 2, m.ProfilePictureID)
	return b, nil
}

func (m *UserProfileSync) unmarshal(raw []byte) error {
	*m = UserProfileSync{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "user profile sync")
		if err != nil {
			return err
		}
		raw = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			m.Nickname, raw, err = parseString(raw, "profile nickname")
		case num == 2 && typ == protowire.BytesType:
			m.ProfilePictureID, raw, err = parseBytes(raw, "profile picture id")
		default:
			raw, err = skipField(num, typ, raw, "user profile sync")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MdmParameterSync propagates management (MDM) parameters to the group.
type MdmParameterSync struct {
	Parameters map[string]string
}

func (*MdmParameterSync) fieldNumber() protowire.Number { return fieldMdmParameterSync }

func (m *MdmParameterSync) appendTo(b []byte) ([]byte, error) {
	// Map entries are encoded as repeated {1: key, 2: value} messages,
	// matching the protobuf map wire format.
	for _, k := range sortedKeys(m.Parameters) {
		var entry []byte
		entry = appendStringField(entry, 1, k)
		entry = appendStringField(entry, 2, m.Parameters[k])
		b = appendMessageField(b, 1, entry)
	}
	return b, nil
}

func (m *MdmParameterSync) unmarshal(raw []byte) error {
	*m = MdmParameterSync{}
	for len(raw) > 0 {
		num, typ, rest, err := parseTag(raw, "mdm parameter sync")
		if err != nil {
			return err
		}
		raw = rest
		if num != 1 || typ != protowire.BytesType {
			raw, err = skipField(num, typ, raw, "mdm parameter sync")
			if err != nil {
				return err
			}
			continue
		}
		var entry []byte
		entry, raw, err = parseBytes(raw, "mdm parameter entry")
		if err != nil {
			return err
		}
		var key, value string
		for len(entry) > 0 {
			enum, etyp, erest, err := parseTag(entry, "mdm parameter entry")
			if err != nil {
				return err
			}
			entry = erest
			switch {
			case enum == 1 && etyp == protowire.BytesType:
				key, entry, err = parseString(entry, "mdm parameter key")
			case enum == 2 && etyp == protowire.BytesType:
				value, entry, err = parseString(entry, "mdm parameter value")
			default:
				entry, err = skipField(enum, etyp, entry, "mdm parameter entry")
			}
			if err != nil {
				return err
			}
		}
		if m.Parameters == nil {
			m.Parameters = make(map[string]string)
		}
		m.Parameters[key] = value
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic output keeps envelope bytes stable.
	sort.Strings(keys)
	return keys
}
