// Package msgtype maps between the legacy integer message type codes used
// on the chat server connection and the structured multi-device message
// type enumeration, and decides which types are mirrored ("reflected") to
// the other devices in the group. The numeric table is a versioned public
// contract: adding a code means extending the forward map, the inverse map
// where applicable, and the reflectability predicate.
package msgtype

import "fmt"

// Legacy is a message type code as it appears on the wire of the chat
// server protocol.
type Legacy byte

const (
	LegacyText                 Legacy = 0x01
	LegacyImage                Legacy = 0x02 // deprecated, superseded by file messages
	LegacyLocation             Legacy = 0x10
	LegacyVideo                Legacy = 0x13 // deprecated
	LegacyAudio                Legacy = 0x14 // deprecated
	LegacyBallotCreate         Legacy = 0x15
	LegacyBallotVote           Legacy = 0x16
	LegacyFile                 Legacy = 0x17
	LegacyContactSetPhoto      Legacy = 0x18
	LegacyContactDeletePhoto   Legacy = 0x19
	LegacyContactRequestPhoto  Legacy = 0x1a
	LegacyGroupText            Legacy = 0x41
	LegacyGroupLocation        Legacy = 0x42
	LegacyGroupImage           Legacy = 0x43 // deprecated
	LegacyGroupVideo           Legacy = 0x44 // deprecated
	LegacyGroupAudio           Legacy = 0x45 // deprecated
	LegacyGroupFile            Legacy = 0x46
	LegacyGroupCreate          Legacy = 0x4a
	LegacyGroupRename          Legacy = 0x4b
	LegacyGroupLeave           Legacy = 0x4c
	LegacyGroupCallStart       Legacy = 0x4f
	LegacyGroupSetPhoto        Legacy = 0x50
	LegacyGroupRequestSync     Legacy = 0x51
	LegacyGroupBallotCreate    Legacy = 0x52
	LegacyGroupBallotVote      Legacy = 0x53
	LegacyGroupDeletePhoto     Legacy = 0x54
	LegacyVoIPCallOffer        Legacy = 0x60
	LegacyVoIPCallAnswer       Legacy = 0x61
	LegacyVoIPICECandidate     Legacy = 0x62
	LegacyVoIPCallHangup       Legacy = 0x63
	LegacyVoIPCallRinging      Legacy = 0x64
	LegacyDeliveryReceipt      Legacy = 0x80
	LegacyGroupDeliveryReceipt Legacy = 0x81
	LegacyTypingIndicator      Legacy = 0x90
	LegacyEdit                 Legacy = 0x91
	LegacyDelete               Legacy = 0x92
	LegacyGroupEdit            Legacy = 0x93
	LegacyGroupDelete          Legacy = 0x94
	LegacyForwardSecurity      Legacy = 0xa0
	LegacyEmpty                Legacy = 0xfc
	LegacyAuthToken            Legacy = 0xff
)

// Type is the structured multi-device message type.
type Type int

const (
	// TypeInvalid is the explicit sentinel for unknown legacy codes.
	TypeInvalid Type = iota

	TypeText
	TypeDeprecatedImage
	TypeLocation
	TypeDeprecatedVideo
	TypeDeprecatedAudio
	TypeBallotCreate
	TypeBallotVote
	TypeFile
	TypeContactSetPhoto
	TypeContactDeletePhoto
	TypeContactRequestPhoto
	TypeGroupText
	TypeGroupLocation
	TypeGroupDeprecatedImage
	TypeGroupDeprecatedVideo
	TypeGroupDeprecatedAudio
	TypeGroupFile
	TypeGroupCreate
	TypeGroupRename
	TypeGroupLeave
	TypeGroupCallStart
	TypeGroupSetPhoto
	TypeGroupRequestSync
	TypeGroupBallotCreate
	TypeGroupBallotVote
	TypeGroupDeletePhoto
	TypeVoIPCallOffer
	TypeVoIPCallAnswer
	TypeVoIPICECandidate
	TypeVoIPCallHangup
	TypeVoIPCallRinging
	TypeDeliveryReceipt
	TypeGroupDeliveryReceipt
	TypeTypingIndicator
	TypeEdit
	TypeDelete
	TypeGroupEdit
	TypeGroupDelete
	TypeForwardSecurity
	TypeEmpty
	TypeAuthToken

	// Multi-device only categories with no legacy representation.
	TypeWebSessionResume
	TypeGroupJoinRequest
	TypeGroupJoinResponse
)

var legacyToType = map[Legacy]Type{
	LegacyText:                 TypeText,
	LegacyImage:                TypeDeprecatedImage,
	LegacyLocation:             TypeLocation,
	LegacyVideo:                TypeDeprecatedVideo,
	LegacyAudio:                TypeDeprecatedAudio,
	LegacyBallotCreate:         TypeBallotCreate,
	LegacyBallotVote:           TypeBallotVote,
	LegacyFile:                 TypeFile,
	LegacyContactSetPhoto:      TypeContactSetPhoto,
	LegacyContactDeletePhoto:   TypeContactDeletePhoto,
	LegacyContactRequestPhoto:  TypeContactRequestPhoto,
	LegacyGroupText:            TypeGroupText,
	LegacyGroupLocation:        TypeGroupLocation,
	LegacyGroupImage:           TypeGroupDeprecatedImage,
	LegacyGroupVideo:           TypeGroupDeprecatedVideo,
	LegacyGroupAudio:           TypeGroupDeprecatedAudio,
	LegacyGroupFile:            TypeGroupFile,
	LegacyGroupCreate:          TypeGroupCreate,
	LegacyGroupRename:          TypeGroupRename,
	LegacyGroupLeave:           TypeGroupLeave,
	LegacyGroupCallStart:       TypeGroupCallStart,
	LegacyGroupSetPhoto:        TypeGroupSetPhoto,
	LegacyGroupRequestSync:     TypeGroupRequestSync,
	LegacyGroupBallotCreate:    TypeGroupBallotCreate,
	LegacyGroupBallotVote:      TypeGroupBallotVote,
	LegacyGroupDeletePhoto:     TypeGroupDeletePhoto,
	LegacyVoIPCallOffer:        TypeVoIPCallOffer,
	LegacyVoIPCallAnswer:       TypeVoIPCallAnswer,
	LegacyVoIPICECandidate:     TypeVoIPICECandidate,
	LegacyVoIPCallHangup:       TypeVoIPCallHangup,
	LegacyVoIPCallRinging:      TypeVoIPCallRinging,
	LegacyDeliveryReceipt:      TypeDeliveryReceipt,
	LegacyGroupDeliveryReceipt: TypeGroupDeliveryReceipt,
	LegacyTypingIndicator:      TypeTypingIndicator,
	LegacyEdit:                 TypeEdit,
	LegacyDelete:               TypeDelete,
	LegacyGroupEdit:            TypeGroupEdit,
	LegacyGroupDelete:          TypeGroupDelete,
	LegacyForwardSecurity:      TypeForwardSecurity,
	LegacyEmpty:                TypeEmpty,
	LegacyAuthToken:            TypeAuthToken,
}

var typeToLegacy = func() map[Type]Legacy {
	m := make(map[Type]Legacy, len(legacyToType))
	for l, t := range legacyToType {
		m[t] = l
	}
	return m
}()

// FromLegacy maps a legacy code to its structured type. The mapping is
// total: unknown codes yield TypeInvalid, never an error.
func FromLegacy(code Legacy) Type {
	if t, ok := legacyToType[code]; ok {
		return t
	}
	return TypeInvalid
}

// NoLegacyError is returned by ToLegacy for message categories that exist
// only in the multi-device protocol. Callers treat it as a "do not
// reflect onto the chat server connection" signal, not a fatal error.
type NoLegacyError struct {
	Type Type
}

func (e *NoLegacyError) Error() string {
	return fmt.Sprintf("msgtype: %v has no legacy message type", e.Type)
}

// ToLegacy maps a structured type back to its legacy code. The inverse is
// partial: multi-device-only categories (forward security envelopes,
// web-session-resume, group-join handshakes) and TypeInvalid have no
// legacy representation. LegacyForwardSecurity exists for inbound frames
// only; the forward-security control channel never goes through this
// mapping on the way out.
func ToLegacy(t Type) (Legacy, error) {
	switch t {
	case TypeInvalid, TypeForwardSecurity, TypeWebSessionResume, TypeGroupJoinRequest, TypeGroupJoinResponse:
		return 0, &NoLegacyError{Type: t}
	}
	code, ok := typeToLegacy[t]
	if !ok {
		return 0, &NoLegacyError{Type: t}
	}
	return code, nil
}

// IsReflectable reports whether messages of this category are mirrored to
// the other devices in the group. Ephemeral and local-only types (typing
// indicators, auth tokens, empty keep-alive payloads, forward security
// control traffic, session handshakes) stay on this device.
func IsReflectable(t Type) bool {
	switch t {
	case TypeInvalid,
		TypeTypingIndicator,
		TypeAuthToken,
		TypeEmpty,
		TypeForwardSecurity,
		TypeWebSessionResume,
		TypeGroupJoinRequest,
		TypeGroupJoinResponse:
		return false
	}
	return true
}

// IsDeprecated reports whether the type is one of the retired media types
// that may still arrive from very old clients but are never sent and never
// persisted from reflected outgoing envelopes.
func IsDeprecated(t Type) bool {
	switch t {
	case TypeDeprecatedImage, TypeDeprecatedVideo, TypeDeprecatedAudio,
		TypeGroupDeprecatedImage, TypeGroupDeprecatedVideo, TypeGroupDeprecatedAudio:
		return true
	}
	return false
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

var typeNames = map[Type]string{
	TypeInvalid:              "invalid",
	TypeText:                 "text",
	TypeDeprecatedImage:      "image(deprecated)",
	TypeLocation:             "location",
	TypeDeprecatedVideo:      "video(deprecated)",
	TypeDeprecatedAudio:      "audio(deprecated)",
	TypeBallotCreate:         "ballotCreate",
	TypeBallotVote:           "ballotVote",
	TypeFile:                 "file",
	TypeContactSetPhoto:      "contactSetPhoto",
	TypeContactDeletePhoto:   "contactDeletePhoto",
	TypeContactRequestPhoto:  "contactRequestPhoto",
	TypeGroupText:            "groupText",
	TypeGroupLocation:        "groupLocation",
	TypeGroupDeprecatedImage: "groupImage(deprecated)",
	TypeGroupDeprecatedVideo: "groupVideo(deprecated)",
	TypeGroupDeprecatedAudio: "groupAudio(deprecated)",
	TypeGroupFile:            "groupFile",
	TypeGroupCreate:          "groupCreate",
	TypeGroupRename:          "groupRename",
	TypeGroupLeave:           "groupLeave",
	TypeGroupCallStart:       "groupCallStart",
	TypeGroupSetPhoto:        "groupSetPhoto",
	TypeGroupRequestSync:     "groupRequestSync",
	TypeGroupBallotCreate:    "groupBallotCreate",
	TypeGroupBallotVote:      "groupBallotVote",
	TypeGroupDeletePhoto:     "groupDeletePhoto",
	TypeVoIPCallOffer:        "voipCallOffer",
	TypeVoIPCallAnswer:       "voipCallAnswer",
	TypeVoIPICECandidate:     "voipICECandidate",
	TypeVoIPCallHangup:       "voipCallHangup",
	TypeVoIPCallRinging:      "voipCallRinging",
	TypeDeliveryReceipt:      "deliveryReceipt",
	TypeGroupDeliveryReceipt: "groupDeliveryReceipt",
	TypeTypingIndicator:      "typingIndicator",
	TypeEdit:                 "edit",
	TypeDelete:               "delete",
	TypeGroupEdit:            "groupEdit",
	TypeGroupDelete:          "groupDelete",
	TypeForwardSecurity:      "forwardSecurity",
	TypeEmpty:                "empty",
	TypeAuthToken:            "authToken",
	TypeWebSessionResume:     "webSessionResume",
	TypeGroupJoinRequest:     "groupJoinRequest",
	TypeGroupJoinResponse:    "groupJoinResponse",
}
