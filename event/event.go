package event

import (
	"encoding/json"

	"github.com/mbeoliero/convo/entity"
)

// Type identifies one kind of event on the conversation channel.
type Type string

// Inbound event types
const (
	TypeMessage          Type = "message"
	TypeTyping           Type = "typing"
	TypeReadReceipt      Type = "read_receipt"
	TypeMessageDeleted   Type = "message_deleted"
	TypeModerationUpdate Type = "moderation_update"
	TypePresence         Type = "presence"
)

// Outbound event types
const (
	TypeAuth          Type = "auth"
	TypeDeleteMessage Type = "delete_message"
)

// Moderation update fields
const (
	FieldContent      = "content"
	FieldPinned       = "is_pinned"
	FieldAnnouncement = "is_announcement"
	FieldRole         = "role"
	FieldRemoved      = "removed"
	FieldReaction     = "reaction"
)

// Event is a decoded inbound event. The set of implementations is closed:
// MessageEvent, TypingEvent, ReadReceiptEvent, MessageDeletedEvent,
// ModerationUpdateEvent and PresenceEvent.
type Event interface {
	EventType() Type
}

// MessageEvent carries a new message pushed by the server, including the
// echo of the client's own sends.
type MessageEvent struct {
	Message *entity.Message `json:"message"`
}

func (MessageEvent) EventType() Type { return TypeMessage }

// TypingEvent signals that a user started or stopped typing.
type TypingEvent struct {
	UserId   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

func (TypingEvent) EventType() Type { return TypeTyping }

// ReadReceiptEvent signals that a user has read a message.
type ReadReceiptEvent struct {
	UserId    string `json:"user_id"`
	MessageId string `json:"message_id"`
}

func (ReadReceiptEvent) EventType() Type { return TypeReadReceipt }

// MessageDeletedEvent signals that a message was deleted server side.
type MessageDeletedEvent struct {
	MessageId string `json:"message_id"`
}

func (MessageDeletedEvent) EventType() Type { return TypeMessageDeleted }

// ModerationUpdateEvent carries a single field change on a message or a
// roster entry: edits, pin/announcement toggles, role changes, removals
// and reaction count updates all arrive in this shape.
type ModerationUpdateEvent struct {
	MessageId string          `json:"message_id,omitempty"`
	UserId    string          `json:"user_id,omitempty"`
	Field     string          `json:"field"`
	Value     json.RawMessage `json:"value,omitempty"`
	EditedAt  int64           `json:"edited_at,omitempty"`
}

func (ModerationUpdateEvent) EventType() Type { return TypeModerationUpdate }

// BoolValue decodes the value as a bool.
func (e *ModerationUpdateEvent) BoolValue() (bool, error) {
	var v bool
	err := json.Unmarshal(e.Value, &v)
	return v, err
}

// StringValue decodes the value as a string.
func (e *ModerationUpdateEvent) StringValue() (string, error) {
	var v string
	err := json.Unmarshal(e.Value, &v)
	return v, err
}

// RoleValue decodes the value as a participant role.
func (e *ModerationUpdateEvent) RoleValue() (entity.Role, error) {
	s, err := e.StringValue()
	if err != nil {
		return "", err
	}
	return entity.ParseRole(s)
}

// ReactionValue decodes the value of a reaction update.
func (e *ModerationUpdateEvent) ReactionValue() (*ReactionValue, error) {
	var v ReactionValue
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ReactionValue is the payload of a reaction moderation update.
type ReactionValue struct {
	Emoji  string `json:"emoji"`
	UserId string `json:"user_id"`
	Added  bool   `json:"added"`
}

// PresenceEvent signals a user going online or offline.
type PresenceEvent struct {
	UserId string `json:"user_id"`
	Online bool   `json:"online"`
}

func (PresenceEvent) EventType() Type { return TypePresence }

// Outbound is an event the client writes to the channel. The set of
// implementations is closed: AuthEvent, SendMessageEvent, TypingBroadcast,
// ReadReceiptAck and DeleteMessageEvent.
type Outbound interface {
	OutboundType() Type
}

// AuthEvent authenticates the connection; it is written before any
// application traffic when credentials were supplied.
type AuthEvent struct {
	Token string `json:"token"`
}

func (AuthEvent) OutboundType() Type { return TypeAuth }

// SendMessageEvent submits a new message. ClientMsgId carries the local
// id of the pending send so the server echo can be matched to it.
type SendMessageEvent struct {
	ClientMsgId string              `json:"client_msg_id"`
	Content     string              `json:"content,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachments []entity.Attachment `json:"attachments,omitempty"`
}

func (SendMessageEvent) OutboundType() Type { return TypeMessage }

// TypingBroadcast announces the local user's typing state.
type TypingBroadcast struct {
	IsTyping bool `json:"is_typing"`
}

func (TypingBroadcast) OutboundType() Type { return TypeTyping }

// ReadReceiptAck marks a message as read by the local user.
type ReadReceiptAck struct {
	MessageId string `json:"message_id"`
}

func (ReadReceiptAck) OutboundType() Type { return TypeReadReceipt }

// DeleteMessageEvent requests deletion of a message.
type DeleteMessageEvent struct {
	MessageId string `json:"message_id"`
}

func (DeleteMessageEvent) OutboundType() Type { return TypeDeleteMessage }
