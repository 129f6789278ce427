package event

import (
	"encoding/json"
	"fmt"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/pkg/errcode"
)

// envelope is the wire shape of a frame: a flat JSON object with a type
// tag and the fields of whichever event it carries.
type envelope struct {
	Type Type `json:"type"`

	Message *entity.Message `json:"message,omitempty"`

	UserId    string `json:"user_id,omitempty"`
	MessageId string `json:"message_id,omitempty"`
	IsTyping  *bool  `json:"is_typing,omitempty"`
	Online    *bool  `json:"online,omitempty"`

	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	EditedAt int64           `json:"edited_at,omitempty"`

	Token       string              `json:"token,omitempty"`
	ClientMsgId string              `json:"client_msg_id,omitempty"`
	Content     string              `json:"content,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachments []entity.Attachment `json:"attachments,omitempty"`
}

// ErrUnknownType is returned by Decode for a frame whose type tag is not
// one of the known inbound events. Callers log and drop these frames.
type ErrUnknownType struct {
	Type Type
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// Decode decodes an inbound frame into a typed event.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errcode.ErrDecodeFailed.Wrap(err)
	}

	switch env.Type {
	case TypeMessage:
		if env.Message == nil {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("message event without message"))
		}
		return &MessageEvent{Message: env.Message}, nil

	case TypeTyping:
		if env.UserId == "" || env.IsTyping == nil {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("typing event missing user_id or is_typing"))
		}
		return &TypingEvent{UserId: env.UserId, IsTyping: *env.IsTyping}, nil

	case TypeReadReceipt:
		if env.UserId == "" || env.MessageId == "" {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("read receipt missing user_id or message_id"))
		}
		return &ReadReceiptEvent{UserId: env.UserId, MessageId: env.MessageId}, nil

	case TypeMessageDeleted:
		if env.MessageId == "" {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("message_deleted missing message_id"))
		}
		return &MessageDeletedEvent{MessageId: env.MessageId}, nil

	case TypeModerationUpdate:
		if env.Field == "" {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("moderation_update missing field"))
		}
		ev := &ModerationUpdateEvent{
			MessageId: env.MessageId,
			UserId:    env.UserId,
			Field:     env.Field,
			Value:     env.Value,
			EditedAt:  env.EditedAt,
		}
		// Unknown roles are a decode failure, not a half-applied update.
		if ev.Field == FieldRole {
			if _, err := ev.RoleValue(); err != nil {
				return nil, errcode.ErrDecodeFailed.Wrap(err)
			}
		}
		return ev, nil

	case TypePresence:
		if env.UserId == "" || env.Online == nil {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("presence missing user_id or online"))
		}
		return &PresenceEvent{UserId: env.UserId, Online: *env.Online}, nil
	}

	return nil, &ErrUnknownType{Type: env.Type}
}

// EncodeServer encodes a server-pushed event into its wire frame. It is
// the mirror of Decode and is used by the development server and by
// tests that fabricate server traffic.
func EncodeServer(ev Event) ([]byte, error) {
	env := envelope{Type: ev.EventType()}

	switch e := ev.(type) {
	case *MessageEvent:
		env.Message = e.Message
	case *TypingEvent:
		env.UserId = e.UserId
		env.IsTyping = &e.IsTyping
	case *ReadReceiptEvent:
		env.UserId = e.UserId
		env.MessageId = e.MessageId
	case *MessageDeletedEvent:
		env.MessageId = e.MessageId
	case *ModerationUpdateEvent:
		env.MessageId = e.MessageId
		env.UserId = e.UserId
		env.Field = e.Field
		env.Value = e.Value
		env.EditedAt = e.EditedAt
	case *PresenceEvent:
		env.UserId = e.UserId
		env.Online = &e.Online
	default:
		return nil, fmt.Errorf("unsupported server event %T", ev)
	}

	return json.Marshal(env)
}

// DecodeClient decodes a client-written frame into a typed outbound
// event. It is the mirror of Encode.
func DecodeClient(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errcode.ErrDecodeFailed.Wrap(err)
	}

	switch env.Type {
	case TypeAuth:
		if env.Token == "" {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("auth event without token"))
		}
		return &AuthEvent{Token: env.Token}, nil

	case TypeMessage:
		if env.ClientMsgId == "" {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("send without client_msg_id"))
		}
		return &SendMessageEvent{
			ClientMsgId: env.ClientMsgId,
			Content:     env.Content,
			ReplyTo:     env.ReplyTo,
			Attachments: env.Attachments,
		}, nil

	case TypeTyping:
		if env.IsTyping == nil {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("typing broadcast missing is_typing"))
		}
		return &TypingBroadcast{IsTyping: *env.IsTyping}, nil

	case TypeReadReceipt:
		if env.MessageId == "" {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("read receipt missing message_id"))
		}
		return &ReadReceiptAck{MessageId: env.MessageId}, nil

	case TypeDeleteMessage:
		if env.MessageId == "" {
			return nil, errcode.ErrDecodeFailed.Wrap(fmt.Errorf("delete request missing message_id"))
		}
		return &DeleteMessageEvent{MessageId: env.MessageId}, nil
	}

	return nil, &ErrUnknownType{Type: env.Type}
}

// Encode encodes an outbound event into its wire frame.
func Encode(ev Outbound) ([]byte, error) {
	env := envelope{Type: ev.OutboundType()}

	switch e := ev.(type) {
	case *AuthEvent:
		env.Token = e.Token
	case *SendMessageEvent:
		env.ClientMsgId = e.ClientMsgId
		env.Content = e.Content
		env.ReplyTo = e.ReplyTo
		env.Attachments = e.Attachments
	case *TypingBroadcast:
		env.IsTyping = &e.IsTyping
	case *ReadReceiptAck:
		env.MessageId = e.MessageId
	case *DeleteMessageEvent:
		env.MessageId = e.MessageId
	default:
		return nil, fmt.Errorf("unsupported outbound event %T", ev)
	}

	return json.Marshal(env)
}
