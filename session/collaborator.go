package session

import (
	"context"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/event"
	"github.com/mbeoliero/convo/sdk"
	"github.com/mbeoliero/convo/transport"
)

// Collaborator is the request/response API the session consumes: the
// history source on open, and the whole action surface in degraded mode.
// *sdk.Client implements it.
type Collaborator interface {
	FetchHistory(ctx context.Context, conversationId string) (*entity.Conversation, error)
	SendMessage(ctx context.Context, conversationId string, req *sdk.SendMessageRequest) (*entity.Message, error)
	EditMessage(ctx context.Context, messageId, content string) (*entity.Message, error)
	DeleteMessage(ctx context.Context, messageId string) error
	React(ctx context.Context, messageId, emoji string) (added bool, err error)
	Pin(ctx context.Context, messageId string) (pinned bool, err error)
	Announce(ctx context.Context, messageId string) (announced bool, err error)
	Promote(ctx context.Context, conversationId, userId string, to entity.Role) error
	Demote(ctx context.Context, conversationId, userId string, to entity.Role) error
	RemoveParticipant(ctx context.Context, conversationId, userId string) error
	MarkRead(ctx context.Context, conversationId string, messageIds []string) error
}

// Channel is the realtime transport surface the session drives.
// *transport.Channel implements it.
type Channel interface {
	Open(ctx context.Context) error
	Send(ev event.Outbound) bool
	State() transport.State
	Close() error
}

// ChannelFactory builds the realtime channel for one session, wiring the
// session's frame sink and state listener into it.
type ChannelFactory func(onFrame func([]byte), onState func(transport.State)) Channel
