package session

import (
	"context"
	"errors"
	"time"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/event"
	"github.com/mbeoliero/convo/moderation"
	"github.com/mbeoliero/convo/pkg/errcode"
	"github.com/mbeoliero/convo/sdk"
	"github.com/mbeoliero/kit/log"
)

// Send submits a message optimistically: the pending entry appears in
// the store immediately with status sending, the realtime channel is
// tried first and the request/response call used as fallback. The
// returned PendingSend resolves to committed or failed, never stays
// ambiguous.
func (s *Session) Send(ctx context.Context, req entity.SendRequest) (*entity.PendingSend, error) {
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, errcode.ErrInvalidParam
	}

	p := &entity.PendingSend{
		LocalId:        newLocalId(),
		ConversationId: s.opts.ConversationId,
		SenderId:       s.opts.UserId,
		Request:        req,
		Status:         entity.SendStatusSending,
		CreatedAt:      entity.NowUnixMilli(),
	}
	s.store.ApplyOptimisticSend(p)
	s.notify()

	if s.Connected() && s.ch.Send(&event.SendMessageEvent{
		ClientMsgId: p.LocalId,
		Content:     req.Content,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	}) {
		// Confirmation is the server echo; bound the wait.
		s.armConfirm(p.LocalId)
		return p, nil
	}

	go s.fallbackSend(p)
	return p, nil
}

// fallbackSend routes a send through the collaborator API. The direct
// response is the confirmation; an error is a definitive failure.
func (s *Session) fallbackSend(p *entity.PendingSend) {
	msg, err := s.api.SendMessage(s.ctx, p.ConversationId, &sdk.SendMessageRequest{
		ClientMsgId: p.LocalId,
		Content:     p.Request.Content,
		ReplyTo:     p.Request.ReplyTo,
		Attachments: p.Request.Attachments,
	})
	if err != nil {
		log.Warn("fallback send failed: local_id=%s, error=%v", p.LocalId, err)
		if rbErr := s.store.RollbackSend(p.LocalId); rbErr != nil {
			log.Debug("rollback skipped: local_id=%s, error=%v", p.LocalId, rbErr)
		}
		s.notify()
		return
	}

	// The realtime echo may have raced us and committed already.
	if err := s.store.CommitSend(p.LocalId, msg); err != nil && !errors.Is(err, errcode.ErrPendingNotFound) {
		log.Warn("commit after fallback send failed: local_id=%s, error=%v", p.LocalId, err)
	}
	s.notify()
}

// RetrySend re-submits a failed pending send with its original payload.
func (s *Session) RetrySend(ctx context.Context, localId string) (*entity.PendingSend, error) {
	p, err := s.store.PendingSend(localId)
	if err != nil {
		return nil, err
	}
	if p.Status != entity.SendStatusFailed {
		return nil, errcode.ErrInvalidParam
	}
	if err := s.store.DiscardPending(localId); err != nil {
		return nil, err
	}
	return s.Send(ctx, p.Request)
}

// DiscardSend drops a failed pending send.
func (s *Session) DiscardSend(localId string) error {
	if err := s.store.DiscardPending(localId); err != nil {
		return err
	}
	s.notify()
	return nil
}

// EditMessage replaces a message's content. Editing someone else's
// message requires the edit_any permission against their live role.
// Edits go through the collaborator API on either path; the realtime
// moderation echo applies idempotently.
func (s *Session) EditMessage(ctx context.Context, messageId, content string) error {
	msg, err := s.store.Message(messageId)
	if err != nil {
		return err
	}
	if !msg.CanModify() {
		return errcode.ErrMessageDeleted
	}
	if msg.SenderId != s.opts.UserId {
		if err := s.authorize(moderation.ActionEditAny, msg.SenderId); err != nil {
			return err
		}
	}
	if content == msg.Content {
		return nil
	}

	updated, err := s.api.EditMessage(ctx, messageId, content)
	if err != nil {
		return err
	}

	editedAt := entity.NowUnixMilli()
	if updated.EditedAt != nil {
		editedAt = *updated.EditedAt
	}
	if err := s.store.ApplyEdit(messageId, updated.Content, editedAt); err != nil {
		return err
	}
	s.notify()
	return nil
}

// DeleteMessage tombstones a message. Deleting someone else's message
// requires the delete_any permission. The realtime path is tried first;
// the fallback API call serves when disconnected.
func (s *Session) DeleteMessage(ctx context.Context, messageId string) error {
	msg, err := s.store.Message(messageId)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}
	if msg.SenderId != s.opts.UserId {
		if err := s.authorize(moderation.ActionDeleteAny, msg.SenderId); err != nil {
			return err
		}
	}

	if !s.Connected() || !s.ch.Send(&event.DeleteMessageEvent{MessageId: messageId}) {
		if err := s.api.DeleteMessage(ctx, messageId); err != nil {
			return err
		}
	}
	s.store.ApplyDeletion(messageId)
	s.notify()
	return nil
}

// React toggles the local user's reaction on a message.
func (s *Session) React(ctx context.Context, messageId, emoji string) (added bool, err error) {
	msg, err := s.store.Message(messageId)
	if err != nil {
		return false, err
	}
	if !msg.CanModify() {
		return false, errcode.ErrMessageDeleted
	}

	added, err = s.api.React(ctx, messageId, emoji)
	if err != nil {
		return false, err
	}
	if err := s.store.ApplyReaction(messageId, emoji, s.opts.UserId, added); err != nil {
		return added, err
	}
	s.notify()
	return added, nil
}

// Pin toggles a message's pinned state; moderators and admins only.
func (s *Session) Pin(ctx context.Context, messageId string) (pinned bool, err error) {
	if !moderation.Can(s.store.RoleOf(s.opts.UserId), moderation.ActionPin, entity.RoleMember) {
		return false, errcode.ErrPermissionDenied
	}
	if _, err := s.store.Message(messageId); err != nil {
		return false, err
	}

	pinned, err = s.api.Pin(ctx, messageId)
	if err != nil {
		return false, err
	}
	if err := s.store.ApplyPin(messageId, pinned); err != nil {
		return pinned, err
	}
	s.notify()
	return pinned, nil
}

// Announce toggles a message's announcement state; moderators and
// admins only.
func (s *Session) Announce(ctx context.Context, messageId string) (announced bool, err error) {
	if !moderation.Can(s.store.RoleOf(s.opts.UserId), moderation.ActionAnnounce, entity.RoleMember) {
		return false, errcode.ErrPermissionDenied
	}
	if _, err := s.store.Message(messageId); err != nil {
		return false, err
	}

	announced, err = s.api.Announce(ctx, messageId)
	if err != nil {
		return false, err
	}
	if err := s.store.ApplyAnnouncement(messageId, announced); err != nil {
		return announced, err
	}
	s.notify()
	return announced, nil
}

// Promote raises a participant to the given role.
func (s *Session) Promote(ctx context.Context, userId string, to entity.Role) error {
	action, ok := moderation.PromoteAction(to)
	if !ok {
		return errcode.ErrInvalidParam
	}
	if err := s.authorizeTargeted(action, userId); err != nil {
		return err
	}
	return s.rosterAction(ctx, userId, to, func() error {
		return s.api.Promote(ctx, s.opts.ConversationId, userId, to)
	})
}

// Demote lowers a participant to the given role.
func (s *Session) Demote(ctx context.Context, userId string, to entity.Role) error {
	if !to.Valid() {
		return errcode.ErrInvalidParam
	}
	if err := s.authorizeTargeted(moderation.ActionDemote, userId); err != nil {
		return err
	}
	return s.rosterAction(ctx, userId, to, func() error {
		return s.api.Demote(ctx, s.opts.ConversationId, userId, to)
	})
}

// RemoveParticipant removes a participant from the conversation.
func (s *Session) RemoveParticipant(ctx context.Context, userId string) error {
	if err := s.authorizeTargeted(moderation.ActionRemoveMember, userId); err != nil {
		return err
	}

	err := s.api.RemoveParticipant(ctx, s.opts.ConversationId, userId)
	if err != nil {
		if errors.Is(err, errcode.ErrConflict) {
			s.refreshRoster(ctx)
		}
		return err
	}
	s.store.RemoveParticipant(userId)
	s.notify()
	return nil
}

// rosterAction runs a role change and applies the result, refreshing the
// roster when the server reports a concurrent change.
func (s *Session) rosterAction(ctx context.Context, userId string, to entity.Role, call func() error) error {
	if err := call(); err != nil {
		if errors.Is(err, errcode.ErrConflict) {
			s.refreshRoster(ctx)
		}
		return err
	}
	if err := s.store.ApplyRoleChange(userId, to); err != nil {
		return err
	}
	s.notify()
	return nil
}

// authorize checks a non-targeted-by-id action against the live roster.
func (s *Session) authorize(action moderation.Action, targetUserId string) error {
	actorRole := s.store.RoleOf(s.opts.UserId)
	targetRole := s.store.RoleOf(targetUserId)
	if !moderation.Can(actorRole, action, targetRole) {
		return errcode.ErrPermissionDenied
	}
	return nil
}

// authorizeTargeted additionally rejects self-targeting and requires the
// target to be on the roster. Roles are read at call time, never from a
// cache, since promotions can occur mid-session.
func (s *Session) authorizeTargeted(action moderation.Action, targetUserId string) error {
	if targetUserId == s.opts.UserId {
		return errcode.ErrSelfTarget
	}
	if !s.store.HasParticipant(targetUserId) {
		return errcode.ErrParticipantNotFound
	}
	return s.authorize(action, targetUserId)
}

// refreshRoster re-fetches the conversation and replaces the roster
// after a conflict.
func (s *Session) refreshRoster(ctx context.Context) {
	conv, err := s.api.FetchHistory(ctx, s.opts.ConversationId)
	if err != nil {
		log.CtxWarn(ctx, "roster refresh failed: conversation_id=%s, error=%v", s.opts.ConversationId, err)
		return
	}
	s.store.ReplaceRoster(conv.Participants)
	s.notify()
}

// Typing broadcasts the local user's typing state. It is realtime-only:
// when the channel is down it is suppressed client-side rather than
// attempted and failed. Start broadcasts are throttled; a stop is always
// let through and an auto-stop fires after the typing TTL.
func (s *Session) Typing(isTyping bool) {
	if !s.Connected() {
		return
	}

	if !isTyping {
		s.mu.Lock()
		if s.typingStop != nil {
			s.typingStop.Stop()
			s.typingStop = nil
		}
		s.mu.Unlock()
		s.ch.Send(&event.TypingBroadcast{IsTyping: false})
		return
	}

	s.mu.Lock()
	if s.typingStop != nil {
		s.typingStop.Stop()
	}
	s.typingStop = time.AfterFunc(s.opts.TypingTTL, func() {
		if s.Connected() {
			s.ch.Send(&event.TypingBroadcast{IsTyping: false})
		}
	})
	s.mu.Unlock()

	if s.typingLimiter.Allow() {
		s.ch.Send(&event.TypingBroadcast{IsTyping: true})
	}
}

// MarkRead records the local user's read receipts. Receipts ride the
// realtime channel when connected and the batch API otherwise; either
// way the store applies them monotonically.
func (s *Session) MarkRead(ctx context.Context, messageIds ...string) error {
	if s.Connected() {
		var changed []string
		for _, id := range messageIds {
			if s.store.MarkRead(s.opts.UserId, id) {
				changed = append(changed, id)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		s.notify()
		for _, id := range changed {
			s.ch.Send(&event.ReadReceiptAck{MessageId: id})
		}
		return nil
	}

	// Degraded: the batch call lands before the store applies, so a
	// failed call leaves the ids unread locally and a retry re-sends
	// them.
	unread := s.store.Unread(s.opts.UserId, messageIds)
	if len(unread) == 0 {
		return nil
	}
	if err := s.api.MarkRead(ctx, s.opts.ConversationId, unread); err != nil {
		return err
	}
	for _, id := range unread {
		s.store.MarkRead(s.opts.UserId, id)
	}
	s.notify()
	return nil
}
