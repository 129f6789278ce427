package server

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/event"
	"github.com/mbeoliero/convo/internal/middleware"
	"github.com/mbeoliero/convo/moderation"
	"github.com/mbeoliero/convo/pkg/errcode"
	"github.com/mbeoliero/convo/pkg/jwt"
	"github.com/mbeoliero/convo/pkg/response"
	"github.com/mbeoliero/convo/sdk"
)

// Login authenticates a user and issues a token.
func (s *Server) Login(ctx context.Context, c *app.RequestContext) {
	var req sdk.LoginRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := s.room.Authenticate(req.UserId, req.Password); err != nil {
		response.Error(ctx, c, err)
		return
	}

	expire := time.Duration(s.cfg.JWT.ExpireHours) * time.Hour
	token, err := jwt.GenerateToken(req.UserId, s.cfg.JWT.Secret, expire)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, &sdk.LoginResponse{Token: token, UserId: req.UserId})
}

// GetConversation returns the full conversation as seen by the caller.
func (s *Server) GetConversation(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if err := s.checkConversation(c); err != nil {
		response.Error(ctx, c, err)
		return
	}

	conv, err := s.room.Snapshot(userId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, conv)
}

// SendMessage stores a message through the request/response path and
// echoes it to realtime subscribers.
func (s *Server) SendMessage(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if err := s.checkConversation(c); err != nil {
		response.Error(ctx, c, err)
		return
	}

	var req sdk.SendMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	msg, err := s.room.AppendMessage(userId, &entity.SendRequest{
		Content:     req.Content,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	}, req.ClientMsgId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	s.broadcastEvent(&event.MessageEvent{Message: msg}, "")
	response.Success(ctx, c, msg)
}

// MarkRead records read receipts for the caller.
func (s *Server) MarkRead(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if err := s.checkConversation(c); err != nil {
		response.Error(ctx, c, err)
		return
	}

	var req sdk.MarkReadRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	changed, err := s.room.MarkRead(userId, req.MessageIds)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	for _, id := range changed {
		s.broadcastEvent(&event.ReadReceiptEvent{UserId: userId, MessageId: id}, "")
	}
	response.Success(ctx, c, nil)
}

// EditMessage replaces a message's content.
func (s *Server) EditMessage(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	messageId := c.Param("id")

	var req sdk.EditMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	msg, err := s.room.EditMessage(userId, messageId, req.Content)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	if msg.EditedAt != nil {
		s.broadcastEvent(&event.ModerationUpdateEvent{
			MessageId: messageId,
			Field:     event.FieldContent,
			Value:     moderationValue(msg.Content),
			EditedAt:  *msg.EditedAt,
		}, "")
	}
	response.Success(ctx, c, msg)
}

// DeleteMessage tombstones a message.
func (s *Server) DeleteMessage(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	messageId := c.Param("id")

	if err := s.room.DeleteMessage(userId, messageId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	s.broadcastEvent(&event.MessageDeletedEvent{MessageId: messageId}, "")
	response.Success(ctx, c, nil)
}

// React toggles the caller's reaction on a message.
func (s *Server) React(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	messageId := c.Param("id")

	var req sdk.ReactRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	added, err := s.room.React(userId, messageId, req.Emoji)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	s.broadcastEvent(&event.ModerationUpdateEvent{
		MessageId: messageId,
		Field:     event.FieldReaction,
		Value: moderationValue(&event.ReactionValue{
			Emoji:  req.Emoji,
			UserId: userId,
			Added:  added,
		}),
	}, "")
	response.Success(ctx, c, &sdk.ReactResponse{Added: added})
}

// Pin toggles a message's pinned state.
func (s *Server) Pin(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	messageId := c.Param("id")

	pinned, err := s.room.Pin(userId, messageId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	s.broadcastEvent(&event.ModerationUpdateEvent{
		MessageId: messageId,
		Field:     event.FieldPinned,
		Value:     moderationValue(pinned),
	}, "")
	response.Success(ctx, c, &sdk.PinResponse{Pinned: pinned})
}

// Announce toggles a message's announcement state.
func (s *Server) Announce(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	messageId := c.Param("id")

	announced, err := s.room.Announce(userId, messageId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	s.broadcastEvent(&event.ModerationUpdateEvent{
		MessageId: messageId,
		Field:     event.FieldAnnouncement,
		Value:     moderationValue(announced),
	}, "")
	response.Success(ctx, c, &sdk.AnnounceResponse{Announced: announced})
}

// Promote raises a participant's role.
func (s *Server) Promote(ctx context.Context, c *app.RequestContext) {
	s.changeRole(ctx, c, true)
}

// Demote lowers a participant's role.
func (s *Server) Demote(ctx context.Context, c *app.RequestContext) {
	s.changeRole(ctx, c, false)
}

func (s *Server) changeRole(ctx context.Context, c *app.RequestContext, promote bool) {
	userId := middleware.GetUserId(c)
	if err := s.checkConversation(c); err != nil {
		response.Error(ctx, c, err)
		return
	}

	var req sdk.RoleChangeRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	if !req.Role.Valid() {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	action := moderationActionFor(req.Role, promote)
	if action == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := s.room.ChangeRole(userId, req.UserId, req.Role, action); err != nil {
		response.Error(ctx, c, err)
		return
	}

	s.broadcastEvent(&event.ModerationUpdateEvent{
		UserId: req.UserId,
		Field:  event.FieldRole,
		Value:  moderationValue(string(req.Role)),
	}, "")
	response.Success(ctx, c, nil)
}

// RemoveParticipant removes a participant from the conversation.
func (s *Server) RemoveParticipant(ctx context.Context, c *app.RequestContext) {
	userId := middleware.GetUserId(c)
	if err := s.checkConversation(c); err != nil {
		response.Error(ctx, c, err)
		return
	}

	var req sdk.RemoveParticipantRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := s.room.RemoveParticipant(userId, req.UserId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	s.broadcastEvent(&event.ModerationUpdateEvent{
		UserId: req.UserId,
		Field:  event.FieldRemoved,
		Value:  moderationValue(true),
	}, "")
	response.Success(ctx, c, nil)
}

// moderationActionFor maps a role change onto the permission it needs.
// An empty action means the combination is invalid.
func moderationActionFor(to entity.Role, promote bool) moderation.Action {
	if !promote {
		return moderation.ActionDemote
	}
	if action, ok := moderation.PromoteAction(to); ok {
		return action
	}
	return ""
}

// checkConversation rejects requests addressed to a conversation this
// server does not host.
func (s *Server) checkConversation(c *app.RequestContext) error {
	if c.Param("id") != s.room.conv.Id {
		return errcode.ErrConvNotFound
	}
	return nil
}
