package server

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/moderation"
	"github.com/mbeoliero/convo/pkg/errcode"
	"github.com/mbeoliero/convo/pkg/idgen"
)

// User is a registered account on the development server.
type User struct {
	UserId       string
	Nickname     string
	PasswordHash []byte
}

// Room holds the authoritative state of one conversation in memory.
// All mutations go through its mutex; permission checks run against the
// live roster so a demotion takes effect on the next call.
type Room struct {
	mu    sync.Mutex
	conv  *entity.Conversation
	users map[string]*User

	// reactions tracks who reacted with what, per message. The entity
	// only carries aggregate counts plus the viewer's own set.
	reactions map[string]map[string]map[string]bool
}

// NewRoom creates an empty room for one conversation.
func NewRoom(conversationId, name string, isGroup bool) *Room {
	return &Room{
		conv: &entity.Conversation{
			Id:        conversationId,
			Name:      name,
			IsGroup:   isGroup,
			UpdatedAt: entity.NowUnixMilli(),
		},
		users:     make(map[string]*User),
		reactions: make(map[string]map[string]map[string]bool),
	}
}

// AddUser registers an account and puts it on the roster.
func (r *Room) AddUser(userId, nickname, password string, role entity.Role) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[userId] = &User{UserId: userId, Nickname: nickname, PasswordHash: hash}
	if r.conv.Participant(userId) == nil {
		r.conv.Participants = append(r.conv.Participants, &entity.Participant{
			UserId:   userId,
			Nickname: nickname,
			Role:     role,
			JoinedAt: entity.NowUnixMilli(),
		})
	}
	return nil
}

// Authenticate checks a user's password.
func (r *Room) Authenticate(userId, password string) error {
	r.mu.Lock()
	u, ok := r.users[userId]
	r.mu.Unlock()

	if !ok {
		return errcode.ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return errcode.ErrPasswordWrong
	}
	return nil
}

// Snapshot returns a deep copy of the conversation as seen by forUserId,
// with the viewer's own reaction set filled in per message.
func (r *Room) Snapshot(forUserId string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conv.Participant(forUserId) == nil {
		return nil, errcode.ErrNotParticipant
	}

	cp := *r.conv
	cp.Messages = make([]*entity.Message, 0, len(r.conv.Messages))
	for _, m := range r.conv.Messages {
		cp.Messages = append(cp.Messages, r.viewLocked(m, forUserId))
	}
	cp.Participants = make([]*entity.Participant, 0, len(r.conv.Participants))
	for _, p := range r.conv.Participants {
		pc := *p
		cp.Participants = append(cp.Participants, &pc)
	}
	cp.Tags = append([]string(nil), r.conv.Tags...)
	cp.PinnedMessageIds = append([]string(nil), r.conv.PinnedMessageIds...)
	return &cp, nil
}

// viewLocked clones a message and fills UserReactions for the viewer.
func (r *Room) viewLocked(m *entity.Message, forUserId string) *entity.Message {
	clone := m.Clone()
	clone.UserReactions = nil
	for emoji, who := range r.reactions[m.Id] {
		if who[forUserId] {
			clone.UserReactions = append(clone.UserReactions, emoji)
		}
	}
	return clone
}

// AppendMessage stores a new message. Resends with a client_msg_id the
// room has already seen from the same sender return the stored message,
// keeping the operation idempotent across transport retries.
func (r *Room) AppendMessage(senderId string, req *entity.SendRequest, clientMsgId string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conv.Participant(senderId) == nil {
		return nil, errcode.ErrNotParticipant
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, errcode.ErrInvalidParam
	}

	if clientMsgId != "" {
		for i := len(r.conv.Messages) - 1; i >= 0; i-- {
			m := r.conv.Messages[i]
			if m.ClientMsgId == clientMsgId && m.SenderId == senderId {
				return m.Clone(), nil
			}
		}
	}

	id, err := idgen.NextID()
	if err != nil {
		return nil, errcode.ErrInternalServer.Wrap(err)
	}

	msg := &entity.Message{
		Id:             id,
		ConversationId: r.conv.Id,
		ClientMsgId:    clientMsgId,
		SenderId:       senderId,
		Content:        req.Content,
		Attachments:    append([]entity.Attachment(nil), req.Attachments...),
		ReplyTo:        req.ReplyTo,
		SentAt:         entity.NowUnixMilli(),
		ReadBy:         []string{senderId},
	}
	r.conv.Messages = append(r.conv.Messages, msg)
	r.conv.UpdatedAt = msg.SentAt
	return msg.Clone(), nil
}

// EditMessage replaces a message's content. Editing another user's
// message requires the edit_any permission against their live role.
// Submitting the current content is a no-op and does not bump edited_at.
func (r *Room) EditMessage(actorId, messageId, content string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.messageLocked(messageId)
	if err != nil {
		return nil, err
	}
	if !msg.CanModify() {
		return nil, errcode.ErrMessageDeleted
	}
	if err := r.authorizeOnMessageLocked(actorId, msg, moderation.ActionEditAny); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, errcode.ErrInvalidParam
	}
	if content == msg.Content {
		return msg.Clone(), nil
	}

	now := entity.NowUnixMilli()
	msg.Content = content
	msg.EditedAt = &now
	r.conv.UpdatedAt = now
	return msg.Clone(), nil
}

// DeleteMessage tombstones a message and drops it from the pinned set.
func (r *Room) DeleteMessage(actorId, messageId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.messageLocked(messageId)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}
	if err := r.authorizeOnMessageLocked(actorId, msg, moderation.ActionDeleteAny); err != nil {
		return err
	}

	msg.Tombstone()
	r.unpinLocked(messageId)
	msg.IsPinned = false
	delete(r.reactions, messageId)
	r.conv.UpdatedAt = entity.NowUnixMilli()
	return nil
}

// React toggles actorId's reaction on a message and reports whether it
// was added.
func (r *Room) React(actorId, messageId, emoji string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conv.Participant(actorId) == nil {
		return false, errcode.ErrNotParticipant
	}
	msg, err := r.messageLocked(messageId)
	if err != nil {
		return false, err
	}
	if !msg.CanModify() {
		return false, errcode.ErrMessageDeleted
	}
	if emoji == "" {
		return false, errcode.ErrInvalidParam
	}

	byEmoji := r.reactions[messageId]
	if byEmoji == nil {
		byEmoji = make(map[string]map[string]bool)
		r.reactions[messageId] = byEmoji
	}
	who := byEmoji[emoji]
	if who == nil {
		who = make(map[string]bool)
		byEmoji[emoji] = who
	}

	added := !who[actorId]
	if added {
		who[actorId] = true
	} else {
		delete(who, actorId)
	}

	if msg.ReactionCounts == nil {
		msg.ReactionCounts = make(map[string]int64)
	}
	msg.ReactionCounts[emoji] = int64(len(who))
	if msg.ReactionCounts[emoji] == 0 {
		delete(msg.ReactionCounts, emoji)
	}
	return added, nil
}

// Pin toggles a message's pinned state and reports the new state. The
// pinned set stays most-recent-first.
func (r *Room) Pin(actorId, messageId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !moderation.Can(r.conv.RoleOf(actorId), moderation.ActionPin, entity.RoleMember) {
		return false, errcode.ErrPermissionDenied
	}
	msg, err := r.messageLocked(messageId)
	if err != nil {
		return false, err
	}
	if !msg.CanModify() {
		return false, errcode.ErrMessageDeleted
	}

	msg.IsPinned = !msg.IsPinned
	if msg.IsPinned {
		r.conv.PinnedMessageIds = append([]string{messageId}, r.conv.PinnedMessageIds...)
	} else {
		r.unpinLocked(messageId)
	}
	r.conv.UpdatedAt = entity.NowUnixMilli()
	return msg.IsPinned, nil
}

// Announce toggles a message's announcement state and reports the new
// state.
func (r *Room) Announce(actorId, messageId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !moderation.Can(r.conv.RoleOf(actorId), moderation.ActionAnnounce, entity.RoleMember) {
		return false, errcode.ErrPermissionDenied
	}
	msg, err := r.messageLocked(messageId)
	if err != nil {
		return false, err
	}
	if !msg.CanModify() {
		return false, errcode.ErrMessageDeleted
	}

	msg.IsAnnouncement = !msg.IsAnnouncement
	r.conv.UpdatedAt = entity.NowUnixMilli()
	return msg.IsAnnouncement, nil
}

// ChangeRole promotes or demotes a participant. A target that has left
// the roster, or that already holds the requested role, reports a
// conflict so the caller refreshes its roster view.
func (r *Room) ChangeRole(actorId, userId string, to entity.Role, action moderation.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actorId == userId {
		return errcode.ErrSelfTarget
	}
	target := r.conv.Participant(userId)
	if target == nil {
		return errcode.ErrConflict
	}
	if target.Role == to {
		return errcode.ErrConflict
	}
	if !moderation.Can(r.conv.RoleOf(actorId), action, target.Role) {
		return errcode.ErrPermissionDenied
	}

	target.Role = to
	r.conv.UpdatedAt = entity.NowUnixMilli()
	return nil
}

// RemoveParticipant removes a participant. An already-removed target
// reports a conflict.
func (r *Room) RemoveParticipant(actorId, userId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actorId == userId {
		return errcode.ErrSelfTarget
	}
	target := r.conv.Participant(userId)
	if target == nil {
		return errcode.ErrConflict
	}
	if !moderation.Can(r.conv.RoleOf(actorId), moderation.ActionRemoveMember, target.Role) {
		return errcode.ErrPermissionDenied
	}

	for i, p := range r.conv.Participants {
		if p.UserId == userId {
			r.conv.Participants = append(r.conv.Participants[:i:i], r.conv.Participants[i+1:]...)
			break
		}
	}
	r.conv.UpdatedAt = entity.NowUnixMilli()
	return nil
}

// MarkRead marks messages as read by userId and returns the ids whose
// read_by set actually changed.
func (r *Room) MarkRead(userId string, messageIds []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conv.Participant(userId) == nil {
		return nil, errcode.ErrNotParticipant
	}

	var changed []string
	for _, id := range messageIds {
		msg := r.conv.Message(id)
		if msg == nil || msg.ReadByUser(userId) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, userId)
		changed = append(changed, id)
	}
	return changed, nil
}

// SetPresence updates a roster entry's online flag and reports whether
// it changed.
func (r *Room) SetPresence(userId string, online bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.conv.Participant(userId)
	if p == nil || p.Online == online {
		return false
	}
	p.Online = online
	return true
}

// HasUser reports whether userId is on the roster.
func (r *Room) HasUser(userId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.Participant(userId) != nil
}

// View returns the message with UserReactions filled for forUserId.
func (r *Room) View(messageId, forUserId string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.messageLocked(messageId)
	if err != nil {
		return nil, err
	}
	return r.viewLocked(msg, forUserId), nil
}

func (r *Room) messageLocked(messageId string) (*entity.Message, error) {
	if msg := r.conv.Message(messageId); msg != nil {
		return msg, nil
	}
	return nil, errcode.ErrMessageNotFound
}

func (r *Room) unpinLocked(messageId string) {
	for i, id := range r.conv.PinnedMessageIds {
		if id == messageId {
			r.conv.PinnedMessageIds = append(r.conv.PinnedMessageIds[:i:i], r.conv.PinnedMessageIds[i+1:]...)
			return
		}
	}
}

// authorizeOnMessageLocked allows the sender, or an actor whose role
// grants the given action over the sender's live role.
func (r *Room) authorizeOnMessageLocked(actorId string, msg *entity.Message, action moderation.Action) error {
	if actorId == msg.SenderId {
		return nil
	}
	if !moderation.Can(r.conv.RoleOf(actorId), action, r.conv.RoleOf(msg.SenderId)) {
		return errcode.ErrPermissionDenied
	}
	return nil
}
