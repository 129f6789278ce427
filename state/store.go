// Package state holds the authoritative in-memory view of the one open
// conversation: the ordered message list, the participant roster, the
// typing set and the pinned set.
package state

import (
	"sort"
	"sync"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/pkg/errcode"
	"github.com/mbeoliero/kit/log"
)

// Store is the state of one open conversation. It is created when the
// conversation is opened and discarded when the user navigates away.
//
// The store is internally locked so read-side snapshots are safe from any
// goroutine, but all mutations are funneled through the owning session:
// no other component writes to it directly.
type Store struct {
	mu sync.RWMutex

	localUserId string
	conv        *entity.Conversation

	messages []*entity.Message          // committed, non-decreasing in SentAt
	index    map[string]*entity.Message // by permanent id

	pending    []*entity.PendingSend // provisionally at the tail
	pendingIdx map[string]*entity.PendingSend

	// Receipts for messages the store has not seen yet are buffered and
	// applied once the message arrives.
	bufferedReceipts map[string][]string

	typing map[string]int64 // userId -> expiry, unix milli
}

// NewStore creates an empty store for the given conversation.
func NewStore(conversationId, localUserId string) *Store {
	return &Store{
		localUserId: localUserId,
		conv: &entity.Conversation{
			Id: conversationId,
		},
		index:            make(map[string]*entity.Message),
		pendingIdx:       make(map[string]*entity.PendingSend),
		bufferedReceipts: make(map[string][]string),
		typing:           make(map[string]int64),
	}
}

// Seed loads REST-fetched history into the store. Messages already
// present (applied from realtime events that raced the fetch) are
// deduplicated by permanent id.
func (s *Store) Seed(conv *entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conv.Name = conv.Name
	s.conv.IsGroup = conv.IsGroup
	s.conv.Tags = append([]string(nil), conv.Tags...)
	s.conv.PinnedMessageIds = append([]string(nil), conv.PinnedMessageIds...)
	s.conv.UpdatedAt = conv.UpdatedAt

	s.conv.Participants = make([]*entity.Participant, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		cp := *p
		s.conv.Participants = append(s.conv.Participants, &cp)
	}

	for _, m := range conv.Messages {
		s.applyIncomingLocked(m.Clone())
	}
}

// ApplyIncomingMessage applies a realtime message to the store. It
// deduplicates by permanent id, reconciles the server echo of the local
// user's own optimistic send via commit rather than appending a
// duplicate, and otherwise inserts at the timestamp-sorted position.
// It reports whether the message changed the store.
func (s *Store) ApplyIncomingMessage(msg *entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyIncomingLocked(msg.Clone())
}

func (s *Store) applyIncomingLocked(msg *entity.Message) bool {
	if _, ok := s.index[msg.Id]; ok {
		return false
	}

	if local := s.matchPendingLocked(msg); local != "" {
		s.commitLocked(local, msg)
		return true
	}

	s.insertSortedLocked(msg)
	s.drainReceiptsLocked(msg)
	return true
}

// matchPendingLocked finds the pending send this incoming message
// confirms, if any: first by client message id, then by the weaker
// same-sender same-content match against the provisional tail.
func (s *Store) matchPendingLocked(msg *entity.Message) string {
	if msg.ClientMsgId != "" {
		if p, ok := s.pendingIdx[msg.ClientMsgId]; ok {
			return p.LocalId
		}
	}
	if msg.SenderId != s.localUserId || len(s.pending) == 0 {
		return ""
	}
	tail := s.pending[len(s.pending)-1]
	if tail.Status != entity.SendStatusFailed && tail.Request.Content == msg.Content {
		return tail.LocalId
	}
	return ""
}

// insertSortedLocked keeps the committed list non-decreasing in SentAt.
// Among equal timestamps arrival order wins, so the common in-order case
// is a plain append.
func (s *Store) insertSortedLocked(msg *entity.Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].SentAt > msg.SentAt
	})
	if i == len(s.messages) {
		s.messages = append(s.messages, msg)
	} else {
		s.messages = append(s.messages, nil)
		copy(s.messages[i+1:], s.messages[i:])
		s.messages[i] = msg
	}
	s.index[msg.Id] = msg
	if msg.SentAt > s.conv.UpdatedAt {
		s.conv.UpdatedAt = msg.SentAt
	}
}

func (s *Store) drainReceiptsLocked(msg *entity.Message) {
	users, ok := s.bufferedReceipts[msg.Id]
	if !ok {
		return
	}
	delete(s.bufferedReceipts, msg.Id)
	for _, userId := range users {
		if !msg.ReadByUser(userId) {
			msg.ReadBy = append(msg.ReadBy, userId)
		}
	}
}

// ApplyOptimisticSend places a pending send at the provisional tail of
// the message list.
func (s *Store) ApplyOptimisticSend(p *entity.PendingSend) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.pending = append(s.pending, &cp)
	s.pendingIdx[cp.LocalId] = &cp
}

// CommitSend replaces the pending entry with the confirmed message
// bearing the permanent identifier. The pending entry is destroyed.
func (s *Store) CommitSend(localId string, confirmed *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pendingIdx[localId]; !ok {
		return errcode.ErrPendingNotFound
	}
	s.commitLocked(localId, confirmed.Clone())
	return nil
}

func (s *Store) commitLocked(localId string, confirmed *entity.Message) {
	s.removePendingLocked(localId)
	if _, ok := s.index[confirmed.Id]; ok {
		return
	}
	s.insertSortedLocked(confirmed)
	s.drainReceiptsLocked(confirmed)
}

// RollbackSend marks a pending send failed. The entry is kept, never
// silently dropped, so the UI can offer retry or discard.
func (s *Store) RollbackSend(localId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pendingIdx[localId]
	if !ok {
		return errcode.ErrPendingNotFound
	}
	p.Status = entity.SendStatusFailed
	return nil
}

// DiscardPending removes a pending send entirely (the user chose to
// discard a failed send).
func (s *Store) DiscardPending(localId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pendingIdx[localId]; !ok {
		return errcode.ErrPendingNotFound
	}
	s.removePendingLocked(localId)
	return nil
}

func (s *Store) removePendingLocked(localId string) {
	delete(s.pendingIdx, localId)
	for i, p := range s.pending {
		if p.LocalId == localId {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return
		}
	}
}

// PendingSend returns a copy of the pending entry, for retry flows.
func (s *Store) PendingSend(localId string) (*entity.PendingSend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pendingIdx[localId]
	if !ok {
		return nil, errcode.ErrPendingNotFound
	}
	cp := *p
	return &cp, nil
}

// MarkRead adds userId to a message's read_by set. It is monotonic: a
// user already in the set is not re-processed. A receipt for a message
// the store has not seen yet is buffered and applied when it arrives.
// It reports whether the receipt changed the store.
func (s *Store) MarkRead(userId, messageId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[messageId]
	if !ok {
		for _, buffered := range s.bufferedReceipts[messageId] {
			if buffered == userId {
				return false
			}
		}
		s.bufferedReceipts[messageId] = append(s.bufferedReceipts[messageId], userId)
		return true
	}

	if msg.ReadByUser(userId) {
		return false
	}
	msg.ReadBy = append(msg.ReadBy, userId)
	return true
}

// Unread filters messageIds down to committed messages the user has not
// read yet, preserving input order. Unknown ids are skipped.
func (s *Store) Unread(userId string, messageIds []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, id := range messageIds {
		if msg, ok := s.index[id]; ok && !msg.ReadByUser(userId) {
			out = append(out, id)
		}
	}
	return out
}

// SetTyping records a remote user's typing state. Entries expire at
// ttlAt; they are removed by inbound stop events or by SweepTyping.
func (s *Store) SetTyping(userId string, isTyping bool, ttlAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userId == s.localUserId {
		return
	}
	if isTyping {
		s.typing[userId] = ttlAt
	} else {
		delete(s.typing, userId)
	}
}

// TypingUsers returns the users typing as of now (unix milli).
func (s *Store) TypingUsers(now int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for userId, expiry := range s.typing {
		if expiry > now {
			users = append(users, userId)
		}
	}
	sort.Strings(users)
	return users
}

// SweepTyping drops expired typing entries and returns the users removed.
func (s *Store) SweepTyping(now int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for userId, expiry := range s.typing {
		if expiry <= now {
			delete(s.typing, userId)
			expired = append(expired, userId)
		}
	}
	return expired
}

// ApplyDeletion tombstones a message: content is cleared but the row is
// retained for thread continuity. Unknown ids are ignored (the deletion
// may refer to history beyond the fetched window).
func (s *Store) ApplyDeletion(messageId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[messageId]
	if !ok {
		log.Debug("deletion for unknown message %s ignored", messageId)
		return false
	}
	if msg.IsDeleted {
		return false
	}
	msg.Tombstone()
	s.unpinLocked(messageId)
	return true
}

// ApplyEdit replaces a message's content. A deleted message accepts no
// further edits.
func (s *Store) ApplyEdit(messageId, newContent string, editedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[messageId]
	if !ok {
		return errcode.ErrMessageNotFound
	}
	if !msg.CanModify() {
		return errcode.ErrMessageDeleted
	}
	msg.Content = newContent
	msg.EditedAt = &editedAt
	return nil
}

// ApplyReaction applies a reaction toggle result. Reactions by the local
// user also update the user_reactions set.
func (s *Store) ApplyReaction(messageId, emoji, userId string, added bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[messageId]
	if !ok {
		return errcode.ErrMessageNotFound
	}
	if !msg.CanModify() {
		return errcode.ErrMessageDeleted
	}

	if msg.ReactionCounts == nil {
		msg.ReactionCounts = make(map[string]int64)
	}
	if added {
		msg.ReactionCounts[emoji]++
	} else if msg.ReactionCounts[emoji] > 0 {
		msg.ReactionCounts[emoji]--
		if msg.ReactionCounts[emoji] == 0 {
			delete(msg.ReactionCounts, emoji)
		}
	}

	if userId == s.localUserId {
		if added {
			if !msg.HasReaction(emoji) {
				msg.UserReactions = append(msg.UserReactions, emoji)
			}
		} else {
			for i, e := range msg.UserReactions {
				if e == emoji {
					msg.UserReactions = append(msg.UserReactions[:i:i], msg.UserReactions[i+1:]...)
					break
				}
			}
		}
	}
	return nil
}

// ApplyPin pins or unpins a message. A pinned message must belong to
// this conversation, so unknown ids are an error. The pinned list is
// kept most-recent-first.
func (s *Store) ApplyPin(messageId string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[messageId]
	if !ok {
		return errcode.ErrMessageNotFound
	}
	msg.IsPinned = pinned
	s.unpinLocked(messageId)
	if pinned {
		s.conv.PinnedMessageIds = append([]string{messageId}, s.conv.PinnedMessageIds...)
	}
	return nil
}

func (s *Store) unpinLocked(messageId string) {
	for i, id := range s.conv.PinnedMessageIds {
		if id == messageId {
			s.conv.PinnedMessageIds = append(s.conv.PinnedMessageIds[:i:i], s.conv.PinnedMessageIds[i+1:]...)
			return
		}
	}
}

// ApplyAnnouncement toggles the announcement flag on a message.
func (s *Store) ApplyAnnouncement(messageId string, announced bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[messageId]
	if !ok {
		return errcode.ErrMessageNotFound
	}
	msg.IsAnnouncement = announced
	return nil
}

// ApplyRoleChange updates a participant's role on the roster.
func (s *Store) ApplyRoleChange(userId string, role entity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.conv.Participant(userId)
	if p == nil {
		return errcode.ErrParticipantNotFound
	}
	p.Role = role
	return nil
}

// AddParticipant adds or replaces a roster entry.
func (s *Store) AddParticipant(p *entity.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.conv.Participant(p.UserId); existing != nil {
		*existing = *p
		return
	}
	cp := *p
	s.conv.Participants = append(s.conv.Participants, &cp)
}

// RemoveParticipant drops a roster entry and the user's typing state.
func (s *Store) RemoveParticipant(userId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.typing, userId)
	for i, p := range s.conv.Participants {
		if p.UserId == userId {
			s.conv.Participants = append(s.conv.Participants[:i:i], s.conv.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceRoster swaps the whole roster for a freshly fetched one. Typing
// state for users no longer present is dropped.
func (s *Store) ReplaceRoster(participants []*entity.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster := make([]*entity.Participant, 0, len(participants))
	for _, p := range participants {
		cp := *p
		roster = append(roster, &cp)
	}
	s.conv.Participants = roster

	for userId := range s.typing {
		if s.conv.Participant(userId) == nil {
			delete(s.typing, userId)
		}
	}
}

// SetPresence flips a roster entry's online flag. Presence for users not
// on the roster is ignored.
func (s *Store) SetPresence(userId string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.conv.Participant(userId); p != nil {
		p.Online = online
	}
}

// RoleOf returns the live role of userId, read at call time.
func (s *Store) RoleOf(userId string) entity.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.RoleOf(userId)
}

// HasParticipant reports whether userId is on the roster.
func (s *Store) HasParticipant(userId string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.Participant(userId) != nil
}

// Message returns a copy of the message with the given permanent id.
func (s *Store) Message(messageId string) (*entity.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.index[messageId]
	if !ok {
		return nil, errcode.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// Messages returns the ordered message list: committed messages sorted
// by timestamp followed by the provisional pending tail.
func (s *Store) Messages() []*entity.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Message, 0, len(s.messages)+len(s.pending))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	for _, p := range s.pending {
		out = append(out, p.AsMessage())
	}
	return out
}

// Pending returns copies of all pending sends.
func (s *Store) Pending() []*entity.PendingSend {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.PendingSend, 0, len(s.pending))
	for _, p := range s.pending {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// FailPending marks every in-flight pending send failed; used when the
// conversation is closed with sends still unconfirmed.
func (s *Store) FailPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pending {
		if p.Status == entity.SendStatusSending {
			p.Status = entity.SendStatusFailed
		}
	}
}

// Conversation returns a deep copy of the conversation view, including
// the ordered message list.
func (s *Store) Conversation() *entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := &entity.Conversation{
		Id:               s.conv.Id,
		Name:             s.conv.Name,
		IsGroup:          s.conv.IsGroup,
		Tags:             append([]string(nil), s.conv.Tags...),
		PinnedMessageIds: append([]string(nil), s.conv.PinnedMessageIds...),
		UpdatedAt:        s.conv.UpdatedAt,
	}
	for _, p := range s.conv.Participants {
		cp := *p
		conv.Participants = append(conv.Participants, &cp)
	}
	for _, m := range s.messages {
		conv.Messages = append(conv.Messages, m.Clone())
	}
	for _, p := range s.pending {
		conv.Messages = append(conv.Messages, p.AsMessage())
	}
	return conv
}
