package entity

import "time"

// NowUnixMilli returns current unix timestamp in milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// Attachment represents a file attached to a message
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
	URL  string `json:"url"`
}

// Message represents a message in a conversation.
//
// ReplyTo is a weak reference: the target message may have been deleted,
// so it is only ever used for lookup, never treated as owned.
type Message struct {
	Id             string           `json:"id"`
	ConversationId string           `json:"conversation_id"`
	ClientMsgId    string           `json:"client_msg_id,omitempty"`
	SenderId       string           `json:"sender_id"`
	Content        string           `json:"content,omitempty"`
	Attachments    []Attachment     `json:"attachments,omitempty"`
	ReplyTo        string           `json:"reply_to,omitempty"`
	SentAt         int64            `json:"sent_at"`
	EditedAt       *int64           `json:"edited_at,omitempty"`
	IsDeleted      bool             `json:"is_deleted"`
	IsPinned       bool             `json:"is_pinned"`
	IsAnnouncement bool             `json:"is_announcement"`
	ReactionCounts map[string]int64 `json:"reaction_counts,omitempty"`
	UserReactions  []string         `json:"user_reactions,omitempty"`
	ReadBy         []string         `json:"read_by,omitempty"`

	// LocalId and Status are set only on the local view of an
	// optimistic send that has not been confirmed yet.
	LocalId string     `json:"local_id,omitempty"`
	Status  SendStatus `json:"status,omitempty"`
}

// CanModify reports whether the message still accepts edits and reactions.
// A deleted message is a tombstone: the row stays for thread continuity but
// carries no content and accepts no further changes.
func (m *Message) CanModify() bool {
	return !m.IsDeleted
}

// Tombstone clears the message content in place, keeping the row.
func (m *Message) Tombstone() {
	m.IsDeleted = true
	m.Content = ""
	m.Attachments = nil
	m.ReactionCounts = nil
	m.UserReactions = nil
	m.EditedAt = nil
}

// ReadByUser reports whether userId is already in the read_by set.
func (m *Message) ReadByUser(userId string) bool {
	for _, id := range m.ReadBy {
		if id == userId {
			return true
		}
	}
	return false
}

// HasReaction reports whether the local user applied emoji to this message.
func (m *Message) HasReaction(emoji string) bool {
	for _, e := range m.UserReactions {
		if e == emoji {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	if m.EditedAt != nil {
		v := *m.EditedAt
		cp.EditedAt = &v
	}
	if m.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ReactionCounts != nil {
		cp.ReactionCounts = make(map[string]int64, len(m.ReactionCounts))
		for k, v := range m.ReactionCounts {
			cp.ReactionCounts[k] = v
		}
	}
	if m.UserReactions != nil {
		cp.UserReactions = append([]string(nil), m.UserReactions...)
	}
	if m.ReadBy != nil {
		cp.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return &cp
}
