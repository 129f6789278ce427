package entity

// Participant represents a member of a conversation's roster
type Participant struct {
	UserId   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Role     Role   `json:"role"`
	Online   bool   `json:"online,omitempty"`
	JoinedAt int64  `json:"joined_at,omitempty"`
}

// Conversation represents one conversation: either a direct chat between two
// participants or a named group with a role-bearing roster.
type Conversation struct {
	Id               string         `json:"id"`
	Name             string         `json:"name,omitempty"`
	IsGroup          bool           `json:"is_group"`
	Messages         []*Message     `json:"messages"`
	Participants     []*Participant `json:"participants"`
	Tags             []string       `json:"tags,omitempty"`
	PinnedMessageIds []string       `json:"pinned_message_ids,omitempty"` // most-recent-first
	UpdatedAt        int64          `json:"updated_at"`
}

// Participant returns the roster entry for userId, or nil.
func (c *Conversation) Participant(userId string) *Participant {
	for _, p := range c.Participants {
		if p.UserId == userId {
			return p
		}
	}
	return nil
}

// RoleOf returns the role of userId, defaulting to member when the user
// is not on the roster.
func (c *Conversation) RoleOf(userId string) Role {
	if p := c.Participant(userId); p != nil {
		return p.Role
	}
	return RoleMember
}

// Message returns the message with the given permanent id, or nil.
func (c *Conversation) Message(messageId string) *Message {
	for _, m := range c.Messages {
		if m.Id == messageId {
			return m
		}
	}
	return nil
}
