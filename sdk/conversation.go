package sdk

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mbeoliero/convo/entity"
)

// FetchHistory fetches one conversation: messages, roster, tags and the
// pinned set.
func (c *Client) FetchHistory(ctx context.Context, conversationId string) (*entity.Conversation, error) {
	var conv entity.Conversation
	path := fmt.Sprintf("/conversations/%s", url.PathEscape(conversationId))
	if err := c.get(ctx, path, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// MarkRead marks messages as read by the current user.
func (c *Client) MarkRead(ctx context.Context, conversationId string, messageIds []string) error {
	path := fmt.Sprintf("/conversations/%s/read", url.PathEscape(conversationId))
	return c.post(ctx, path, &MarkReadRequest{MessageIds: messageIds}, nil)
}

// MarkReadRequest is the mark-read payload
type MarkReadRequest struct {
	MessageIds []string `json:"message_ids"`
}
