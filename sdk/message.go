package sdk

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mbeoliero/convo/entity"
)

// SendMessageRequest is the send payload. ClientMsgId lets the server
// echo be matched to the optimistic local entry.
type SendMessageRequest struct {
	ClientMsgId string              `json:"client_msg_id,omitempty"`
	Content     string              `json:"content,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachments []entity.Attachment `json:"attachments,omitempty"`
}

// EditMessageRequest is the edit payload
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReactRequest is the reaction toggle payload
type ReactRequest struct {
	Emoji string `json:"emoji"`
}

// ReactResponse reports whether the reaction was added or removed
type ReactResponse struct {
	Added bool `json:"added"`
}

// SendMessage sends a message through the request/response path and
// returns the confirmed message bearing the permanent identifier.
func (c *Client) SendMessage(ctx context.Context, conversationId string, req *SendMessageRequest) (*entity.Message, error) {
	var msg entity.Message
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationId))
	if err := c.post(ctx, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces a message's content and returns the updated message.
func (c *Client) EditMessage(ctx context.Context, messageId, content string) (*entity.Message, error) {
	var msg entity.Message
	path := fmt.Sprintf("/messages/%s/edit", url.PathEscape(messageId))
	if err := c.post(ctx, path, &EditMessageRequest{Content: content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageId string) error {
	return c.del(ctx, fmt.Sprintf("/messages/%s", url.PathEscape(messageId)))
}

// React toggles a reaction and reports whether it was added.
func (c *Client) React(ctx context.Context, messageId, emoji string) (bool, error) {
	var resp ReactResponse
	path := fmt.Sprintf("/messages/%s/react", url.PathEscape(messageId))
	if err := c.post(ctx, path, &ReactRequest{Emoji: emoji}, &resp); err != nil {
		return false, err
	}
	return resp.Added, nil
}
