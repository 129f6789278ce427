package sdk

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mbeoliero/convo/entity"
)

// PinResponse reports the new pinned state
type PinResponse struct {
	Pinned bool `json:"pinned"`
}

// AnnounceResponse reports the new announcement state
type AnnounceResponse struct {
	Announced bool `json:"announced"`
}

// RoleChangeRequest is the promote/demote payload
type RoleChangeRequest struct {
	UserId string      `json:"user_id"`
	Role   entity.Role `json:"role"`
}

// RemoveParticipantRequest is the remove-member payload
type RemoveParticipantRequest struct {
	UserId string `json:"user_id"`
}

// Pin toggles a message's pinned state and reports the new state.
func (c *Client) Pin(ctx context.Context, messageId string) (bool, error) {
	var resp PinResponse
	path := fmt.Sprintf("/messages/%s/pin", url.PathEscape(messageId))
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Pinned, nil
}

// Announce toggles a message's announcement state and reports the new state.
func (c *Client) Announce(ctx context.Context, messageId string) (bool, error) {
	var resp AnnounceResponse
	path := fmt.Sprintf("/messages/%s/announce", url.PathEscape(messageId))
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Announced, nil
}

// Promote raises a participant to the given role.
func (c *Client) Promote(ctx context.Context, conversationId, userId string, to entity.Role) error {
	path := fmt.Sprintf("/conversations/%s/promote", url.PathEscape(conversationId))
	return c.post(ctx, path, &RoleChangeRequest{UserId: userId, Role: to}, nil)
}

// Demote lowers a participant to the given role.
func (c *Client) Demote(ctx context.Context, conversationId, userId string, to entity.Role) error {
	path := fmt.Sprintf("/conversations/%s/demote", url.PathEscape(conversationId))
	return c.post(ctx, path, &RoleChangeRequest{UserId: userId, Role: to}, nil)
}

// RemoveParticipant removes a participant from the conversation.
func (c *Client) RemoveParticipant(ctx context.Context, conversationId, userId string) error {
	path := fmt.Sprintf("/conversations/%s/remove-member", url.PathEscape(conversationId))
	return c.post(ctx, path, &RemoveParticipantRequest{UserId: userId}, nil)
}
