package sdk

import "context"

// LoginRequest is the login payload
type LoginRequest struct {
	UserId   string `json:"user_id"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token
type LoginResponse struct {
	Token  string `json:"token"`
	UserId string `json:"user_id"`
}

// Login authenticates a user and stores the issued token on the client.
func (c *Client) Login(ctx context.Context, userId, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/auth/login", &LoginRequest{UserId: userId, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}
