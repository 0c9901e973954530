package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"klinika-scheduler/internal/auth"
	"klinika-scheduler/internal/model"
)

type Registration struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type PasswordReset struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type UserChanges struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Biography string `json:"biography,omitempty"`
}

// Authenticate exchanges credentials for a backend token without touching
// the session. The token is returned to whoever asked.
func (c *Client) Authenticate(ctx context.Context, email, password string) (string, *auth.Claims, error) {
	if email == "" || password == "" {
		return "", nil, errors.New("email and password required")
	}
	var raw json.RawMessage
	err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "Auth/Login",
		path:     "Auth/Login",
		body:     map[string]string{"email": email, "password": password},
		public:   true,
		anon:     true,
	}, &raw)
	if err != nil {
		return "", nil, err
	}
	tok, err := parseToken(raw)
	if err != nil {
		return "", nil, err
	}
	claims, err := auth.Decode(tok)
	if err != nil {
		return "", nil, fmt.Errorf("login: %w", err)
	}
	return tok, claims, nil
}

// Login authenticates and makes the token the session's.
func (c *Client) Login(ctx context.Context, email, password string) (*auth.Claims, error) {
	tok, _, err := c.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.sess.Login(ctx, tok)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.sess.Logout(ctx)
}

// the login endpoint answers {"token": ...} or the bare token string
func parseToken(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var lr model.LoginResult
	if err := json.Unmarshal(raw, &lr); err == nil && lr.Token != "" {
		return lr.Token, nil
	}
	return "", errors.New("login: no token in response")
}

func (c *Client) Register(ctx context.Context, r Registration) error {
	return c.do(ctx, call{method: http.MethodPost, endpoint: "Auth/Register", path: "Auth/Register", body: r, public: true, anon: true}, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, call{method: http.MethodPost, endpoint: "Auth/ForgotPassword", path: "Auth/ForgotPassword", body: body, public: true, anon: true}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, r PasswordReset) error {
	return c.do(ctx, call{method: http.MethodPost, endpoint: "Auth/ResetPassword", path: "Auth/ResetPassword", body: r, public: true, anon: true}, nil)
}

// UserData is the profile of the logged-in user.
func (c *Client) UserData(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.get(ctx, "Auth/GetUserData", "Auth/GetUserData", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserDataFor looks up the profile behind someone else's token. A 401 here
// says nothing about the session.
func (c *Client) UserDataFor(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	var out model.User
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "Auth/GetUserData", path: "Auth/GetUserData", bearer: token}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var out []model.User
	err := c.get(ctx, "Auth/GetUsers", "Auth/GetUsers", &out)
	return out, err
}

func (c *Client) ChangeUserData(ctx context.Context, ch UserChanges) error {
	return c.send(ctx, http.MethodPut, "Auth/ChangeUserData", "Auth/ChangeUserData", ch, nil)
}

func (c *Client) Doctors(ctx context.Context) ([]model.User, error) {
	var out []model.User
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "Roles/doctors", path: "Roles/doctors", public: true}, &out)
	return out, err
}

func (c *Client) Roles(ctx context.Context) ([]model.Role, error) {
	var out []model.Role
	err := c.get(ctx, "Roles", "Roles", &out)
	return out, err
}

func (c *Client) SubmitRoleRequest(ctx context.Context, role, reason string) error {
	body := model.RoleRequest{Role: role, Reason: reason}
	return c.send(ctx, http.MethodPost, "RoleRequest", "RoleRequest", body, nil)
}

func (c *Client) RoleRequests(ctx context.Context) ([]model.RoleRequest, error) {
	var out []model.RoleRequest
	err := c.get(ctx, "RoleRequest", "RoleRequest", &out)
	return out, err
}

func (c *Client) ApproveRoleRequest(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodPut, "RoleRequest/{id}/approve", "RoleRequest/"+esc(id)+"/approve", nil, nil)
}

func (c *Client) RejectRoleRequest(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodPut, "RoleRequest/{id}/reject", "RoleRequest/"+esc(id)+"/reject", nil, nil)
}
