package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"klinika-scheduler/internal/api"
	"klinika-scheduler/internal/auth"
	"klinika-scheduler/internal/model"
)

// ErrRejected means the backend does not know the token.
var ErrRejected = errors.New("token rejected by backend")

type UserLookup interface {
	UserDataFor(ctx context.Context, token string) (*model.User, error)
}

// BackendCheck asks the backend who a decoded token belongs to. Answers
// are kept for ttl or until the token expires, whichever comes first.
type BackendCheck struct {
	users UserLookup
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]confirmed
}

type confirmed struct {
	claims *auth.Claims
	until  time.Time
}

func NewBackendCheck(users UserLookup, ttl time.Duration) *BackendCheck {
	return &BackendCheck{users: users, ttl: ttl, now: time.Now, cache: map[string]confirmed{}}
}

// Confirm returns the claims the backend stands behind. Roles come from the
// backend's profile when it lists any.
func (b *BackendCheck) Confirm(ctx context.Context, raw string, c *auth.Claims) (*auth.Claims, error) {
	now := b.now()
	b.mu.Lock()
	hit, ok := b.cache[raw]
	b.mu.Unlock()
	if ok && now.Before(hit.until) {
		return hit.claims, nil
	}

	u, err := b.users.UserDataFor(ctx, raw)
	if err != nil {
		var apiErr *api.Error
		if errors.Is(err, api.ErrUnauthorized) ||
			(errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests) {
			return nil, ErrRejected
		}
		return nil, err
	}
	if u.ID != "" && c.UserID != "" && u.ID != c.UserID {
		return nil, ErrRejected
	}

	out := *c
	if len(u.Roles) > 0 {
		out.Roles = append([]string(nil), u.Roles...)
	}
	until := now.Add(b.ttl)
	if !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(until) {
		until = c.ExpiresAt
	}

	b.mu.Lock()
	for k, v := range b.cache {
		if !now.Before(v.until) {
			delete(b.cache, k)
		}
	}
	b.cache[raw] = confirmed{claims: &out, until: until}
	b.mu.Unlock()
	return &out, nil
}
