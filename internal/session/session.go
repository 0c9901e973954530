// Package session holds the one logged-in identity of the process and tells
// interested components when it changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"klinika-scheduler/internal/auth"
)

type Event int

const (
	LoggedIn Event = iota
	LoggedOut
	// Invalidated is a logout forced by the backend rejecting the token.
	Invalidated
)

func (e Event) String() string {
	switch e {
	case LoggedIn:
		return "logged_in"
	case LoggedOut:
		return "logged_out"
	case Invalidated:
		return "invalidated"
	}
	return "unknown"
}

type Listener func(Event, *auth.Claims)

type Session struct {
	store TokenStore
	now   func() time.Time

	mu     sync.RWMutex
	token  string
	claims *auth.Claims

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(store TokenStore) *Session {
	return &Session{store: store, now: time.Now, listeners: map[int]Listener{}}
}

// Restore loads a previously stored token. An unreadable or expired token is
// cleared and leaves the session logged out.
func (s *Session) Restore(ctx context.Context) error {
	raw, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	c, err := auth.Decode(raw)
	if err != nil || c.Expired(s.now()) {
		return s.store.Clear(ctx)
	}
	s.set(raw, c)
	s.notify(LoggedIn, c)
	return nil
}

// Login decodes and persists a token issued by the backend.
func (s *Session) Login(ctx context.Context, raw string) (*auth.Claims, error) {
	c, err := auth.Decode(raw)
	if err != nil {
		return nil, err
	}
	if c.Expired(s.now()) {
		return nil, fmt.Errorf("token already expired: %w", auth.ErrBadToken)
	}
	if err := s.store.Save(ctx, raw); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	s.set(raw, c)
	s.notify(LoggedIn, c)
	return c, nil
}

func (s *Session) Logout(ctx context.Context) error {
	return s.drop(ctx, LoggedOut)
}

// Invalidate is called when the backend answers 401.
func (s *Session) Invalidate(ctx context.Context) error {
	return s.drop(ctx, Invalidated)
}

func (s *Session) drop(ctx context.Context, ev Event) error {
	s.mu.Lock()
	had := s.token != ""
	s.token, s.claims = "", nil
	s.mu.Unlock()

	err := s.store.Clear(ctx)
	if had {
		s.notify(ev, nil)
	}
	return err
}

// Token returns the bearer token, or ErrNoToken when logged out or expired.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.claims.Expired(s.now()) {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Claims returns a copy of the current claims, nil when logged out.
func (s *Session) Claims() *auth.Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil || s.claims.Expired(s.now()) {
		return nil
	}
	c := *s.claims
	c.Roles = append([]string(nil), s.claims.Roles...)
	return &c
}

func (s *Session) LoggedIn() bool { return s.Claims() != nil }

// Can reports whether the current user holds any of roles.
func (s *Session) Can(roles ...string) bool {
	c := s.Claims()
	return c != nil && c.HasRole(roles...)
}

func (s *Session) IsAdmin() bool { return s.Can(auth.RoleAdmin) }

// Subscribe registers l for session changes and returns its cancel func.
func (s *Session) Subscribe(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Session) set(raw string, c *auth.Claims) {
	s.mu.Lock()
	s.token, s.claims = raw, c
	s.mu.Unlock()
}

// listeners run outside both locks so they may call back into the session
func (s *Session) notify(ev Event, c *auth.Claims) {
	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()

	for _, l := range ls {
		l(ev, c)
	}
}
