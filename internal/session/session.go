package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/crypto"
	"github.com/dellavolpe/rnc-front/internal/idp"
)

// ErrNotFound is returned when a session doesn't exist or has expired
var ErrNotFound = errors.New("session not found")

// PendingLogin is the state retained between sending the browser to the
// identity provider and receiving the callback.
type PendingLogin struct {
	Nonce     string    `json:"nonce"`
	Verifier  string    `json:"verifier"`
	ReturnURL string    `json:"return_url,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is the server-side state of one browser. It is only reachable
// through its own random ID and is never shared between browsers.
type Session struct {
	ID             string        `json:"id"`
	Token          *oauth2.Token `json:"token,omitempty"`
	GrantedScopes  []string      `json:"granted_scopes,omitempty"`
	User           *idp.UserInfo `json:"user,omitempty"`
	Pending        *PendingLogin `json:"pending,omitempty"`
	Flash          string        `json:"flash,omitempty"`
	// RestartLogin asks the next landing page to offer a fresh login after
	// the granted scopes drifted.
	RestartLogin   bool          `json:"restart_login,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

// New creates an anonymous session with a fresh random ID.
func New(ttl time.Duration) (*Session, error) {
	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	now := time.Now()
	return &Session{
		ID:             id,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}, nil
}

// Expired reports whether the session outlived its TTL at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ClearAuth drops the token, granted scopes and identity.
func (s *Session) ClearAuth() {
	s.Token = nil
	s.GrantedScopes = nil
	s.User = nil
}

// Reset returns the session to the anonymous state.
func (s *Session) Reset() {
	s.ClearAuth()
	s.Pending = nil
}

// TakeRestartLogin returns and clears the restart request.
func (s *Session) TakeRestartLogin() bool {
	restart := s.RestartLogin
	s.RestartLogin = false
	return restart
}

// TakeFlash returns and clears the one-shot message.
func (s *Session) TakeFlash() string {
	msg := s.Flash
	s.Flash = ""
	return msg
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	c := *s
	if s.Token != nil {
		t := *s.Token
		c.Token = &t
	}
	c.GrantedScopes = slices.Clone(s.GrantedScopes)
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	return &c
}

// Store persists sessions.
type Store interface {
	// Get returns the session or ErrNotFound when missing or expired.
	Get(ctx context.Context, id string) (*Session, error)
	// Save creates or replaces a session.
	Save(ctx context.Context, s *Session) error
	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions expired at now and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

type contextKey struct{}

// WithSession attaches the request's session to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session attached by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
