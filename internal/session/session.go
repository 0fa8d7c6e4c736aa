// Package session tracks the authenticated identity.
//
// The identity is an immutable value replaced wholesale on login or register
// and cleared on logout or on any Unauthorized response. The bearer token
// itself lives in a CredentialStore owned by the caller.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/kudosync/internal/record"
)

// Identity is the signed-in user as of the last successful auth response.
type Identity struct {
	UserID    record.ID
	Name      string
	Email     string
	Role      record.Role
	AvatarURL string

	// ExpiresAt is the token's exp claim, zero when the token has none.
	ExpiresAt time.Time
}

// IdentityOf builds an identity from a user record.
func IdentityOf(u record.User) Identity {
	return Identity{
		UserID:    u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		AvatarURL: u.AvatarURL,
	}
}

// State holds the current identity.
//
// Thread-safety: all methods are safe for concurrent use. OnClear hooks run
// outside the lock.
type State struct {
	mu       sync.RWMutex
	identity *Identity
	creds    CredentialStore
	now      func() time.Time
	onClear  []func(Identity)
}

// Option configures a State.
type Option func(*State)

// WithClock sets the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// New creates an unauthenticated state backed by creds.
// A nil creds uses an in-memory store.
func New(creds CredentialStore, opts ...Option) *State {
	if creds == nil {
		creds = &MemoryCredentials{}
	}
	s := &State{creds: creds, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Establish replaces the identity and stores the token.
func (s *State) Establish(id Identity, token string) error {
	if exp, ok := TokenExpiry(token); ok {
		id.ExpiresAt = exp
	}
	if err := s.creds.SetToken(token); err != nil {
		return err
	}
	s.mu.Lock()
	s.identity = &id
	s.mu.Unlock()
	return nil
}

// Clear drops the identity and the token. Hooks run only if an identity or a
// token was present.
func (s *State) Clear() error {
	s.mu.Lock()
	prev := s.identity
	s.identity = nil
	hooks := append([]func(Identity){}, s.onClear...)
	s.mu.Unlock()

	_, hadToken := s.creds.Token()
	err := s.creds.ClearToken()

	if prev != nil || hadToken {
		var id Identity
		if prev != nil {
			id = *prev
		}
		for _, h := range hooks {
			h(id)
		}
	}
	return err
}

// OnClear registers a hook called with the cleared identity.
func (s *State) OnClear(fn func(Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClear = append(s.onClear, fn)
}

// Present reports whether an identity or a token is held, expired or not.
func (s *State) Present() bool {
	s.mu.RLock()
	held := s.identity != nil
	s.mu.RUnlock()
	_, hasToken := s.creds.Token()
	return held || hasToken
}

// Current returns the identity, if authenticated.
func (s *State) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil || s.expiredLocked(*s.identity) {
		return Identity{}, false
	}
	return *s.identity, true
}

// UserID returns the signed-in user's id, or 0.
func (s *State) UserID() record.ID {
	id, _ := s.Current()
	return id.UserID
}

// IsAuthenticated reports whether an unexpired identity is held.
func (s *State) IsAuthenticated() bool {
	_, ok := s.Current()
	return ok
}

// Role returns the signed-in user's role, or "".
func (s *State) Role() record.Role {
	id, _ := s.Current()
	return id.Role
}

// IsAdmin reports whether the signed-in user is an administrator.
func (s *State) IsAdmin() bool {
	return s.HasRole(record.RoleAdmin)
}

// HasRole reports whether the signed-in user has role r.
func (s *State) HasRole(r record.Role) bool {
	id, ok := s.Current()
	return ok && id.Role == r
}

// HasAnyRole reports whether the signed-in user has one of roles.
func (s *State) HasAnyRole(roles ...record.Role) bool {
	id, ok := s.Current()
	if !ok {
		return false
	}
	for _, r := range roles {
		if id.Role == r {
			return true
		}
	}
	return false
}

// Token returns the stored bearer token. An expired token is reported absent.
func (s *State) Token() (string, bool) {
	tok, ok := s.creds.Token()
	if !ok || tok == "" {
		return "", false
	}
	if exp, ok := TokenExpiry(tok); ok && !s.now().Before(exp) {
		return "", false
	}
	return tok, true
}

func (s *State) expiredLocked(id Identity) bool {
	return !id.ExpiresAt.IsZero() && !s.now().Before(id.ExpiresAt)
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
