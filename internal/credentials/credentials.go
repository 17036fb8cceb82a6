// Package credentials supplies the bearer token and active project to the session layer.
package credentials

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials identify the caller to the realtime servers.
type Credentials struct {
	Token     string `yaml:"token"`
	ProjectID int64  `yaml:"project_id"`
}

// Usable reports whether c carries a token that has not expired.
func (c Credentials) Usable(now time.Time) bool {
	return c.Token != "" && !TokenExpired(c.Token, now)
}

// Provider returns the current credentials. ok is false when the caller is logged out.
// Implementations may change their answer at any time; the session layer only reads.
type Provider interface {
	Credentials() (c Credentials, ok bool)
}

// Static is an in-memory Provider.
type Static struct {
	mu  sync.RWMutex
	cur Credentials
}

func NewStatic(token string, projectID int64) *Static {
	return &Static{cur: Credentials{Token: token, ProjectID: projectID}}
}

func (s *Static) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur, s.cur.Usable(time.Now())
}

func (s *Static) Set(c Credentials) {
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
}

// Clear logs the caller out.
func (s *Static) Clear() {
	s.Set(Credentials{})
}

// TokenExpired reads the exp claim of a JWT without verifying its signature.
// The server remains the authority; this only avoids dialing with a token that
// is known to be dead. Opaque (non-JWT) tokens never count as expired.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
