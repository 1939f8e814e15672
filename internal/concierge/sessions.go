package concierge

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// DefaultSessionTTL is how long an idle session's state is kept.
	DefaultSessionTTL = time.Hour
	// sessionPurgeInterval is how often expired sessions are evicted.
	sessionPurgeInterval = 10 * time.Minute
)

// sessionState is the per-session data held between requests.
type sessionState struct {
	// image is the last reference image the shopper uploaded.
	image []byte
}

// Sessions holds short-lived per-session state in memory. Entries expire
// after the configured TTL unless refreshed.
type Sessions struct {
	// cache maps session ID to *sessionState.
	cache *cache.Cache
}

// NewSessions returns an empty registry. A non-positive ttl means
// DefaultSessionTTL.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{cache: cache.New(ttl, sessionPurgeInterval)}
}

// SetImage stores img as the session's reference image, replacing any
// previous one.
func (s *Sessions) SetImage(sessionID string, img []byte) {
	s.cache.Set(sessionID, &sessionState{image: append([]byte(nil), img...)}, cache.DefaultExpiration)
}

// Image returns the session's reference image, or nil if none was uploaded
// or the session expired.
func (s *Sessions) Image(sessionID string) []byte {
	if x, found := s.cache.Get(sessionID); found {
		return x.(*sessionState).image
	}
	return nil
}

// Clear forgets the session.
func (s *Sessions) Clear(sessionID string) {
	s.cache.Delete(sessionID)
}
