package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a UI session stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Sessions issues and checks cookie sessions for the UI password.
type Sessions struct {
	password   string
	cookieName string
	ttl        time.Duration
	now        func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewSessions creates a session registry. A non-positive ttl uses
// DefaultSessionTTL.
func NewSessions(password, cookieName string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		password:   password,
		cookieName: cookieName,
		ttl:        ttl,
		now:        time.Now,
		tokens:     make(map[string]time.Time),
	}
}

// CookieName returns the session cookie name.
func (s *Sessions) CookieName() string {
	return s.cookieName
}

// CheckPassword compares candidate with the configured password.
func (s *Sessions) CheckPassword(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.password)) == 1
}

// Issue creates a session and sets its cookie on w.
func (s *Sessions) Issue(w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	expires := s.now().Add(s.ttl)

	s.mu.Lock()
	s.tokens[token] = expires
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// Revoke ends the request's session and clears its cookie.
func (s *Sessions) Revoke(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.cookieName); err == nil {
		s.mu.Lock()
		delete(s.tokens, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// Valid reports whether r carries a live session cookie.
func (s *Sessions) Valid(r *http.Request) bool {
	c, err := r.Cookie(s.cookieName)
	if err != nil || c.Value == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.tokens[c.Value]
	if !ok {
		return false
	}
	if s.now().After(expires) {
		delete(s.tokens, c.Value)
		return false
	}
	return true
}

// publicPaths are reachable without a session.
var publicPaths = map[string]bool{
	"/login":  true,
	"/logout": true,
	"/health": true,
}

// Auth requires a session for everything except the login flow and health
// check. API calls without a session get 401; page loads are redirected to
// the login form. A nil registry disables the check.
func Auth(sessions *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if sessions == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || sessions.Valid(r) {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.URL.Path, "/api/") {
				WriteError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
		})
	}
}
