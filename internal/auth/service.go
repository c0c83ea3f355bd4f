package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Options configures cookie handling.
type Options struct {
	// CookieKey seals the api_key cookie; empty means a random per-process key.
	CookieKey string
	// Secure marks every cookie Secure.
	Secure bool
	// SessionTTL is the session cookie lifetime.
	SessionTTL time.Duration
}

// Service issues the browser session id, guards form posts against CSRF and
// keeps the user's API key in a sealed cookie so it never reaches session
// storage.
type Service struct {
	cipher         *keyCipher
	secure         bool
	sessionTTL     time.Duration
	sessionCookie  string
	csrfCookieName string
	csrfHeaderName string
	csrfFormField  string
	apiKeyCookie   string
	apiKeyHeader   string
}

func NewService(opts Options) (*Service, error) {
	c, err := newKeyCipher(opts.CookieKey)
	if err != nil {
		return nil, err
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		cipher:         c,
		secure:         opts.Secure,
		sessionTTL:     ttl,
		sessionCookie:  "session_id",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		csrfFormField:  "csrf_token",
		apiKeyCookie:   "api_key",
		apiKeyHeader:   "X-API-Key",
	}, nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// SetAPIKey seals key into the api_key cookie; an empty key clears it.
func (s *Service) SetAPIKey(c *gin.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		s.setCookie(c, s.apiKeyCookie, "", -1, true)
		return nil
	}
	sealed, err := s.cipher.Seal(s.apiKeyCookie, key)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	s.setCookie(c, s.apiKeyCookie, sealed, int(s.sessionTTL.Seconds()), true)
	return nil
}

// APIKey returns the key for this request: the X-API-Key header when given,
// otherwise the sealed cookie. An unreadable cookie counts as no key.
func (s *Service) APIKey(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader(s.apiKeyHeader)); h != "" {
		return h
	}
	raw, err := c.Cookie(s.apiKeyCookie)
	if err != nil || raw == "" {
		return ""
	}
	key, err := s.cipher.Open(s.apiKeyCookie, raw)
	if err != nil {
		return ""
	}
	return key
}

func (s *Service) setCookie(c *gin.Context, name, value string, maxAge int, httpOnly bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", s.secure, httpOnly)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionCookieName returns the cookie carrying the session id.
func (s *Service) SessionCookieName() string {
	return s.sessionCookie
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// CSRFFormField returns the form field HTML forms submit the token in.
func (s *Service) CSRFFormField() string {
	return s.csrfFormField
}

// APIKeyCookieName returns the sealed key cookie name.
func (s *Service) APIKeyCookieName() string {
	return s.apiKeyCookie
}
