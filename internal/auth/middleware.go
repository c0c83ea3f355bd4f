package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	sessionIDContextKey = "auth_session_id"
	csrfTokenContextKey = "auth_csrf_token"
)

// Middleware resolves the session id from its cookie, issuing a new one for
// first visits or malformed values, and makes sure a CSRF cookie exists.
// Cookies that are still valid are re-issued so their Max-Age slides with
// activity; handlers that clear or replace one later in the request win
// because their Set-Cookie comes last.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		maxAge := int(s.sessionTTL.Seconds())

		id, err := c.Cookie(s.sessionCookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}
		s.setCookie(c, s.sessionCookie, id, maxAge, true)
		c.Set(sessionIDContextKey, id)

		token, err := c.Cookie(s.csrfCookieName)
		if err != nil || token == "" {
			token, err = s.NewCSRFToken()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
		}
		// readable by scripts for the header variant of double submit
		s.setCookie(c, s.csrfCookieName, token, maxAge, false)
		c.Set(csrfTokenContextKey, token)

		if raw, err := c.Cookie(s.apiKeyCookie); err == nil && raw != "" {
			if _, err := s.cipher.Open(s.apiKeyCookie, raw); err == nil {
				s.setCookie(c, s.apiKeyCookie, raw, maxAge, true)
			}
		}
		c.Next()
	}
}

// ResetSession issues a fresh session id for the rest of this request and
// the browser.
func (s *Service) ResetSession(c *gin.Context) string {
	id := uuid.NewString()
	s.setCookie(c, s.sessionCookie, id, int(s.sessionTTL.Seconds()), true)
	c.Set(sessionIDContextKey, id)
	return id
}

// SessionIDFromContext retrieves the session id resolved by the middleware.
func SessionIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// CSRFTokenFromContext returns the token pages embed in their forms.
func CSRFTokenFromContext(c *gin.Context) string {
	val, _ := c.Get(csrfTokenContextKey)
	token, _ := val.(string)
	return token
}
