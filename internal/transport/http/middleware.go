package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"quizzles/internal/domain"
)

const (
	ctxCaller     = "caller"
	ctxToken      = "token"
	sessionCookie = "session"
)

// requestLogger writes one structured line per request.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}
		event.
			Str("request_id", c.GetString(ctxRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// authenticate resolves the caller from a bearer header, the session
// cookie, or a token query parameter (websocket clients), in that order.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFrom(c)
		if token == "" {
			fail(c, http.StatusUnauthorized, ErrCodeTokenRequired)
			return
		}
		caller, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				fail(c, http.StatusUnauthorized, ErrCodeTokenInvalid)
				return
			}
			s.fail(c, err)
			return
		}
		c.Set(ctxCaller, caller)
		c.Set(ctxToken, token)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !callerFrom(c).IsAdmin {
			fail(c, http.StatusForbidden, ErrCodeAdminOnly)
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) domain.Caller {
	caller, _ := c.Get(ctxCaller)
	v, _ := caller.(domain.Caller)
	return v
}

func tokenFrom(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(sessionCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}
