package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexasecurity/nexasec/internal/data/model"
	"github.com/nexasecurity/nexasec/internal/log"
)

const (
	accessTokenCookie = "access_token"
	requestIDHeader   = "X-Request-ID"
	userContextKey    = "user"
)

// requestLogger attaches the logger to the request context and logs every
// request once it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		logger := log.FromZap(log.Zap(s.deps.Logger).With(zap.String("request_id", id)))
		c.Request = c.Request.WithContext(log.WithLogger(c.Request.Context(), logger))

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.deps.Metrics != nil {
			_ = s.deps.Metrics.AddCounter(c.Request.Context(), metricHTTPRequests, 1, c.Request.Method, strconv.Itoa(c.Writer.Status()))
		}
	}
}

// recovery turns a handler panic into a 500.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				writeError(c, fmt.Errorf("handler panicked: %v", r))
			}
		}()
		c.Next()
	}
}

// rateLimit rejects requests over the limit with 429. Limiter errors let the
// request through.
func (s *Server) rateLimit(key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Limiter == nil {
			c.Next()
			return
		}
		ok, err := s.deps.Limiter.Allow(c.Request.Context(), key(c))
		if err != nil {
			logger := log.NewLogger(c.Request.Context())
			logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !ok {
			writeError(c, errRateLimited)
			return
		}
		c.Next()
	}
}

func clientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

func userKey(c *gin.Context) string {
	return "user:" + currentUser(c).ID
}

// authenticate resolves the access token from the Authorization header or the
// access_token cookie.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := accessToken(c)
		if token == "" {
			writeError(c, errUnauthorized)
			return
		}
		user, err := s.deps.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger := log.NewLogger(c.Request.Context())
			logger.Debug("authentication failed", zap.String("ip", c.ClientIP()), zap.Error(err))
			writeError(c, err)
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func accessToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := c.Cookie(accessTokenCookie); err == nil {
		return cookie
	}
	return ""
}

// currentUser returns the user set by authenticate.
func currentUser(c *gin.Context) *model.User {
	return c.MustGet(userContextKey).(*model.User)
}

func setAccessCookie(c *gin.Context, token string, expires time.Time, secure bool) {
	maxAge := int(time.Until(expires).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessTokenCookie, token, maxAge, "/", "", secure, true)
}

func clearAccessCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessTokenCookie, "", -1, "/", "", secure, true)
}
