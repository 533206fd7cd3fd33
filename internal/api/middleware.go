package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/config"
	"github.com/Gopher0727/KaifLake/internal/handler"
	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	"github.com/Gopher0727/KaifLake/internal/service"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
	"github.com/Gopher0727/KaifLake/utils/ratelimit"
)

// RequestIDHeader carries the trace id in and out of the service.
const RequestIDHeader = "X-Request-ID"

type MiddlewareManager struct {
	authService  service.IAuthService
	rateLimiter  ratelimit.Limiter
	metrics      *metrics.Metrics
	logger       *logger.Logger
	rateLimitCfg *config.RateLimitConfig
}

// NewMiddlewareManager wires the shared middleware. rateLimiter may be nil,
// in which case RateLimiterByEndpoint is a pass-through.
func NewMiddlewareManager(
	authService service.IAuthService,
	rateLimiter ratelimit.Limiter,
	m *metrics.Metrics,
	log *logger.Logger,
	rateLimitCfg *config.RateLimitConfig,
) *MiddlewareManager {
	return &MiddlewareManager{
		authService:  authService,
		rateLimiter:  rateLimiter,
		metrics:      m,
		logger:       log.Named("http"),
		rateLimitCfg: rateLimitCfg,
	}
}

// RequestID 透传或生成 X-Request-ID, 作为日志的 trace_id
func (m *MiddlewareManager) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.WithTraceID(c.Request.Context(), c.GetHeader(RequestIDHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(RequestIDHeader, logger.GetTraceID(ctx))
		c.Next()
	}
}

func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization header required",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header format",
			})
			return
		}
		tokenString := parts[1]

		claims, err := m.authService.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			if !errors.Is(err, service.ErrUnauthorized) {
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
				return
			}
			m.logger.WarnContext(c.Request.Context(), "token validation failed",
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(handler.ContextUserID, claims.UserID)
		c.Set("username", claims.Username)
		c.Set(handler.ContextClaims, claims)
		c.Set(handler.ContextToken, tokenString)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.UserID))

		c.Next()
	}
}

func (m *MiddlewareManager) RateLimiterByEndpoint(endpoint string) gin.HandlerFunc {
	if m.rateLimiter == nil || m.rateLimitCfg == nil || !m.rateLimitCfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	rule := ratelimit.RuleFor(endpoint, m.rateLimitCfg)

	return func(c *gin.Context) {
		// 已登录按用户限流, 否则按 IP
		var key string
		if userID := c.GetString(handler.ContextUserID); userID != "" {
			key = fmt.Sprintf("user:%s:%s", userID, endpoint)
		} else {
			key = fmt.Sprintf("ip:%s:%s", c.ClientIP(), endpoint)
		}

		res, err := m.rateLimiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			m.logger.ErrorContext(c.Request.Context(), "rate limit check failed",
				zap.Error(err),
				zap.String("key", key),
				zap.String("endpoint", endpoint),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "rate limit check failed",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Allowed {
			retryAfter := max(int(time.Until(res.ResetAt).Seconds()), 1)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
				"remaining":   res.Remaining,
			})
			return
		}

		c.Next()
	}
}

// Metrics records every request under its route template.
func (m *MiddlewareManager) Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.metrics.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		// user_id 与 trace_id 由 WithContext 从请求上下文带出
		log := m.logger.WithContext(c.Request.Context())
		switch {
		case statusCode >= 500:
			log.Error("server error", fields...)
		case statusCode >= 400:
			log.Warn("client error", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}

func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.ErrorContext(c.Request.Context(), "panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
