package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", clientKey(c)),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, zap.String("business_id", id))
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// Recovery turns panics into a 500 and logs them.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// RateLimit applies the injected limiter per client. Limiter failures fail open.
func (a *App) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)
		ok, err := a.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			a.Logger.Warn("rate limiter error", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			a.Logger.Warn("rate limit exceeded", zap.String("ip", key))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, try again later"})
			return
		}
		c.Next()
	}
}

func (a *App) CORSMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(a.CORS) == 0 || containsStar(a.CORS) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = a.CORS
	}
	return cors.New(cfg)
}

func containsStar(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// clientKey is the caller's IP. Forwarding headers count only when the direct peer is
// one of the router's trusted proxies.
func clientKey(c *gin.Context) string {
	return c.ClientIP()
}
