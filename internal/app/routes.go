package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReadyCheck is one dependency probe behind /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(a.TrustedProxies); err != nil {
		a.Logger.Warn("invalid trusted proxies, forwarding headers ignored", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(Recovery(a.Logger), AccessLog(a.Logger))

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/readyz", a.readyHandler)

	// OAuth2 callback (must be before auth middleware)
	router.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	public := router.Group("/public/links/:token")
	public.Use(a.CORSMiddleware(), a.RateLimit())
	{
		public.GET("", a.PublicLinkHandler)
		public.GET("/slots", a.PublicSlotsHandler)
		public.POST("/requests", a.PublicCreateRequestHandler)
		public.OPTIONS("/*any", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	api := router.Group("/api")
	api.Use(a.Authenticate())
	{
		api.GET("/calendar/auth", a.GoogleAuthHandler)

		biz := api.Group("/businesses/:id")
		biz.Use(RequireBusiness())
		{
			biz.GET("/slots", a.GetSlotsHandler)
			biz.GET("/availability", a.ListAvailabilityHandler)
			biz.PUT("/availability", a.SetAvailabilityHandler)
			biz.GET("/exceptions", a.ListExceptionsHandler)
			biz.PUT("/exceptions", a.SetExceptionsHandler)
			biz.GET("/settings", a.GetSettingsHandler)
			biz.PUT("/settings", a.UpdateSettingsHandler)
			biz.POST("/busy-blocks", a.CreateBusyBlockHandler)
			biz.DELETE("/busy-blocks/:block_id", a.DeleteBusyBlockHandler)
			biz.POST("/requests", a.CreateRequestHandler)
			biz.GET("/requests", a.ListRequestsHandler)
			biz.POST("/requests/:request_id/status", a.UpdateStatusHandler)
			biz.GET("/metrics", a.MetricsHandler)
			biz.POST("/link", a.EnsureLinkHandler)
			biz.POST("/calendar/sync", a.SyncCalendarHandler)
		}
	}
	return router
}

// GET /readyz
func (a *App) readyHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := append([]ReadyCheck{{Name: "store", Check: a.Store.Ping}}, a.Ready...)
	status := gin.H{}
	ready := true
	for _, rc := range checks {
		if err := rc.Check(ctx); err != nil {
			a.Logger.Warn("readiness check failed", zap.String("check", rc.Name), zap.Error(err))
			status[rc.Name] = "unavailable"
			ready = false
			continue
		}
		status[rc.Name] = "ok"
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": status})
}
