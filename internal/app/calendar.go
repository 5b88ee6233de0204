package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/calendar/auth?business_id=
func (a *App) GoogleAuthHandler(c *gin.Context) {
	if !a.Calendar.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	businessID := c.Query("business_id")
	if businessID == "" {
		businessID = c.GetString(ctxBusinessClaim)
	}
	if !mayActOn(c, businessID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token is not valid for this business"})
		return
	}

	state, err := a.signState(businessID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"auth_url": a.Calendar.AuthURL(state),
		"state":    state,
	})
}

// GET /oauth2callback
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if !a.Calendar.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization code required"})
		return
	}
	businessID, err := a.parseState(c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	if err := a.Calendar.Connect(c.Request.Context(), businessID, code); err != nil {
		a.Logger.Warn("calendar connect failed", zap.String("business_id", businessID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to exchange code for token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "calendar connected",
		"business_id": businessID,
	})
}

// POST /api/businesses/:id/calendar/sync
func (a *App) SyncCalendarHandler(c *gin.Context) {
	res, err := a.SyncCalendar(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
