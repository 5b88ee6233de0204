package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"booking-engine/internal/model"
)

var statusByCode = map[model.Code]int{
	model.CodeValidation:        http.StatusBadRequest,
	model.CodeInvalidService:    http.StatusUnprocessableEntity,
	model.CodeOutOfRange:        http.StatusUnprocessableEntity,
	model.CodeLinkNotFound:      http.StatusNotFound,
	model.CodeUpstream:          http.StatusServiceUnavailable,
	model.CodeNotFound:          http.StatusNotFound,
	model.CodeSlotUnavailable:   http.StatusConflict,
	model.CodeInvalidTransition: http.StatusConflict,
	model.CodeBookingDisabled:   http.StatusForbidden,
}

// writeError maps the error taxonomy onto HTTP. Upstream details stay in the log.
func (a *App) writeError(c *gin.Context, err error) {
	var coded *model.Error
	if !errors.As(err, &coded) {
		a.Logger.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status, ok := statusByCode[coded.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := coded.Message
	if coded.Code == model.CodeUpstream {
		a.Logger.Warn("upstream failure", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "a dependency is unavailable, try again later"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": coded.Code})
}

// writeSlotsError keeps the slots response shape for out-of-range dates.
func (a *App) writeSlotsError(c *gin.Context, err error) {
	if model.CodeOf(err) == model.CodeOutOfRange {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"slots": []Slot{}, "reason": model.CodeOutOfRange})
		return
	}
	a.writeError(c, err)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": model.CodeValidation})
}
