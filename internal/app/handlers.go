package app

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"booking-engine/internal/intake"
	"booking-engine/internal/links"
	"booking-engine/internal/model"
)

func optionalQuery(c *gin.Context, key string) *string {
	if v, ok := c.GetQuery(key); ok && v != "" {
		return &v
	}
	return nil
}

// GET /api/businesses/:id/slots?date=YYYY-MM-DD&service_id=
func (a *App) GetSlotsHandler(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		badRequest(c, "date required (YYYY-MM-DD)")
		return
	}
	slots, err := a.ListSlots(c.Request.Context(), c.Param("id"), date, optionalQuery(c, "service_id"))
	if err != nil {
		a.writeSlotsError(c, err)
		return
	}
	c.JSON(http.StatusOK, slots)
}

// GET /api/businesses/:id/availability
func (a *App) ListAvailabilityHandler(c *gin.Context) {
	windows, err := a.ListAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

// PUT /api/businesses/:id/availability
// Replaces the whole weekly schedule.
func (a *App) SetAvailabilityHandler(c *gin.Context) {
	var payload []model.AvailabilityWindow
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err.Error())
		return
	}
	saved, err := a.ReplaceAvailability(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// GET /api/businesses/:id/exceptions?date=
func (a *App) ListExceptionsHandler(c *gin.Context) {
	out, err := a.ListExceptions(c.Request.Context(), c.Param("id"), c.Query("date"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// PUT /api/businesses/:id/exceptions
func (a *App) SetExceptionsHandler(c *gin.Context) {
	var req exceptionsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	saved, err := a.ReplaceExceptions(c.Request.Context(), c.Param("id"), req.Dates, req.Exceptions)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// GET /api/businesses/:id/settings
func (a *App) GetSettingsHandler(c *gin.Context) {
	s, err := a.GetSettings(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// PUT /api/businesses/:id/settings
func (a *App) UpdateSettingsHandler(c *gin.Context) {
	var payload model.BookingSettings
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err.Error())
		return
	}
	s, err := a.UpdateSettings(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// POST /api/businesses/:id/busy-blocks
func (a *App) CreateBusyBlockHandler(c *gin.Context) {
	var req busyBlockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	b, err := a.CreateBusyBlock(c.Request.Context(), c.Param("id"), model.BusyBlock{
		Start:  req.Start,
		End:    req.End,
		Reason: req.Reason,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// DELETE /api/businesses/:id/busy-blocks/:block_id
func (a *App) DeleteBusyBlockHandler(c *gin.Context) {
	if err := a.DeleteBusyBlock(c.Request.Context(), c.Param("id"), c.Param("block_id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/businesses/:id/requests
func (a *App) CreateRequestHandler(c *gin.Context) {
	var p intake.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := a.CreateRequest(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		a.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, requestCreatedResp{Request: res.Request, IsDuplicate: res.Duplicate})
}

// GET /api/businesses/:id/requests?status=&limit=
func (a *App) ListRequestsHandler(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	out, err := a.ListRequests(c.Request.Context(), c.Param("id"), model.Status(c.Query("status")), limit)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// POST /api/businesses/:id/requests/:request_id/status
func (a *App) UpdateStatusHandler(c *gin.Context) {
	var in intake.TransitionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	r, err := a.UpdateStatus(c.Request.Context(), c.Param("id"), c.Param("request_id"), in)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// GET /api/businesses/:id/metrics?range=7d|30d|90d
func (a *App) MetricsHandler(c *gin.Context) {
	m, err := a.GetMetrics(c.Request.Context(), c.Param("id"), c.Query("range"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// POST /api/businesses/:id/link
func (a *App) EnsureLinkHandler(c *gin.Context) {
	link, err := a.EnsureLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, linkResp{
		Code:      link.Code,
		Slug:      link.Slug,
		Token:     links.URLToken(link),
		CreatedAt: link.CreatedAt,
	})
}

// resolveToken maps the :token path segment to a business, writing the error response on a miss.
func (a *App) resolveToken(c *gin.Context) (links.Resolution, bool) {
	res, err := a.ResolvePublicLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		a.writeError(c, err)
		return links.Resolution{}, false
	}
	return res, true
}

// GET /public/links/:token
func (a *App) PublicLinkHandler(c *gin.Context) {
	res, ok := a.resolveToken(c)
	if !ok {
		return
	}
	s, err := a.GetSettings(c.Request.Context(), res.BusinessID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, publicLinkResp{
		BusinessID:  res.BusinessID,
		Source:      string(res.Source),
		Timezone:    s.Timezone,
		BookingMode: s.BookingMode,
		MaxDaysOut:  s.MaxDaysOut,
	})
}

// GET /public/links/:token/slots?date=&service_id=
func (a *App) PublicSlotsHandler(c *gin.Context) {
	res, ok := a.resolveToken(c)
	if !ok {
		return
	}
	date := c.Query("date")
	if date == "" {
		badRequest(c, "date required (YYYY-MM-DD)")
		return
	}
	slots, err := a.ListSlots(c.Request.Context(), res.BusinessID, date, optionalQuery(c, "service_id"))
	if err != nil {
		a.writeSlotsError(c, err)
		return
	}
	c.JSON(http.StatusOK, slots)
}

// POST /public/links/:token/requests
func (a *App) PublicCreateRequestHandler(c *gin.Context) {
	res, ok := a.resolveToken(c)
	if !ok {
		return
	}
	var p intake.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	created, err := a.CreateRequest(c.Request.Context(), res.BusinessID, p)
	if err != nil {
		a.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if created.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, publicRequestResp{
		ID:          created.Request.ID,
		Status:      created.Request.Status,
		IsDuplicate: created.Duplicate,
	})
}
