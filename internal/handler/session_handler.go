package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-calendar-api/internal/middleware"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	"github.com/noah-isme/elearning-calendar-api/internal/service"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/response"
)

type calendarSessions interface {
	Mount(ctx context.Context, claims *models.JWTClaims, req service.MountRequest) (*service.SessionView, error)
	View(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error)
	Navigate(ctx context.Context, claims *models.JWTClaims, id string, direction int) (*service.SessionView, error)
	Today(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error)
	GoTo(ctx context.Context, claims *models.JWTClaims, id string, date time.Time) (*service.SessionView, error)
	SetViewMode(ctx context.Context, claims *models.JWTClaims, id string, mode models.ViewMode) (*service.SessionView, error)
	UpdateFilters(ctx context.Context, claims *models.JWTClaims, id string, update service.FilterUpdate) (*service.SessionView, error)
	Select(ctx context.Context, claims *models.JWTClaims, id, eventID string) (*service.SessionView, error)
	ClearSelection(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error)
	Unmount(claims *models.JWTClaims, id string) error
	Subscribe(claims *models.JWTClaims, id string) (<-chan time.Time, func(), error)
	Marker(claims *models.JWTClaims, id string, now time.Time) (service.NowMarker, error)
}

type nowSource interface {
	Now() time.Time
}

// NavigateRequest moves a session one period.
type NavigateRequest struct {
	Direction int `json:"direction" binding:"required,oneof=-1 1"`
}

// GoToRequest focuses a session on a date.
type GoToRequest struct {
	Date string `json:"date" binding:"required"`
}

// ViewModeRequest switches a session layout.
type ViewModeRequest struct {
	View string `json:"view" binding:"required"`
}

// SelectRequest selects an event.
type SelectRequest struct {
	EventID string `json:"event_id" binding:"required"`
}

// SessionHandler exposes mounted calendar sessions.
type SessionHandler struct {
	sessions calendarSessions
	clock    nowSource
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(sessions calendarSessions, clock nowSource) *SessionHandler {
	return &SessionHandler{sessions: sessions, clock: clock}
}

// Mount godoc
// @Summary Mount a calendar session
// @Description Creates server-side calendar state and returns the first render.
// @Tags Calendar Sessions
// @Accept json
// @Produce json
// @Param payload body service.MountRequest false "Initial state"
// @Success 201 {object} response.Envelope
// @Router /calendar/sessions [post]
func (h *SessionHandler) Mount(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.MountRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	view, err := h.sessions.Mount(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+view.SessionID)
	response.JSON(c, http.StatusCreated, view, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Render a mounted session
// @Tags Calendar Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /calendar/sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.View(ctx, claims, id)
	})
}

// Navigate godoc
// @Summary Move one period back or forward
// @Tags Calendar Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body NavigateRequest true "Direction"
// @Success 200 {object} response.Envelope
// @Router /calendar/sessions/{id}/navigate [post]
func (h *SessionHandler) Navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "direction must be -1 or 1"))
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.Navigate(ctx, claims, id, req.Direction)
	})
}

// Today godoc
// @Summary Jump to today
// @Tags Calendar Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /calendar/sessions/{id}/today [post]
func (h *SessionHandler) Today(c *gin.Context) {
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.Today(ctx, claims, id)
	})
}

// GoTo godoc
// @Summary Focus a date
// @Tags Calendar Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body GoToRequest true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /calendar/sessions/{id}/goto [post]
func (h *SessionHandler) GoTo(c *gin.Context) {
	var req GoToRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	date, err := parseDate(c, req.Date)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.GoTo(ctx, claims, id, date)
	})
}

// SetView godoc
// @Summary Switch view mode
// @Tags Calendar Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body ViewModeRequest true "month, week or day"
// @Success 200 {object} response.Envelope
// @Router /calendar/sessions/{id}/view [put]
func (h *SessionHandler) SetView(c *gin.Context) {
	var req ViewModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.SetViewMode(ctx, claims, id, models.ViewMode(req.View))
	})
}

// UpdateFilters godoc
// @Summary Toggle filters
// @Tags Calendar Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.FilterUpdate true "Toggles to change"
// @Success 200 {object} response.Envelope
// @Router /calendar/sessions/{id}/filters [patch]
func (h *SessionHandler) UpdateFilters(c *gin.Context) {
	var req service.FilterUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.UpdateFilters(ctx, claims, id, req)
	})
}

// Select godoc
// @Summary Select an event
// @Tags Calendar Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body SelectRequest true "Event to select"
// @Success 200 {object} response.Envelope
// @Router /calendar/sessions/{id}/selection [put]
func (h *SessionHandler) Select(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.Select(ctx, claims, id, req.EventID)
	})
}

// ClearSelection godoc
// @Summary Close the detail panel
// @Tags Calendar Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /calendar/sessions/{id}/selection [delete]
func (h *SessionHandler) ClearSelection(c *gin.Context) {
	h.respond(c, func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error) {
		return h.sessions.ClearSelection(ctx, claims, id)
	})
}

// Unmount godoc
// @Summary Drop a session
// @Tags Calendar Sessions
// @Param id path string true "Session ID"
// @Success 204
// @Router /calendar/sessions/{id} [delete]
func (h *SessionHandler) Unmount(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.sessions.Unmount(claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Now godoc
// @Summary Stream the now marker
// @Description Server-sent events with the position of "now" in the session's view, one per clock tick.
// @Tags Calendar Sessions
// @Produce text/event-stream
// @Param id path string true "Session ID"
// @Param access_token query string false "Access token for EventSource clients"
// @Success 200 {object} service.NowMarker
// @Router /calendar/sessions/{id}/now [get]
func (h *SessionHandler) Now(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")
	ticks, release, err := h.sessions.Subscribe(claims, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer release()

	send := func(now time.Time) bool {
		marker, err := h.sessions.Marker(claims, id, now)
		if err != nil {
			c.SSEvent("end", appErrors.FromError(err))
			return false
		}
		c.SSEvent("now", marker)
		return true
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")
	first := true
	c.Stream(func(io.Writer) bool {
		if first {
			first = false
			return send(h.clock.Now())
		}
		select {
		case <-c.Request.Context().Done():
			return false
		case now, ok := <-ticks:
			if !ok {
				return false
			}
			return send(now)
		}
	})
}

func (h *SessionHandler) respond(c *gin.Context, fn func(ctx context.Context, claims *models.JWTClaims, id string) (*service.SessionView, error)) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := fn(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view, middleware.ExtractMeta(c))
}
