package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-calendar-api/internal/middleware"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	"github.com/noah-isme/elearning-calendar-api/internal/service"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/response"
)

type calendarViewer interface {
	Render(ctx context.Context, claims *models.JWTClaims, req service.ViewRequest) (*models.CalendarView, error)
	Detail(ctx context.Context, claims *models.JWTClaims, id string) (*models.EventDetail, error)
	OverflowLimit() int
}

type calendarEventStore interface {
	List(ctx context.Context, req service.EventListRequest) ([]models.CalendarEvent, *models.Pagination, error)
	Create(ctx context.Context, req service.EventPayload) (*models.CalendarEvent, error)
	Update(ctx context.Context, id string, req service.EventPayload) (*models.CalendarEvent, error)
	Delete(ctx context.Context, id string) error
}

type courseLister interface {
	List(ctx context.Context, claims *models.JWTClaims) ([]models.Course, error)
}

// CalendarHandler exposes stateless calendar views and event management.
type CalendarHandler struct {
	views   calendarViewer
	events  calendarEventStore
	courses courseLister
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(views calendarViewer, events calendarEventStore, courses courseLister) *CalendarHandler {
	return &CalendarHandler{views: views, events: events, courses: courses}
}

// View godoc
// @Summary Render a calendar view
// @Description Builds the month grid or the week/day time-slot layout for the caller.
// @Tags Calendar
// @Produce json
// @Param view query string false "month, week or day" default(month)
// @Param date query string false "Focus date (YYYY-MM-DD)"
// @Param types query string false "Comma separated event types to show"
// @Param hide_courses query string false "Comma separated course keys to hide"
// @Param selected query string false "Selected event ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /calendar/view [get]
func (h *CalendarHandler) View(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req := service.ViewRequest{
		View:       models.ViewMode(c.DefaultQuery("view", string(models.ViewMonth))),
		SelectedID: c.Query("selected"),
	}
	var err error
	if req.Date, err = parseDate(c, c.Query("date")); err != nil {
		response.Error(c, err)
		return
	}
	if req.Types, err = queryTypes(c); err != nil {
		response.Error(c, err)
		return
	}
	req.HiddenCourses, _ = queryList(c, "hide_courses")

	view, err := h.views.Render(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "overflow_limit", h.views.OverflowLimit())
	middleware.SetMeta(c, "timezone", middleware.Location(c).String())
	response.OK(c, view, middleware.ExtractMeta(c))
}

// Courses godoc
// @Summary List the caller's courses
// @Tags Calendar
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /calendar/courses [get]
func (h *CalendarHandler) Courses(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	courses, err := h.courses.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, courses, middleware.ExtractMeta(c))
}

// Detail godoc
// @Summary Event detail
// @Description Returns an event with its status relative to now.
// @Tags Calendar
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /calendar/events/{id} [get]
func (h *CalendarHandler) Detail(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.views.Detail(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, detail, middleware.ExtractMeta(c))
}

// ListEvents godoc
// @Summary List events for management
// @Tags Calendar Events
// @Produce json
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param types query string false "Comma separated event types"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /calendar/events [get]
func (h *CalendarHandler) ListEvents(c *gin.Context) {
	var req service.EventListRequest
	from, err := parseDate(c, c.Query("from"))
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDate(c, c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !from.IsZero() {
		req.From = &from
	}
	if !to.IsZero() {
		end := to.Add(24*time.Hour - time.Nanosecond)
		req.To = &end
	}
	req.Types, _ = queryList(c, "types")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		req.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		req.PageSize = size
	}

	events, pagination, err := h.events.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

// CreateEvent godoc
// @Summary Create event
// @Tags Calendar Events
// @Accept json
// @Produce json
// @Param payload body service.EventPayload true "Event payload"
// @Success 201 {object} response.Envelope
// @Router /calendar/events [post]
func (h *CalendarHandler) CreateEvent(c *gin.Context) {
	var req service.EventPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	event, err := h.events.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// UpdateEvent godoc
// @Summary Update event
// @Tags Calendar Events
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body service.EventPayload true "Event payload"
// @Success 200 {object} response.Envelope
// @Router /calendar/events/{id} [put]
func (h *CalendarHandler) UpdateEvent(c *gin.Context) {
	var req service.EventPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	event, err := h.events.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, event)
}

// DeleteEvent godoc
// @Summary Delete event
// @Tags Calendar Events
// @Param id path string true "Event ID"
// @Success 204
// @Router /calendar/events/{id} [delete]
func (h *CalendarHandler) DeleteEvent(c *gin.Context) {
	if err := h.events.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
