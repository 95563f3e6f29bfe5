package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-calendar-api/internal/middleware"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	"github.com/noah-isme/elearning-calendar-api/internal/service"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/response"
)

type calendarExporter interface {
	Export(ctx context.Context, claims *models.JWTClaims, req service.ExportRequest) (*service.ExportFile, error)
}

type calendarFeeds interface {
	Issue(ctx context.Context, claims *models.JWTClaims, req service.FeedRequest) (*service.FeedLink, error)
	Serve(ctx context.Context, token string) (*service.ExportFile, error)
}

// ExportHandler serves calendar downloads and subscription feeds.
type ExportHandler struct {
	exports calendarExporter
	feeds   calendarFeeds
}

// NewExportHandler constructs the handler.
func NewExportHandler(exports calendarExporter, feeds calendarFeeds) *ExportHandler {
	return &ExportHandler{exports: exports, feeds: feeds}
}

// Export godoc
// @Summary Download the calendar
// @Description Renders the caller's calendar as iCalendar, CSV, a PDF month grid or a PDF agenda.
// @Tags Calendar Export
// @Produce text/calendar
// @Produce text/csv
// @Produce application/pdf
// @Param format query string true "ics, csv, pdf or agenda"
// @Param date query string false "Month to export (YYYY-MM-DD)"
// @Param from query string false "Range start (YYYY-MM-DD)"
// @Param to query string false "Range end (YYYY-MM-DD)"
// @Param types query string false "Comma separated event types"
// @Param hide_courses query string false "Comma separated course keys to hide"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /calendar/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format, err := service.ParseExportFormat(c.DefaultQuery("format", string(service.ExportICS)))
	if err != nil {
		response.Error(c, err)
		return
	}
	req := service.ExportRequest{Format: format}
	if req.Date, err = parseDate(c, c.Query("date")); err != nil {
		response.Error(c, err)
		return
	}
	if req.From, err = parseDate(c, c.Query("from")); err != nil {
		response.Error(c, err)
		return
	}
	if req.To, err = parseDate(c, c.Query("to")); err != nil {
		response.Error(c, err)
		return
	}
	if req.Types, err = queryTypes(c); err != nil {
		response.Error(c, err)
		return
	}
	req.HiddenCourses, _ = queryList(c, "hide_courses")

	file, err := h.exports.Export(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// IssueFeed godoc
// @Summary Create a subscription feed URL
// @Tags Calendar Export
// @Accept json
// @Produce json
// @Param payload body service.FeedRequest false "Feed filters"
// @Success 201 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /calendar/feed [post]
func (h *ExportHandler) IssueFeed(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.FeedRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	link, err := h.feeds.Issue(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, link, nil, middleware.ExtractMeta(c))
}

// Feed godoc
// @Summary Subscription feed
// @Description Public iCalendar feed addressed by a signed token.
// @Tags Calendar Export
// @Produce text/calendar
// @Param token path string true "Feed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /calendar/feed/{token} [get]
func (h *ExportHandler) Feed(c *gin.Context) {
	file, err := h.feeds.Serve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "inline; filename=\""+file.Filename+"\"")
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, file.ContentType, file.Body)
}
