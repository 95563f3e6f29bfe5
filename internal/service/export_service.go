package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
	"github.com/noah-isme/elearning-calendar-api/pkg/export"
	"github.com/noah-isme/elearning-calendar-api/pkg/timeutil"
)

// ExportFormat names a downloadable rendition of the calendar.
type ExportFormat string

const (
	ExportICS    ExportFormat = "ics"
	ExportCSV    ExportFormat = "csv"
	ExportPDF    ExportFormat = "pdf"
	ExportAgenda ExportFormat = "agenda"
)

// ParseExportFormat validates a format name.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case ExportICS, ExportCSV, ExportPDF, ExportAgenda:
		return f, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "format must be ics, csv, pdf or agenda")
	}
}

type scopedLoader interface {
	Location() *time.Location
	Now() time.Time
	OverflowLimit() int
	Load(ctx context.Context, claims *models.JWTClaims, r models.DateRange) ([]*models.CalendarEvent, CourseScope, error)
}

// ExportConfig sets document metadata.
type ExportConfig struct {
	ProductID    string
	CalendarName string
	Reminder     time.Duration
	// EventURL is formatted with the event id to build per-event links.
	EventURL string
}

// ExportRequest selects the period and filters to export. With From/To
// unset the month grid around Date is used.
type ExportRequest struct {
	Format        ExportFormat
	Date          time.Time
	From          time.Time
	To            time.Time
	Types         []models.EventType
	HiddenCourses []string
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders calendar data to ICS, CSV and PDF.
type ExportService struct {
	loader  scopedLoader
	ics     *export.ICSExporter
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs the service.
func NewExportService(loader scopedLoader, ics *export.ICSExporter, csv *export.CSVExporter, pdf *export.PDFExporter, metrics *MetricsService, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CalendarName == "" {
		cfg.CalendarName = "Calendario académico"
	}
	return &ExportService{loader: loader, ics: ics, csv: csv, pdf: pdf, metrics: metrics, logger: logger, cfg: cfg}
}

// Export renders req for the viewer.
func (s *ExportService) Export(ctx context.Context, claims *models.JWTClaims, req ExportRequest) (*ExportFile, error) {
	loc := s.loader.Location()
	focus := req.Date
	if focus.IsZero() {
		focus = s.loader.Now()
	}
	focus = focus.In(loc)

	r := calendar.MonthGridRange(focus)
	if !req.From.IsZero() || !req.To.IsZero() {
		if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "from and to must both be set and ordered")
		}
		r = models.DateRange{From: timeutil.StartOfDay(req.From.In(loc)), To: timeutil.EndOfDay(req.To.In(loc))}
	}

	events, _, err := s.loader.Load(ctx, claims, r)
	if err != nil {
		return nil, err
	}
	filters := ViewRequest{Types: req.Types, HiddenCourses: req.HiddenCourses}.Filters()
	events = calendar.FilterEvents(events, filters)

	stamp := focus.Format("2006-01")
	var file *ExportFile
	switch req.Format {
	case ExportICS:
		body, err := s.renderICS(events)
		if err != nil {
			return nil, err
		}
		file = &ExportFile{Filename: "calendario-" + stamp + ".ics", ContentType: "text/calendar; charset=utf-8", Body: body}
	case ExportCSV:
		body, err := s.csv.Render(s.agenda(events))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		file = &ExportFile{Filename: "calendario-" + stamp + ".csv", ContentType: "text/csv; charset=utf-8", Body: body}
	case ExportAgenda:
		title := fmt.Sprintf("Agenda %s - %s", timeutil.FormatDate(r.From), timeutil.FormatDate(r.To))
		body, err := s.pdf.Render(s.agenda(events), title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render agenda")
		}
		file = &ExportFile{Filename: "agenda-" + stamp + ".pdf", ContentType: "application/pdf", Body: body}
	case ExportPDF:
		body, err := s.pdf.RenderGrid(s.sheet(focus, events))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render month")
		}
		file = &ExportFile{Filename: "calendario-" + stamp + ".pdf", ContentType: "application/pdf", Body: body}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	s.metrics.RecordExport(string(req.Format))
	return file, nil
}

func (s *ExportService) renderICS(events []*models.CalendarEvent) ([]byte, error) {
	items := make([]export.ICSEvent, 0, len(events))
	for _, event := range events {
		if !event.Placeable() {
			continue
		}
		item := export.ICSEvent{
			UID:         event.ID + "@calendar",
			Summary:     summary(event),
			Description: event.Description,
			Category:    string(event.Type),
			Start:       event.Start,
			End:         event.End,
			Created:     event.CreatedAt,
			Updated:     event.UpdatedAt,
		}
		if calendar.BucketOf(event.Type) == calendar.BucketAssignment {
			item.Reminder = s.cfg.Reminder
		}
		if s.cfg.EventURL != "" {
			item.URL = fmt.Sprintf(s.cfg.EventURL, event.ID)
		}
		items = append(items, item)
	}
	body, err := s.ics.Render(export.ICSCalendar{
		Name:     s.cfg.CalendarName,
		Timezone: s.loader.Location().String(),
		Events:   items,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render ics")
	}
	return body, nil
}

func (s *ExportService) agenda(events []*models.CalendarEvent) export.Dataset {
	data := export.Dataset{Headers: []string{"Fecha", "Horario", "Título", "Tipo", "Curso", "Estado"}}
	loc := s.loader.Location()
	now := s.loader.Now()
	for _, event := range events {
		if !event.Placeable() {
			continue
		}
		start, end := event.Start.In(loc), event.End.In(loc)
		course := ""
		if event.CourseTitle != nil {
			course = *event.CourseTitle
		}
		data.Append(map[string]string{
			"Fecha":   start.Format("02/01/2006"),
			"Horario": timeutil.FormatTime(start) + " - " + timeutil.FormatTime(end),
			"Título":  event.Title,
			"Tipo":    typeLabel(event.Type),
			"Curso":   course,
			"Estado":  calendar.PresentEvent(event, now).StatusLabel,
		})
	}
	return data
}

func (s *ExportService) sheet(focus time.Time, events []*models.CalendarEvent) export.GridSheet {
	grid := calendar.BuildMonthGrid(focus, s.loader.Now(), events)
	limit := s.loader.OverflowLimit()
	sheet := export.GridSheet{Title: grid.Title, MoreLabel: "+%d más", Cells: make([]export.GridCell, len(grid.Cells))}
	for d := time.Sunday; d <= time.Saturday; d++ {
		sheet.Weekdays = append(sheet.Weekdays, timeutil.WeekdayName(d))
	}
	for i, cell := range grid.Cells {
		lines := make([]string, 0, limit)
		for _, event := range cell.Visible(limit) {
			lines = append(lines, timeutil.FormatTime(event.Start.In(focus.Location()))+" "+event.Title)
		}
		sheet.Cells[i] = export.GridCell{
			Day:       cell.Day,
			Muted:     !cell.IsCurrentMonth,
			Highlight: cell.IsToday,
			Lines:     lines,
			More:      cell.Hidden(limit),
		}
	}
	return sheet
}

func summary(event *models.CalendarEvent) string {
	if event.CourseCode != nil && *event.CourseCode != "" {
		return fmt.Sprintf("[%s] %s", *event.CourseCode, event.Title)
	}
	return event.Title
}

func typeLabel(t models.EventType) string {
	if calendar.BucketOf(t) == calendar.BucketAssignment {
		return "Tarea"
	}
	return "Anuncio"
}
