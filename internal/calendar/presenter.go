package calendar

import (
	"fmt"
	"time"

	"github.com/noah-isme/elearning-calendar-api/internal/models"
	"github.com/noah-isme/elearning-calendar-api/pkg/timeutil"
)

// Status labels shown next to a selected event.
const (
	LabelFinished   = "Finalizado"
	LabelInProgress = "En curso"
	labelEndsInDays = "Termina en %d días"
)

// PresentEvent derives the display facts for event at now. It keeps no state,
// so callers refresh it on every clock tick.
func PresentEvent(event *models.CalendarEvent, now time.Time) *models.EventDetail {
	if event == nil {
		return nil
	}
	detail := &models.EventDetail{
		Event:    event,
		IsPast:   event.End.Before(now),
		IsActive: !event.Start.After(now) && !event.End.Before(now),
	}
	if event.Placeable() {
		loc := now.Location()
		detail.DateRange = timeutil.FormatDateRange(event.Start.In(loc), event.End.In(loc))
	}

	switch {
	case detail.IsPast:
		detail.Status = models.EventStatusPast
		detail.StatusLabel = LabelFinished
	case detail.IsActive:
		detail.Status = models.EventStatusActive
		detail.StatusLabel = LabelInProgress
		detail.DaysRemaining = timeutil.CeilDaysBetween(now, event.End)
	default:
		detail.Status = models.EventStatusUpcoming
		detail.DaysRemaining = timeutil.CeilDaysBetween(now, event.End)
		detail.StatusLabel = fmt.Sprintf(labelEndsInDays, detail.DaysRemaining)
	}
	return detail
}
