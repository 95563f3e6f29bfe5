package export

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
)

// ICSEvent is one VEVENT. A positive Reminder adds a display alarm that
// fires that long before Start.
type ICSEvent struct {
	UID         string
	Summary     string
	Description string
	Category    string
	URL         string
	Start       time.Time
	End         time.Time
	Created     time.Time
	Updated     time.Time
	Reminder    time.Duration
}

// ICSCalendar groups events under a named calendar.
type ICSCalendar struct {
	Name     string
	Timezone string
	Events   []ICSEvent
}

// ICSExporter renders iCalendar documents.
type ICSExporter struct {
	productID string
	now       func() time.Time
}

// NewICSExporter builds an exporter stamping documents with productID.
func NewICSExporter(productID string) *ICSExporter {
	return &ICSExporter{productID: productID, now: time.Now}
}

// WithClock overrides the DTSTAMP source.
func (e *ICSExporter) WithClock(now func() time.Time) *ICSExporter {
	e.now = now
	return e
}

// Render serialises cal. Events without a UID or a start are rejected.
func (e *ICSExporter) Render(cal ICSCalendar) ([]byte, error) {
	doc := ics.NewCalendar()
	doc.SetMethod(ics.MethodPublish)
	if e.productID != "" {
		doc.SetProductId(e.productID)
	}
	if cal.Name != "" {
		doc.SetXWRCalName(cal.Name)
	}
	if cal.Timezone != "" {
		doc.SetXWRTimezone(cal.Timezone)
	}

	stamp := e.now().UTC()
	for _, item := range cal.Events {
		if item.UID == "" || item.Start.IsZero() {
			return nil, fmt.Errorf("ics event requires uid and start (uid=%q)", item.UID)
		}
		event := doc.AddEvent(item.UID)
		event.SetDtStampTime(stamp)
		event.SetStartAt(item.Start)
		end := item.End
		if end.Before(item.Start) {
			end = item.Start
		}
		event.SetEndAt(end)
		event.SetSummary(item.Summary)
		if item.Description != "" {
			event.SetDescription(item.Description)
		}
		if item.Category != "" {
			event.SetProperty(ics.ComponentPropertyCategories, item.Category)
		}
		if item.URL != "" {
			event.SetURL(item.URL)
		}
		if !item.Created.IsZero() {
			event.SetCreatedTime(item.Created)
		}
		if !item.Updated.IsZero() {
			event.SetModifiedAt(item.Updated)
		}
		if item.Reminder > 0 {
			alarm := event.AddAlarm()
			alarm.SetProperty(ics.ComponentPropertyAction, string(ics.ActionDisplay))
			alarm.SetProperty(ics.ComponentPropertyTrigger, Trigger(item.Reminder))
			alarm.SetProperty(ics.ComponentPropertyDescription, item.Summary)
		}
	}

	return []byte(doc.Serialize()), nil
}

// Trigger formats a negative relative alarm offset such as -PT1D2H30M.
func Trigger(before time.Duration) string {
	minutes := int(before.Round(time.Minute) / time.Minute)
	days := minutes / (24 * 60)
	hours := (minutes % (24 * 60)) / 60
	mins := minutes % 60

	out := "-P"
	if days > 0 {
		out += fmt.Sprintf("%dD", days)
	}
	if hours > 0 || mins > 0 || days == 0 {
		out += "T"
		if hours > 0 {
			out += fmt.Sprintf("%dH", hours)
		}
		if mins > 0 || hours == 0 {
			out += fmt.Sprintf("%dM", mins)
		}
	}
	return out
}
