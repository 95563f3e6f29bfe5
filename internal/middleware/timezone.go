package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	timezoneHeader     = "X-Calendar-Timezone"
	locationContextKey = "calendar_location"
)

// Timezone advertises the calendar's display timezone and makes it available
// to handlers parsing local dates.
func Timezone(loc *time.Location) gin.HandlerFunc {
	if loc == nil {
		loc = time.Local
	}
	name := loc.String()
	return func(c *gin.Context) {
		c.Writer.Header().Set(timezoneHeader, name)
		c.Set(locationContextKey, loc)
		c.Next()
	}
}

// Location returns the display location stored by Timezone, or time.Local.
func Location(c *gin.Context) *time.Location {
	if value, exists := c.Get(locationContextKey); exists {
		if loc, ok := value.(*time.Location); ok {
			return loc
		}
	}
	return time.Local
}
