package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-calendar-api/internal/calendar"
	"github.com/noah-isme/elearning-calendar-api/internal/middleware"
	"github.com/noah-isme/elearning-calendar-api/internal/models"
	appErrors "github.com/noah-isme/elearning-calendar-api/pkg/errors"
)

const dateLayout = "2006-01-02"

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// parseDate reads a YYYY-MM-DD value as local midnight in the calendar's zone.
func parseDate(c *gin.Context, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.ParseInLocation(dateLayout, raw, middleware.Location(c))
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return parsed, nil
}

// queryList collects comma separated and repeated values of key. The second
// result reports whether the key was present at all.
func queryList(c *gin.Context, key string) ([]string, bool) {
	values, ok := c.GetQueryArray(key)
	if !ok {
		return nil, false
	}
	out := []string{}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out, true
}

// queryTypes parses the types filter. Absent means every type.
func queryTypes(c *gin.Context) ([]models.EventType, error) {
	raw, ok := queryList(c, "types")
	if !ok {
		return nil, nil
	}
	types := make([]models.EventType, 0, len(raw))
	for _, value := range raw {
		t := models.EventType(strings.ToLower(value))
		if !calendar.KnownType(t) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "types must be assignment or announcement")
		}
		types = append(types, t)
	}
	return types, nil
}
