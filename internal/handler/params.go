package handler

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// Reads the from/to query parameters. Each may be RFC3339, a unix timestamp
// or a YYYY-MM-DD date; a missing bound defaults to the window ending at now.
func parseTimeRange(c *gin.Context, now time.Time, window time.Duration) (time.Time, time.Time, error) {
	to := now.UTC()
	if v := c.Query("to"); v != "" {
		t, err := parseInstant(v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
		}
		to = t
	}

	from := to.Add(-window)
	if v := c.Query("from"); v != "" {
		t, err := parseInstant(v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
		}
		from = t
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return from, to, nil
}

func parseInstant(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(dateLayout, v, time.UTC); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%q is not RFC3339, YYYY-MM-DD or a unix timestamp", v)
}

// Reads limit and offset. A limit outside [1, ceiling] or a negative offset is ignored
func parsePage(c *gin.Context, def, ceiling int) (limit, offset int) {
	limit = def
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= ceiling {
		limit = l
	}
	if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}
