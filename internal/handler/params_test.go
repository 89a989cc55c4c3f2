package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryContext(query string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?"+query, nil)
	return c
}

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		query    string
		from, to time.Time
	}{
		{"defaults to window ending now", "", now.Add(-24 * time.Hour), now},
		{"rfc3339", "from=2025-01-01T00:00:00Z&to=2025-01-02T00:00:00Z",
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"dates", "from=2025-01-01&to=2025-01-03",
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
		{"unix seconds", "from=1735689600", time.Unix(1735689600, 0).UTC(), now},
		{"window follows to", "to=2025-01-05", time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := parseTimeRange(queryContext(tt.query), now, 24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tt.from, from)
			assert.Equal(t, tt.to, to)
		})
	}

	_, _, err := parseTimeRange(queryContext("from=yesterday"), now, time.Hour)
	assert.ErrorContains(t, err, "invalid from")

	_, _, err = parseTimeRange(queryContext("from=2025-01-03&to=2025-01-01"), now, time.Hour)
	assert.Error(t, err)
}

func TestParsePage(t *testing.T) {
	limit, offset := parsePage(queryContext(""), 100, 1000)
	assert.Equal(t, 100, limit)
	assert.Zero(t, offset)

	limit, offset = parsePage(queryContext("limit=20&offset=40"), 100, 1000)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 40, offset)

	limit, offset = parsePage(queryContext("limit=5000&offset=-1"), 100, 1000)
	assert.Equal(t, 100, limit)
	assert.Zero(t, offset)
}
