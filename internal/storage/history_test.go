package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTrimsToCap(t *testing.T) {
	h := NewHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Record("42", CheckPoint{Time: i, Status: "unavailable"})
	}

	pts := h.Recent("42", 0)
	require.Len(t, pts, 3)
	assert.Equal(t, int64(3), pts[0].Time)
	assert.Equal(t, int64(5), pts[2].Time)
}

func TestRecentReturnsCopy(t *testing.T) {
	h := NewHistory(10)
	h.Record("42", CheckPoint{Time: 1, Status: "available"})
	h.Record("42", CheckPoint{Time: 2, Status: "available"})

	pts := h.Recent("42", 1)
	require.Len(t, pts, 1)
	assert.Equal(t, int64(2), pts[0].Time)

	pts[0].Status = "mutated"
	assert.Equal(t, "available", h.Recent("42", 1)[0].Status)
}

func TestSummarize(t *testing.T) {
	now := time.Unix(10_000, 0)
	h := NewHistory(10)
	h.Record("42", CheckPoint{Time: 1_000, Status: "available", LatencyMs: 900}) // outside window
	h.Record("42", CheckPoint{Time: 9_000, Status: "unavailable", LatencyMs: 100})
	h.Record("42", CheckPoint{Time: 9_200, Status: "available", LatencyMs: 200})
	h.Record("42", CheckPoint{Time: 9_400, Status: "available", Errored: true, LatencyMs: 300})
	h.Record("42", CheckPoint{Time: 9_600, Status: "available", LatencyMs: 400})

	s, ok := h.Summarize("42", now, time.Hour)
	require.True(t, ok)
	assert.Equal(t, 4, s.Checks)
	assert.Equal(t, 1, s.Errors)
	assert.InDelta(t, 66.67, s.AvailableRatio, 0.01)
	assert.Equal(t, 250, s.AvgLatencyMs)
	assert.Equal(t, int64(9_600), s.LastCheckTime)

	all, ok := h.Summarize("42", now, 0)
	require.True(t, ok)
	assert.Equal(t, 5, all.Checks)
}

func TestSummarizeEmpty(t *testing.T) {
	h := NewHistory(10)
	_, ok := h.Summarize("42", time.Now(), time.Hour)
	assert.False(t, ok)

	h.Record("42", CheckPoint{Time: 1, Status: "available"})
	_, ok = h.Summarize("42", time.Unix(100_000, 0), time.Minute)
	assert.False(t, ok, "all points outside the window")
}

func TestForget(t *testing.T) {
	h := NewHistory(10)
	h.Record("42", CheckPoint{Time: 1})
	h.Record("7", CheckPoint{Time: 1})

	h.Forget("42")

	assert.Empty(t, h.Recent("42", 0))
	assert.Equal(t, 1, h.Len())
}
