package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/cbdata/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	start := time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)
	done := start.Add(2 * time.Minute)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Mode:        "archive",
			Status:      model.RunStatusComplete,
			StartedAt:   start,
			CompletedAt: &done,
			RowsWritten: 512,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Mode:      "historical",
			Status:    model.RunStatusFailed,
			StartedAt: start.Add(-time.Hour),
			Error:     "historical: collector: no source returned a snapshot for today",
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs, start.Add(time.Hour))

	out := buf.String()
	assert.Contains(t, out, "MODE")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "archive")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "512")
	assert.Contains(t, out, "2025-06-15 10:30")
	assert.Contains(t, out, "2m0s")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "2h0m0s")
	assert.Contains(t, out, "...")
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	d1 := now.Add(10 * time.Second)
	d2 := now.Add(-time.Hour + 30*time.Second)
	runs := []model.Run{
		{Mode: "archive", Status: model.RunStatusComplete, StartedAt: now, CompletedAt: &d1, RowsWritten: 100},
		{Mode: "archive", Status: model.RunStatusComplete, StartedAt: now.Add(-time.Hour), CompletedAt: &d2, RowsWritten: 50},
		{Mode: "quality", Status: model.RunStatusFailed, StartedAt: now},
		{Mode: "full", Status: model.RunStatusRunning, StartedAt: now},
		{Mode: "full", Status: model.RunStatusComplete, StartedAt: now.Add(-48 * time.Hour)},
	}

	s := computeRunStats(runs, now.Add(-24*time.Hour))
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, int64(150), s.Rows)
	assert.Equal(t, 2, s.ByMode["archive"])
	assert.InDelta(t, 20.0, s.AvgDurSecs, 0.001)

	all := computeRunStats(runs, time.Time{})
	assert.Equal(t, 5, all.Total)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Total runs:")
	assert.Contains(t, buf.String(), "archive:")
	assert.Contains(t, buf.String(), "Avg duration:")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
