package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetPositionAdvancesWithWallClock(t *testing.T) {
	asserted := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	record := &NowPlayingRecord{
		VideoId:                    "abc",
		ServerTimestampMs:          asserted.UnixMilli(),
		PositionAtTimestampSeconds: 10,
	}

	assert.InDelta(t, 10, TargetPosition(record, asserted), 0.001)
	assert.InDelta(t, 13, TargetPosition(record, asserted.Add(3*time.Second)), 0.001)
	assert.InDelta(t, 70, TargetPosition(record, asserted.Add(time.Minute)), 0.001)
}

func TestTargetPositionMonotonicNonNegative(t *testing.T) {
	asserted := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	record := &NowPlayingRecord{
		VideoId:                    "abc",
		ServerTimestampMs:          asserted.UnixMilli(),
		PositionAtTimestampSeconds: 0,
	}

	prev := -1.0
	for offset := -10 * time.Second; offset <= 10*time.Second; offset += 500 * time.Millisecond {
		pos := TargetPosition(record, asserted.Add(offset))
		assert.GreaterOrEqual(t, pos, 0.0)
		assert.GreaterOrEqual(t, pos, prev, "target position must not decrease as now advances")
		prev = pos
	}
}

func TestTargetPositionClockSkewFloorsAtAssertedPosition(t *testing.T) {
	asserted := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	record := &NowPlayingRecord{
		VideoId:                    "abc",
		ServerTimestampMs:          asserted.UnixMilli(),
		PositionAtTimestampSeconds: 42,
	}

	// Local clock behind the server's: stay at the asserted position.
	assert.InDelta(t, 42, TargetPosition(record, asserted.Add(-5*time.Second)), 0.001)
}
