package playback

import "time"

// TargetPosition translates a server position assertion into where playback
// should be at the given instant. Applied only when a source (re)starts;
// between restarts the source's own clock is authoritative. Clock skew that
// would put the target before the asserted position floors at it.
func TargetPosition(record *NowPlayingRecord, now time.Time) float64 {
	elapsed := float64(now.UnixMilli()-record.ServerTimestampMs) / 1000

	if elapsed < 0 {
		elapsed = 0
	}

	position := record.PositionAtTimestampSeconds + elapsed
	if position < 0 {
		return 0
	}

	return position
}
