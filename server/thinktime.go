package server

import "time"

// TimeFields are the optional timing hints of a /get-move request.
type TimeFields struct {
	ForceThinkTimeMs int
	TimeLeftMs       int
	TurnLimitMs      int
	TurnEndsAt       int64 // epoch millis
}

const (
	thinkFloor  = 200 * time.Millisecond
	thinkCeil   = 5 * time.Second
	dynamicCeil = 10 * time.Second
	safetyMs    = 200
)

// phaseFraction is the share of the remaining clock spent on this move.
func phaseFraction(stones int) float64 {
	switch {
	case stones <= 10:
		return 0.35
	case stones <= 40:
		return 0.55
	default:
		return 0.5
	}
}

// staticThinkTime is the last-resort per-phase default.
func staticThinkTime(stones int) time.Duration {
	switch {
	case stones <= 10:
		return 1500 * time.Millisecond
	case stones <= 40:
		return 3 * time.Second
	default:
		return 1500 * time.Millisecond
	}
}

// ComputeThinkTime resolves the think budget for a request. An explicit
// forceThinkTimeMs wins (clamped to [200ms, 5s]); otherwise the remaining
// clock is preferred over per-turn hints, with an approximated "5+1" time
// control and finally static phase defaults as fallbacks.
func ComputeThinkTime(f TimeFields, stones int, now time.Time) time.Duration {
	if f.ForceThinkTimeMs > 0 {
		return clampDuration(time.Duration(f.ForceThinkTimeMs)*time.Millisecond, thinkFloor, thinkCeil)
	}

	frac := phaseFraction(stones)
	remaining := 0
	switch {
	case f.TimeLeftMs > 0:
		remaining = f.TimeLeftMs
	case f.TurnLimitMs > 0:
		remaining = f.TurnLimitMs
	case f.TurnEndsAt > 0:
		remaining = int(f.TurnEndsAt - now.UnixMilli())
	}
	if remaining > 0 {
		think := time.Duration(float64(remaining)*frac-safetyMs) * time.Millisecond
		return clampDuration(think, thinkFloor, dynamicCeil)
	}

	if f.TimeLeftMs == 0 && f.TurnLimitMs == 0 && f.TurnEndsAt == 0 {
		return staticThinkTime(stones)
	}

	// A timing hint was present but already expired or unusable:
	// approximate a "5+1" time control, budgeting base over forty moves
	// plus the increment.
	perMove := 5*60*1000/40 + 1000
	think := time.Duration(float64(perMove)*frac-safetyMs) * time.Millisecond
	return clampDuration(think, thinkFloor, thinkCeil)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
