package occupancy

import (
	"time"

	"deskhub-backend/internal/model"
)

// Sitting/standing time is attributed in segments. Each segment runs from
// the session's LastHeightChange to the next height change, release, or
// reclamation, and is bucketed by the desk height at the segment's start:
// below the threshold counts as sitting, at or above as standing.

// flushSegment commits the open segment to the session's stored buckets and
// advances LastHeightChange. heightAtStart is the desk height that held for
// the whole segment. No-op when no time has elapsed.
func flushSegment(s *model.UsageSession, heightAtStart, threshold float64, now time.Time) {
	elapsed := int64(now.Sub(s.LastHeightChange).Seconds())
	if elapsed <= 0 {
		return
	}
	if heightAtStart < threshold {
		s.SittingTime += elapsed
	} else {
		s.StandingTime += elapsed
	}
	s.LastHeightChange = now
}

// projectTotals returns the sitting and standing totals with the open
// segment projected to now, without mutating the session. Live reads use
// this so repeated queries are monotonic while only actual mutations
// persist the segment.
func projectTotals(s *model.UsageSession, currentHeight, threshold float64, now time.Time) (sitting, standing int64) {
	sitting, standing = s.SittingTime, s.StandingTime
	if !s.Open() {
		return sitting, standing
	}
	elapsed := int64(now.Sub(s.LastHeightChange).Seconds())
	if elapsed <= 0 {
		return sitting, standing
	}
	if currentHeight < threshold {
		sitting += elapsed
	} else {
		standing += elapsed
	}
	return sitting, standing
}
