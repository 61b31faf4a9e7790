package schedule

import (
	"fmt"
	"time"
)

// SlotOption is a candidate replacement window for a contested event. Options
// are immutable once generated; a new request supersedes the whole set.
type SlotOption struct {
	Label   string    `json:"label"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Display string    `json:"display"`
}

// BusyWindow is an occupied interval on some calendar.
type BusyWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// alternativeOffsets is the ladder applied to the original start when
// proposing replacement slots. Order matters: it defines how ordinal replies
// ("the first one") resolve.
var alternativeOffsets = []struct {
	label  string
	offset time.Duration
}{
	{"1 hour earlier", -time.Hour},
	{"1 hour later", time.Hour},
	{"2 hours later", 2 * time.Hour},
}

// GenerateAlternatives returns the three standard replacement slots for a
// window, each preserving the original duration. Zero-duration input yields
// zero-duration alternatives; rejecting that is the caller's business.
func GenerateAlternatives(originalStart, originalEnd time.Time) []SlotOption {
	duration := originalEnd.Sub(originalStart)
	options := make([]SlotOption, 0, len(alternativeOffsets))
	for _, alt := range alternativeOffsets {
		start := originalStart.Add(alt.offset)
		end := start.Add(duration)
		options = append(options, SlotOption{
			Label:   alt.label,
			Start:   start,
			End:     end,
			Display: fmt.Sprintf("%s (%s – %s)", alt.label, start.Format("Mon Jan 2 3:04 PM"), end.Format("3:04 PM")),
		})
	}
	return options
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Back-to-back windows do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// IsAvailable reports whether no busy window overlaps the candidate window.
func IsAvailable(start, end time.Time, busy []BusyWindow) bool {
	for _, w := range busy {
		if Overlaps(start, end, w.Start, w.End) {
			return false
		}
	}
	return true
}
