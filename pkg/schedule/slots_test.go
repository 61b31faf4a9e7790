package schedule

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func TestGenerateAlternatives_OffsetsAndOrder(t *testing.T) {
	start := mustTime(t, "2026-09-01T14:00:00Z")
	end := mustTime(t, "2026-09-01T15:00:00Z")

	options := GenerateAlternatives(start, end)
	if len(options) != 3 {
		t.Fatalf("expected 3 alternatives, got %d", len(options))
	}

	wantStarts := []time.Time{
		mustTime(t, "2026-09-01T13:00:00Z"),
		mustTime(t, "2026-09-01T15:00:00Z"),
		mustTime(t, "2026-09-01T16:00:00Z"),
	}
	wantLabels := []string{"1 hour earlier", "1 hour later", "2 hours later"}
	for i, opt := range options {
		if !opt.Start.Equal(wantStarts[i]) {
			t.Errorf("option %d start = %v, want %v", i, opt.Start, wantStarts[i])
		}
		if opt.Label != wantLabels[i] {
			t.Errorf("option %d label = %q, want %q", i, opt.Label, wantLabels[i])
		}
		if opt.Display == "" {
			t.Errorf("option %d has empty display", i)
		}
	}
}

func TestGenerateAlternatives_PreservesDuration(t *testing.T) {
	start := mustTime(t, "2026-09-01T09:15:00Z")
	end := mustTime(t, "2026-09-01T10:45:00Z")

	for i, opt := range GenerateAlternatives(start, end) {
		if got := opt.End.Sub(opt.Start); got != 90*time.Minute {
			t.Errorf("option %d duration = %v, want 90m", i, got)
		}
	}
}

func TestOverlaps(t *testing.T) {
	base := mustTime(t, "2026-09-01T14:00:00Z")
	cases := []struct {
		name                           string
		aStart, aEnd, bStart, bEnd     time.Time
		want                           bool
	}{
		{"identical", base, base.Add(time.Hour), base, base.Add(time.Hour), true},
		{"partial", base, base.Add(time.Hour), base.Add(30 * time.Minute), base.Add(2 * time.Hour), true},
		{"containment", base, base.Add(3 * time.Hour), base.Add(time.Hour), base.Add(2 * time.Hour), true},
		{"back to back", base, base.Add(time.Hour), base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"disjoint", base, base.Add(time.Hour), base.Add(2 * time.Hour), base.Add(3 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
				t.Errorf("Overlaps = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsAvailable(t *testing.T) {
	start := mustTime(t, "2026-09-01T14:00:00Z")
	end := start.Add(time.Hour)

	busy := []BusyWindow{
		{Start: mustTime(t, "2026-09-01T10:00:00Z"), End: mustTime(t, "2026-09-01T11:00:00Z")},
		{Start: mustTime(t, "2026-09-01T13:00:00Z"), End: mustTime(t, "2026-09-01T14:00:00Z")},
	}
	if !IsAvailable(start, end, busy) {
		t.Error("window adjacent to busy slots should be available")
	}

	busy = append(busy, BusyWindow{Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)})
	if IsAvailable(start, end, busy) {
		t.Error("window overlapping a busy slot should not be available")
	}
}
