package schedule

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Clock
		ok   bool
	}{
		{"pm marker", "can we do 3pm instead", Clock{15, 0}, true},
		{"am with minutes", "standup is at 9:30am", Clock{9, 30}, true},
		{"noon", "lunch at 12pm", Clock{12, 0}, true},
		{"midnight", "batch runs at 12am", Clock{0, 0}, true},
		{"24h clock", "the slot is 16:00", Clock{16, 0}, true},
		{"bare hour with preposition", "see you at 4", Clock{4, 0}, true},
		{"bare hour around", "drop by around 5", Clock{5, 0}, true},
		{"bare number without preposition", "I have 4 meetings", Clock{}, false},
		{"room number ignored", "we're in room 12", Clock{}, false},
		{"no time at all", "what's on my calendar", Clock{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseClock(tc.text)
			if ok != tc.ok {
				t.Fatalf("ParseClock(%q) ok = %v, want %v", tc.text, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("ParseClock(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}

func TestResolveSelection(t *testing.T) {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	alternatives := []SlotOption{
		{Label: "1 hour earlier", Start: day.Add(13 * time.Hour), End: day.Add(14 * time.Hour)},
		{Label: "1 hour later", Start: day.Add(15 * time.Hour), End: day.Add(16 * time.Hour)},
		{Label: "2 hours later", Start: day.Add(16 * time.Hour), End: day.Add(17 * time.Hour)},
	}

	cases := []struct {
		name  string
		reply string
		want  int
		ok    bool
	}{
		{"spelled ordinal", "the second one please", 1, true},
		{"suffixed ordinal", "1st", 0, true},
		{"bare digit", "3", 2, true},
		{"spoken time", "3pm works for me", 1, true},
		{"spoken 24h time", "16:00 is fine", 2, true},
		{"ordinal beats time", "the first one, not 3pm", 0, true},
		{"time matching nothing", "how about 8pm", -1, false},
		{"no selection", "hmm, let me think", -1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveSelection(tc.reply, alternatives)
			if ok != tc.ok || got != tc.want {
				t.Errorf("ResolveSelection(%q) = %d, %v; want %d, %v", tc.reply, got, ok, tc.want, tc.ok)
			}
		})
	}

	if idx, ok := ResolveSelection("first", nil); ok || idx != -1 {
		t.Errorf("ResolveSelection with no alternatives = %d, %v; want -1, false", idx, ok)
	}
}

func TestIsBookingRequest(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"book a dentist appointment tomorrow at 3pm", true},
		{"can you schedule a haircut session for friday", true},
		{"make a reservation at the italian place", true},
		{"what's on my calendar tomorrow", false},
		{"move my 3pm meeting to 4pm", false},
		{"remind me to call mom", false},
	}
	for _, tc := range cases {
		if got := IsBookingRequest(tc.message); got != tc.want {
			t.Errorf("IsBookingRequest(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestExtractBookingIntent_Tomorrow(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	intent, ok := ExtractBookingIntent("book a dentist appointment tomorrow at 3pm", now, time.UTC)
	if !ok {
		t.Fatal("expected a usable intent")
	}
	if intent.Service != "dentist" {
		t.Errorf("service = %q, want %q", intent.Service, "dentist")
	}
	want := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	if !intent.Start.Equal(want) {
		t.Errorf("start = %v, want %v", intent.Start, want)
	}
	if got := intent.End.Sub(intent.Start); got != time.Hour {
		t.Errorf("duration = %v, want 1h", got)
	}
}

func TestExtractBookingIntent_Weekday(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	intent, ok := ExtractBookingIntent("schedule an appointment with the barber on friday at 9am", now, time.UTC)
	if !ok {
		t.Fatal("expected a usable intent")
	}
	if intent.Service != "barber" {
		t.Errorf("service = %q, want %q", intent.Service, "barber")
	}
	if intent.Start.Weekday() != time.Friday {
		t.Errorf("start weekday = %v, want Friday", intent.Start.Weekday())
	}
	if !intent.Start.After(now) {
		t.Errorf("start %v should be after now %v", intent.Start, now)
	}
	if intent.Start.Hour() != 9 {
		t.Errorf("start hour = %d, want 9", intent.Start.Hour())
	}
}

func TestExtractBookingIntent_DefaultsAndMisses(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	if _, ok := ExtractBookingIntent("book a dentist appointment tomorrow", now, time.UTC); ok {
		t.Error("intent without a time of day should not be usable")
	}

	intent, ok := ExtractBookingIntent("book me an appointment at 5pm", now, time.UTC)
	if !ok {
		t.Fatal("expected a usable intent")
	}
	if intent.Service != "appointment" {
		t.Errorf("service = %q, want fallback %q", intent.Service, "appointment")
	}
	if intent.Start.Day() != now.Day() {
		t.Errorf("date should default to today, got %v", intent.Start)
	}
}
