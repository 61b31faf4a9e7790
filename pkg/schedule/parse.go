package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The heuristics below are deliberately quarantined in this package: the
// orchestration loop treats their output as untrusted input and validates it
// before acting on it.

var (
	clockRegex   = regexp.MustCompile(`(?i)\b([01]?\d|2[0-3])(?::([0-5]\d))?\s*(am|pm)?\b`)
	ordinalRegex = regexp.MustCompile(`(?i)\b(first|second|third|1st|2nd|3rd|[123])\b`)
	bookingRegex = regexp.MustCompile(`(?i)\b(book|schedule|reserve|make)\b.{0,60}\b(appointment|booking|reservation|session|visit)\b`)
	serviceRegex     = regexp.MustCompile(`(?i)\b(?:appointment|booking|reservation|session|visit)\s+(?:for|at|with)\s+(?:a\s+|an\s+|the\s+)?([a-z][a-z .'&-]{1,40}?)(?:\s+(?:on|at|for|tomorrow|today)\b|[.,!?]|$)`)
	preServiceRegex  = regexp.MustCompile(`(?i)\b(?:book|schedule|reserve|make)\s+(?:a\s+|an\s+|the\s+)?([a-z][a-z '&-]{1,40}?)\s+(?:appointment|booking|reservation|session|visit)\b`)
)

var ordinalIndex = map[string]int{
	"first": 0, "1st": 0, "1": 0,
	"second": 1, "2nd": 1, "2": 1,
	"third": 2, "3rd": 2, "3": 2,
}

// Clock is a wall-clock time of day extracted from free text.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock extracts the first plausible time of day from text. Explicit
// am/pm markers are honored; a bare "16:00" is taken as 24h. Bare hours
// without am/pm or minutes ("at 4") are accepted only when prefixed by
// "at"/"around"/"by" to keep false positives down. Impossible values never
// come back: the regex alone bounds hour and minute ranges.
func ParseClock(text string) (Clock, bool) {
	for _, m := range clockRegex.FindAllStringSubmatchIndex(text, -1) {
		raw := text[m[0]:m[1]]
		sub := clockRegex.FindStringSubmatch(raw)
		hour, err := strconv.Atoi(sub[1])
		if err != nil {
			continue
		}
		minute := 0
		if sub[2] != "" {
			minute, _ = strconv.Atoi(sub[2])
		}
		meridiem := strings.ToLower(sub[3])

		if meridiem == "" && sub[2] == "" {
			// Bare number. Require a temporal preposition right before it.
			prefix := strings.ToLower(strings.TrimSpace(text[:m[0]]))
			if !strings.HasSuffix(prefix, "at") && !strings.HasSuffix(prefix, "around") && !strings.HasSuffix(prefix, "by") {
				continue
			}
		}

		switch meridiem {
		case "pm":
			if hour > 12 {
				continue
			}
			if hour != 12 {
				hour += 12
			}
		case "am":
			if hour > 12 {
				continue
			}
			if hour == 12 {
				hour = 0
			}
		}
		return Clock{Hour: hour, Minute: minute}, true
	}
	return Clock{}, false
}

// ResolveSelection maps a user reply to an index into alternatives. Ordinal
// tokens win over spoken times; a spoken time must match an alternative's
// start hour and minute exactly, first match wins. Returns -1, false when
// nothing resolves, in which case the proposal stays open.
func ResolveSelection(reply string, alternatives []SlotOption) (int, bool) {
	if len(alternatives) == 0 {
		return -1, false
	}

	if m := ordinalRegex.FindString(reply); m != "" {
		if idx, ok := ordinalIndex[strings.ToLower(m)]; ok && idx < len(alternatives) {
			return idx, true
		}
	}

	if clock, ok := ParseClock(reply); ok {
		for i, alt := range alternatives {
			if alt.Start.Hour() == clock.Hour && alt.Start.Minute() == clock.Minute {
				return i, true
			}
		}
	}

	return -1, false
}

// BookingIntent is the parsed shape of an appointment-booking request.
type BookingIntent struct {
	Service string
	Start   time.Time
	End     time.Time
}

// IsBookingRequest reports whether a message reads as an appointment-booking
// request. Simple cue matching; the booking sub-flow re-validates everything
// it actually acts on.
func IsBookingRequest(message string) bool {
	return bookingRegex.MatchString(message)
}

// ExtractBookingIntent pulls service, date, and time out of a booking
// request. The date defaults to today in loc, "tomorrow" shifts it by a day.
// A one-hour duration is assumed when none is stated. Returns false when no
// usable time of day is present.
func ExtractBookingIntent(message string, now time.Time, loc *time.Location) (BookingIntent, bool) {
	if loc == nil {
		loc = time.Local
	}
	clock, ok := ParseClock(message)
	if !ok {
		return BookingIntent{}, false
	}

	day := now.In(loc)
	lower := strings.ToLower(message)
	if strings.Contains(lower, "tomorrow") {
		day = day.AddDate(0, 0, 1)
	} else if weekday, ok := parseWeekday(lower); ok {
		for day.Weekday() != weekday {
			day = day.AddDate(0, 0, 1)
		}
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour, clock.Minute, 0, 0, loc)
	intent := BookingIntent{
		Service: extractService(message),
		Start:   start,
		End:     start.Add(time.Hour),
	}
	return intent, true
}

func extractService(message string) string {
	if m := preServiceRegex.FindStringSubmatch(message); len(m) > 1 {
		if s := cleanService(m[1]); s != "" {
			return s
		}
	}
	if m := serviceRegex.FindStringSubmatch(message); len(m) > 1 {
		if s := cleanService(m[1]); s != "" {
			return s
		}
	}
	return "appointment"
}

// cleanService strips stranded articles and pronouns from a capture and
// rejects it when nothing else remains.
func cleanService(raw string) string {
	words := strings.Fields(raw)
	for len(words) > 0 {
		switch strings.ToLower(words[0]) {
		case "a", "an", "the", "me", "my", "us", "our":
			words = words[1:]
		default:
			return strings.Join(words, " ")
		}
	}
	return ""
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func parseWeekday(lower string) (time.Weekday, bool) {
	for name, wd := range weekdays {
		if strings.Contains(lower, name) {
			return wd, true
		}
	}
	return 0, false
}
