package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/conflict"
	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/metrics"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/schedule"
	"github.com/calbot/calbot/pkg/session"
	"github.com/calbot/calbot/pkg/tools"
)

var phoneCandidateRegex = regexp.MustCompile(`\+?\(?\d[\d\s().-]{6,18}\d`)

var callDeclinedRegex = regexp.MustCompile(`(?i)\b(no availability|not available|nothing available|fully booked|cannot|can't|unable|we are closed|we're closed)\b`)

var callConfirmedRegex = regexp.MustCompile(`(?i)\b(confirm|confirmed|booked|scheduled|see you|we have you down|that works|available at)\b`)

// BookingFlow books appointments with outside businesses: it finds the
// business's phone number, places an automated call, and only writes the
// calendar once the call transcript confirms a time. The time the business
// confirms wins over the time the user asked for.
type BookingFlow struct {
	Voice    ports.VoiceCallPort
	Search   ports.WebSearchPort
	Engine   *conflict.Engine
	Calendar ports.CalendarPort

	PollInterval  time.Duration
	MaxPolls      int
	DefaultRegion string
	DefaultTarget string
	Location      *time.Location

	// Now is swappable for tests.
	Now func() time.Time
}

func NewBookingFlow(cfg config.VoiceConfig, voice ports.VoiceCallPort, search ports.WebSearchPort, engine *conflict.Engine, calendar ports.CalendarPort, loc *time.Location) *BookingFlow {
	if loc == nil {
		loc = time.Local
	}
	return &BookingFlow{
		Voice:         voice,
		Search:        search,
		Engine:        engine,
		Calendar:      calendar,
		PollInterval:  time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxPolls:      cfg.MaxPolls,
		DefaultRegion: cfg.DefaultRegion,
		DefaultTarget: cfg.DefaultTarget,
		Location:      loc,
		Now:           time.Now,
	}
}

// CanHandle reports whether the message should enter the booking sub-flow.
func (f *BookingFlow) CanHandle(message string) bool {
	return f != nil && f.Voice != nil && schedule.IsBookingRequest(message)
}

// Run drives a fresh booking request. When the requested window collides
// with the user's own calendar, the flow parks a pending attempt and returns
// alternatives instead of calling anyone.
func (f *BookingFlow) Run(ctx context.Context, state *session.State, message string, progress tools.ProgressSink) (string, error) {
	intent, ok := schedule.ExtractBookingIntent(message, f.Now(), f.Location)
	if !ok {
		return "What time would you like the appointment? Give me a time like \"tomorrow at 3pm\" and I'll set it up.", nil
	}

	attempt := &session.BookingAttempt{
		RequestedService: intent.Service,
		RequestedStart:   intent.Start,
		RequestedEnd:     intent.End,
	}

	progress("Checking your calendar for that time...")
	contested, err := f.Engine.Detect(ctx, state.Accounts, intent.Start, intent.End, "")
	if err != nil {
		return "", err
	}
	if contested != nil {
		primary, ok := state.PrimaryAccount()
		if !ok {
			return "You don't have a calendar account linked, so I can't book anything yet.", nil
		}
		draft := &ports.EventDraft{
			Title: bookingTitle(intent.Service),
			Start: intent.Start,
			End:   intent.End,
		}
		proposal, err := f.Engine.Propose(ctx, state.Accounts, conflict.ModeCreate, *contested, intent.Start, intent.End, primary.ID, draft)
		if err != nil {
			return "", err
		}
		state.PendingConflict = proposal
		state.PendingBooking = attempt
		metrics.BookingsTotal.WithLabelValues("conflict").Inc()
		return renderConflictPrompt(proposal, contested), nil
	}

	return f.callAndCommit(ctx, state, attempt, progress)
}

// ResumeWithSlot continues a parked booking attempt after the user picked an
// alternative slot. The chosen slot replaces the requested window and the
// call proceeds from there.
func (f *BookingFlow) ResumeWithSlot(ctx context.Context, state *session.State, slot schedule.SlotOption, progress tools.ProgressSink) (string, error) {
	attempt := state.PendingBooking
	if attempt == nil {
		return "", fmt.Errorf("no booking attempt is pending")
	}
	attempt.RequestedStart = slot.Start
	attempt.RequestedEnd = slot.End
	state.ClearConflict()
	return f.callAndCommit(ctx, state, attempt, progress)
}

// ResumeWithTarget continues a parked attempt once the user supplies the
// business's phone number.
func (f *BookingFlow) ResumeWithTarget(ctx context.Context, state *session.State, target string, progress tools.ProgressSink) (string, error) {
	attempt := state.PendingBooking
	if attempt == nil {
		return "", fmt.Errorf("no booking attempt is pending")
	}
	attempt.Target = target
	state.PendingBooking = nil
	return f.callAndCommit(ctx, state, attempt, progress)
}

func (f *BookingFlow) callAndCommit(ctx context.Context, state *session.State, attempt *session.BookingAttempt, progress tools.ProgressSink) (string, error) {
	target := attempt.Target
	if target == "" {
		resolved, err := f.resolveTarget(ctx, attempt.RequestedService, progress)
		if err != nil {
			return "", err
		}
		if resolved == "" {
			state.PendingBooking = attempt
			metrics.BookingsTotal.WithLabelValues("no_number").Inc()
			return fmt.Sprintf("I couldn't find a phone number for the %s. If you give me the number, I'll call and book it.", attempt.RequestedService), nil
		}
		target = resolved
		attempt.Target = target
	}

	script := buildCallScript(attempt.RequestedService, attempt.RequestedStart)
	progress(fmt.Sprintf("Calling %s to book your %s appointment...", target, attempt.RequestedService))

	callID, err := f.Voice.PlaceCall(ctx, target, script)
	if err != nil {
		metrics.BookingsTotal.WithLabelValues("call_failed").Inc()
		logger.ErrorCF("booking", "Failed to place call", map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		})
		return fmt.Sprintf("I couldn't reach %s, so nothing was booked. Want me to try again later?", target), nil
	}

	final, err := f.awaitCall(ctx, callID)
	if err != nil {
		metrics.BookingsTotal.WithLabelValues("call_timeout").Inc()
		return "The call didn't finish, so I haven't booked anything. Want me to try again?", nil
	}

	confirmedStart, ok := f.confirmedTime(final.Transcript, attempt.RequestedStart)
	if !ok {
		metrics.BookingsTotal.WithLabelValues("declined").Inc()
		state.PendingBooking = nil
		return fmt.Sprintf("I called, but they couldn't take the appointment, so nothing is booked. They said: %q. Want me to try a different time?", strings.TrimSpace(final.Transcript)), nil
	}

	duration := attempt.RequestedEnd.Sub(attempt.RequestedStart)
	attempt.ConfirmedStart = confirmedStart
	attempt.ConfirmedEnd = confirmedStart.Add(duration)

	primary, okAcc := state.PrimaryAccount()
	if !okAcc {
		return "The appointment is booked, but you have no calendar account linked so I couldn't add it to a calendar.", nil
	}

	// The calendar may have changed since the window was last checked, and
	// the business may have confirmed a different time than the one checked.
	progress("Making sure that time is still free on your calendar...")
	contested, err := f.Engine.Detect(ctx, state.Accounts, attempt.ConfirmedStart, attempt.ConfirmedEnd, "")
	if err != nil {
		return "", err
	}
	if contested != nil {
		metrics.BookingsTotal.WithLabelValues("slot_taken").Inc()
		state.PendingBooking = nil
		return fmt.Sprintf("The %s confirmed %s, but that now collides with %q on your calendar, so I haven't added anything. Sort out the overlap or give me another time and I'll rebook.",
			attempt.RequestedService,
			attempt.ConfirmedStart.Format("Monday 3:04 PM"),
			contested.Title), nil
	}

	progress("Adding it to your calendar...")
	created, err := f.Calendar.CreateEvent(ctx, primary, ports.EventDraft{
		Title: bookingTitle(attempt.RequestedService),
		Start: attempt.ConfirmedStart,
		End:   attempt.ConfirmedEnd,
	})
	if err != nil {
		metrics.BookingsTotal.WithLabelValues("calendar_failed").Inc()
		return fmt.Sprintf("The %s confirmed %s, but I couldn't write it to your calendar: %v. Please add it manually.",
			attempt.RequestedService, attempt.ConfirmedStart.Format("Monday 3:04 PM"), err), nil
	}

	state.PendingBooking = nil
	metrics.BookingsTotal.WithLabelValues("committed").Inc()
	logger.InfoCF("booking", "Appointment booked", map[string]interface{}{
		"service":         attempt.RequestedService,
		"confirmed_start": attempt.ConfirmedStart,
		"event":           created.ID,
	})

	reply := fmt.Sprintf("Booked. Your %s appointment is confirmed for %s and it's on your calendar.",
		attempt.RequestedService, attempt.ConfirmedStart.Format("Monday, January 2 at 3:04 PM"))
	if !attempt.ConfirmedStart.Equal(attempt.RequestedStart) {
		reply = fmt.Sprintf("Booked, with one change: they could only do %s, not %s. Your %s appointment is confirmed for %s and it's on your calendar.",
			attempt.ConfirmedStart.Format("3:04 PM"),
			attempt.RequestedStart.Format("3:04 PM"),
			attempt.RequestedService,
			attempt.ConfirmedStart.Format("Monday, January 2 at 3:04 PM"))
	}
	return reply, nil
}

// resolveTarget finds the business's phone number, via config override first,
// then a web search.
func (f *BookingFlow) resolveTarget(ctx context.Context, service string, progress tools.ProgressSink) (string, error) {
	if f.DefaultTarget != "" {
		return f.DefaultTarget, nil
	}
	if f.Search == nil {
		return "", nil
	}

	progress(fmt.Sprintf("Looking up the %s's phone number...", service))
	results, err := f.Search.Search(ctx, service+" phone number", 5)
	if err != nil {
		logger.WarnCF("booking", "Phone number search failed", map[string]interface{}{
			"service": service,
			"error":   err.Error(),
		})
		return "", nil
	}
	if target, ok := extractPhoneTarget(results, f.DefaultRegion); ok {
		return target, nil
	}
	return "", nil
}

// awaitCall polls the call until it ends or the poll budget runs out.
func (f *BookingFlow) awaitCall(ctx context.Context, id ports.CallID) (ports.CallState, error) {
	interval := f.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxPolls := f.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 60
	}

	for i := 0; i < maxPolls; i++ {
		state, err := f.Voice.PollStatus(ctx, id)
		if err != nil {
			return ports.CallState{}, &ports.TransportError{Port: "voice", Op: "poll status", Err: err}
		}
		if state.Status == ports.CallEnded {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return ports.CallState{}, ctx.Err()
		case <-time.After(interval):
		}
	}
	return ports.CallState{}, fmt.Errorf("call %s did not end within %d polls", id, maxPolls)
}

// confirmedTime decides what time, if any, the business actually agreed to.
// A time spoken in the transcript overrides the requested one; a bare
// confirmation keeps the requested time; anything else is a non-booking.
func (f *BookingFlow) confirmedTime(transcript string, requested time.Time) (time.Time, bool) {
	confirmed := callConfirmedRegex.MatchString(transcript)
	declined := callDeclinedRegex.MatchString(transcript)
	clock, hasClock := schedule.ParseClock(transcript)

	if !confirmed {
		return time.Time{}, false
	}
	// "fully booked" trips the confirmation cue too. A refusal with no
	// counter-offer on the call is a refusal.
	if declined && !hasClock {
		return time.Time{}, false
	}
	if hasClock {
		day := requested.In(f.Location)
		return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour, clock.Minute, 0, 0, f.Location), true
	}
	return requested, true
}

func buildCallScript(service string, start time.Time) string {
	return fmt.Sprintf(
		"Hello, I'm calling on behalf of a client to book a %s appointment for %s. Please confirm whether that time works, or offer the closest available time.",
		service, start.Format("Monday, January 2 at 3:04 PM"))
}

func bookingTitle(service string) string {
	service = strings.TrimSpace(service)
	if service == "" || service == "appointment" {
		return "Appointment"
	}
	return strings.ToUpper(service[:1]) + service[1:] + " appointment"
}

// extractPhoneTarget scans free text for something that normalizes to a
// valid phone number.
func extractPhoneTarget(text, region string) (string, bool) {
	for _, candidate := range phoneCandidateRegex.FindAllString(text, -1) {
		normalized, err := ports.NormalizeVoiceTarget(candidate, region)
		if err != nil {
			continue
		}
		return normalized, true
	}
	return "", false
}
