package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calbot/calbot/pkg/conflict"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/ports/portstest"
	"github.com/calbot/calbot/pkg/session"
)

// bookingNow is a Monday, so "tomorrow at 3pm" lands on Tuesday 15:00 UTC.
var bookingNow = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

func endedWith(transcript string) []ports.CallState {
	return []ports.CallState{
		{Status: ports.CallRinging},
		{Status: ports.CallEnded, Transcript: transcript},
	}
}

func newTestBookingFlow(cal *portstest.FakeCalendar, voice *portstest.ScriptedVoice) *BookingFlow {
	return &BookingFlow{
		Voice:         voice,
		Search:        &portstest.StaticSearch{},
		Engine:        conflict.NewEngine(cal),
		Calendar:      cal,
		PollInterval:  time.Millisecond,
		MaxPolls:      10,
		DefaultRegion: "US",
		DefaultTarget: "+12128675309",
		Location:      time.UTC,
		Now:           func() time.Time { return bookingNow },
	}
}

func noProgress(string) {}

func TestBookingFlow_CanHandle(t *testing.T) {
	flow := newTestBookingFlow(portstest.NewFakeCalendar(), &portstest.ScriptedVoice{})

	assert.True(t, flow.CanHandle("book a dentist appointment tomorrow at 3pm"))
	assert.False(t, flow.CanHandle("what's on my calendar tomorrow"))

	var nilFlow *BookingFlow
	assert.False(t, nilFlow.CanHandle("book a dentist appointment tomorrow at 3pm"))

	flow.Voice = nil
	assert.False(t, flow.CanHandle("book a dentist appointment tomorrow at 3pm"), "no voice port means no booking sub-flow")
}

func TestBookingFlow_BooksAtRequestedTime(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	voice := &portstest.ScriptedVoice{States: endedWith("Yes, you're confirmed, see you then.")}
	flow := newTestBookingFlow(cal, voice)
	state := session.NewState("s1", loopAccounts)

	reply, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "Booked")
	assert.Contains(t, reply, "on your calendar")
	assert.Nil(t, state.PendingBooking)

	events := cal.Events("personal")
	require.Len(t, events, 1)
	want := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	assert.True(t, events[0].Start.Equal(want), "bare confirmation keeps the requested time")
	assert.Equal(t, "Dentist appointment", events[0].Title)
	assert.Equal(t, "+12128675309", voice.LastTarget)
}

func TestBookingFlow_ConfirmedTimeOverridesRequested(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	voice := &portstest.ScriptedVoice{States: endedWith("We can't do that, but 4 pm works. You're confirmed.")}
	flow := newTestBookingFlow(cal, voice)
	state := session.NewState("s1", loopAccounts)

	reply, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "one change", "the user must hear that the time moved")

	events := cal.Events("personal")
	require.Len(t, events, 1)
	want := time.Date(2026, 9, 1, 16, 0, 0, 0, time.UTC)
	assert.True(t, events[0].Start.Equal(want), "the time spoken on the call wins over the requested one")
}

func TestBookingFlow_DeclinedCallBooksNothing(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	voice := &portstest.ScriptedVoice{States: endedWith("Sorry, we are fully booked that day.")}
	flow := newTestBookingFlow(cal, voice)
	state := session.NewState("s1", loopAccounts)

	reply, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "nothing is booked")
	assert.Empty(t, cal.Events("personal"))
	assert.Nil(t, state.PendingBooking)
}

func TestBookingFlow_CallTimeout(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	voice := &portstest.ScriptedVoice{States: []ports.CallState{{Status: ports.CallInProgress}}}
	flow := newTestBookingFlow(cal, voice)
	flow.MaxPolls = 3
	state := session.NewState("s1", loopAccounts)

	reply, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "haven't booked anything")
	assert.Empty(t, cal.Events("personal"))
	assert.Equal(t, 3, voice.Polls(), "polling stops at the cap")
}

func TestBookingFlow_CalendarConflictParksAttempt(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	cal.Seed("work", "Design review", time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC), time.Date(2026, 9, 1, 16, 0, 0, 0, time.UTC))
	voice := &portstest.ScriptedVoice{States: endedWith("You're confirmed.")}
	flow := newTestBookingFlow(cal, voice)
	state := session.NewState("s1", loopAccounts)

	reply, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "Design review")
	assert.Contains(t, reply, "Which one works for you?")

	require.NotNil(t, state.PendingConflict)
	assert.Equal(t, conflict.ModeCreate, state.PendingConflict.Mode)
	require.NotNil(t, state.PendingBooking)
	assert.Empty(t, voice.LastTarget, "no call goes out while the user's own calendar conflicts")
	assert.Empty(t, cal.Events("personal"))
}

func TestBookingFlow_ResumeWithSlot(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	cal.Seed("work", "Design review", time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC), time.Date(2026, 9, 1, 16, 0, 0, 0, time.UTC))
	voice := &portstest.ScriptedVoice{States: endedWith("You're confirmed, see you then.")}
	flow := newTestBookingFlow(cal, voice)
	state := session.NewState("s1", loopAccounts)

	_, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	require.NotNil(t, state.PendingConflict)

	slot := state.PendingConflict.Alternatives[1]
	reply, err := flow.ResumeWithSlot(context.Background(), state, slot, noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "Booked")
	assert.Nil(t, state.PendingConflict)
	assert.Nil(t, state.PendingBooking)

	events := cal.Events("personal")
	require.Len(t, events, 1)
	assert.True(t, events[0].Start.Equal(slot.Start))
}

func TestBookingFlow_SlotFilledBeforeResumeIsNotDoubleBooked(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	cal.Seed("work", "Design review", time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC), time.Date(2026, 9, 1, 16, 0, 0, 0, time.UTC))
	voice := &portstest.ScriptedVoice{States: endedWith("You're confirmed, see you then.")}
	flow := newTestBookingFlow(cal, voice)
	state := session.NewState("s1", loopAccounts)

	_, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	require.NotNil(t, state.PendingConflict)

	// The chosen slot fills up between the proposal and the user's pick.
	slot := state.PendingConflict.Alternatives[1]
	cal.Seed("work", "Incident call", slot.Start, slot.End)

	reply, err := flow.ResumeWithSlot(context.Background(), state, slot, noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "haven't added anything")
	assert.Contains(t, reply, "Incident call")
	assert.Empty(t, cal.Events("personal"), "a stale slot must not be committed")
	assert.Nil(t, state.PendingBooking)
}

func TestBookingFlow_AsksForNumberWhenSearchFindsNone(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	voice := &portstest.ScriptedVoice{States: endedWith("You're confirmed, see you then.")}
	flow := newTestBookingFlow(cal, voice)
	flow.DefaultTarget = ""
	flow.Search = &portstest.StaticSearch{Result: "Smile Dental, open 9-5 weekdays."}
	state := session.NewState("s1", loopAccounts)

	reply, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "couldn't find a phone number")
	require.NotNil(t, state.PendingBooking, "the attempt parks until the user supplies a number")
	assert.Empty(t, cal.Events("personal"))

	// The user pastes the number; the flow resumes and books.
	reply, err = flow.ResumeWithTarget(context.Background(), state, "+12128675309", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "Booked")
	assert.Nil(t, state.PendingBooking)
	require.Len(t, cal.Events("personal"), 1)
}

func TestBookingFlow_FindsNumberViaSearch(t *testing.T) {
	cal := portstest.NewFakeCalendar()
	voice := &portstest.ScriptedVoice{States: endedWith("You're confirmed, see you then.")}
	flow := newTestBookingFlow(cal, voice)
	flow.DefaultTarget = ""
	flow.Search = &portstest.StaticSearch{Result: "Smile Dental - call (212) 867-5309 to book."}
	state := session.NewState("s1", loopAccounts)

	_, err := flow.Run(context.Background(), state, "book a dentist appointment tomorrow at 3pm", noProgress)
	require.NoError(t, err)
	assert.Equal(t, "+12128675309", voice.LastTarget, "the searched number is normalized to E.164")
}

func TestBookingFlow_AsksForTimeWhenNoneGiven(t *testing.T) {
	flow := newTestBookingFlow(portstest.NewFakeCalendar(), &portstest.ScriptedVoice{})
	state := session.NewState("s1", loopAccounts)

	reply, err := flow.Run(context.Background(), state, "book a dentist appointment sometime", noProgress)
	require.NoError(t, err)
	assert.Contains(t, reply, "What time")
	assert.Nil(t, state.PendingBooking)
}

func TestExtractPhoneTarget(t *testing.T) {
	target, ok := extractPhoneTarget("sure, it's (212) 867-5309", "US")
	require.True(t, ok)
	assert.Equal(t, "+12128675309", target)

	_, ok = extractPhoneTarget("I'll be there around 5, room 1204", "US")
	assert.False(t, ok, "short digit runs must not read as phone numbers")

	target, ok = extractPhoneTarget("+44 20 7946 0958", "US")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(target, "+44"), "explicit country codes are preserved")
}
