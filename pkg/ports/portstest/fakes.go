// Package portstest provides in-memory port implementations for tests and
// the offline demo mode of the chat REPL.
package portstest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/schedule"
	"github.com/google/uuid"
)

// FakeCalendar keeps events in memory, keyed by account id.
type FakeCalendar struct {
	mu     sync.Mutex
	events map[string][]ports.Event

	// Optional error injection, applied to every call of that kind.
	ListErr   error
	CreateErr error
	UpdateErr error
	DeleteErr error
}

func NewFakeCalendar() *FakeCalendar {
	return &FakeCalendar{events: make(map[string][]ports.Event)}
}

// Seed inserts an event directly, bypassing error injection.
func (c *FakeCalendar) Seed(accountID, title string, start, end time.Time) ports.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := ports.Event{
		ID:        "evt-" + uuid.NewString(),
		AccountID: accountID,
		Title:     title,
		Start:     start,
		End:       end,
	}
	c.events[accountID] = append(c.events[accountID], ev)
	return ev
}

func (c *FakeCalendar) ListEvents(ctx context.Context, account ports.AccountRef, start, end time.Time) ([]ports.Event, error) {
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ports.Event
	for _, ev := range c.events[account.ID] {
		if schedule.Overlaps(start, end, ev.Start, ev.End) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *FakeCalendar) CreateEvent(ctx context.Context, account ports.AccountRef, draft ports.EventDraft) (ports.Event, error) {
	if c.CreateErr != nil {
		return ports.Event{}, c.CreateErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := ports.Event{
		ID:        "evt-" + uuid.NewString(),
		AccountID: account.ID,
		Title:     draft.Title,
		Start:     draft.Start,
		End:       draft.End,
	}
	c.events[account.ID] = append(c.events[account.ID], ev)
	return ev, nil
}

func (c *FakeCalendar) UpdateEvent(ctx context.Context, account ports.AccountRef, eventID string, patch ports.EventPatch) (ports.Event, error) {
	if c.UpdateErr != nil {
		return ports.Event{}, c.UpdateErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ev := range c.events[account.ID] {
		if ev.ID != eventID {
			continue
		}
		if patch.Title != nil {
			ev.Title = *patch.Title
		}
		if patch.Start != nil {
			ev.Start = *patch.Start
		}
		if patch.End != nil {
			ev.End = *patch.End
		}
		c.events[account.ID][i] = ev
		return ev, nil
	}
	return ports.Event{}, fmt.Errorf("event %s not found", eventID)
}

func (c *FakeCalendar) DeleteEvent(ctx context.Context, account ports.AccountRef, eventID string) error {
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evs := c.events[account.ID]
	for i, ev := range evs {
		if ev.ID == eventID {
			c.events[account.ID] = append(evs[:i:i], evs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("event %s not found", eventID)
}

func (c *FakeCalendar) FreeBusy(ctx context.Context, accounts []ports.AccountRef, start, end time.Time) (map[string][]schedule.BusyWindow, error) {
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make(map[string][]schedule.BusyWindow, len(accounts))
	for _, account := range accounts {
		events, _ := c.ListEvents(ctx, account, start, end)
		windows := make([]schedule.BusyWindow, 0, len(events))
		for _, ev := range events {
			windows = append(windows, schedule.BusyWindow{Start: ev.Start, End: ev.End})
		}
		out[account.ID] = windows
	}
	return out, nil
}

// Events returns a copy of the stored events for an account.
func (c *FakeCalendar) Events(accountID string) []ports.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.Event(nil), c.events[accountID]...)
}

// FakeContacts resolves names from a fixed map, case-insensitively.
type FakeContacts struct {
	Entries map[string]string
}

func (c *FakeContacts) FindEmailByName(ctx context.Context, account ports.AccountRef, name string) (string, error) {
	for k, v := range c.Entries {
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return "", nil
}

// SentMail records one MailPort.Send call.
type SentMail struct {
	AccountID string
	To        string
	Subject   string
	Body      string
}

// FakeMail records sent mail instead of delivering it.
type FakeMail struct {
	mu      sync.Mutex
	Sent    []SentMail
	SendErr error
}

func (m *FakeMail) Send(ctx context.Context, account ports.AccountRef, to, subject, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{AccountID: account.ID, To: to, Subject: subject, Body: body})
	return nil
}

// ScriptedVoice plays back a fixed sequence of call states, one per poll.
// The last state repeats once the script is exhausted.
type ScriptedVoice struct {
	mu     sync.Mutex
	States []ports.CallState
	polls  int

	LastTarget string
	LastScript string
	PlaceErr   error
}

func (v *ScriptedVoice) PlaceCall(ctx context.Context, target, script string) (ports.CallID, error) {
	if v.PlaceErr != nil {
		return "", v.PlaceErr
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.LastTarget = target
	v.LastScript = script
	v.polls = 0
	return ports.CallID("call-" + uuid.NewString()), nil
}

func (v *ScriptedVoice) PollStatus(ctx context.Context, id ports.CallID) (ports.CallState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.States) == 0 {
		return ports.CallState{Status: ports.CallEnded}, nil
	}
	idx := v.polls
	if idx >= len(v.States) {
		idx = len(v.States) - 1
	}
	v.polls++
	return v.States[idx], nil
}

// Polls reports how many times PollStatus has been called since the last
// PlaceCall.
func (v *ScriptedVoice) Polls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.polls
}

// StaticSearch returns a canned result for any query.
type StaticSearch struct {
	Result string
}

func (s *StaticSearch) Search(ctx context.Context, query string, count int) (string, error) {
	if s.Result == "" {
		return "No results for: " + query, nil
	}
	return s.Result, nil
}
