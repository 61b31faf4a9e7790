package ports

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/schedule"
)

// In-memory port bindings. These back local runs and demos where no real
// provider is wired; production deployments swap them for concrete adapters
// behind the same interfaces.

// MemoryCalendar is a process-local CalendarPort.
type MemoryCalendar struct {
	mu     sync.RWMutex
	events map[string]Event
}

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string]Event)}
}

// Seed inserts an event directly, bypassing the create path.
func (c *MemoryCalendar) Seed(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	c.events[event.ID] = event
}

func (c *MemoryCalendar) ListEvents(_ context.Context, account AccountRef, start, end time.Time) ([]Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Event
	for _, ev := range c.events {
		if ev.AccountID != account.ID {
			continue
		}
		if schedule.Overlaps(start, end, ev.Start, ev.End) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *MemoryCalendar) CreateEvent(_ context.Context, account AccountRef, draft EventDraft) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	event := Event{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Title:     draft.Title,
		Start:     draft.Start,
		End:       draft.End,
	}
	c.events[event.ID] = event
	return event, nil
}

func (c *MemoryCalendar) UpdateEvent(_ context.Context, account AccountRef, eventID string, patch EventPatch) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	event, ok := c.events[eventID]
	if !ok || event.AccountID != account.ID {
		return Event{}, fmt.Errorf("event %q not found in account %q", eventID, account.ID)
	}
	if patch.Title != nil {
		event.Title = *patch.Title
	}
	if patch.Start != nil {
		event.Start = *patch.Start
	}
	if patch.End != nil {
		event.End = *patch.End
	}
	c.events[eventID] = event
	return event, nil
}

func (c *MemoryCalendar) DeleteEvent(_ context.Context, account AccountRef, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	event, ok := c.events[eventID]
	if !ok || event.AccountID != account.ID {
		return fmt.Errorf("event %q not found in account %q", eventID, account.ID)
	}
	delete(c.events, eventID)
	return nil
}

func (c *MemoryCalendar) FreeBusy(_ context.Context, accounts []AccountRef, start, end time.Time) (map[string][]schedule.BusyWindow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]schedule.BusyWindow, len(accounts))
	for _, account := range accounts {
		var windows []schedule.BusyWindow
		for _, ev := range c.events {
			if ev.AccountID != account.ID {
				continue
			}
			if schedule.Overlaps(start, end, ev.Start, ev.End) {
				windows = append(windows, schedule.BusyWindow{Start: ev.Start, End: ev.End})
			}
		}
		out[account.ID] = windows
	}
	return out, nil
}

// MemoryContacts is a static name-to-email ContactsPort.
type MemoryContacts struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryContacts(entries map[string]string) *MemoryContacts {
	normalized := make(map[string]string, len(entries))
	for name, email := range entries {
		normalized[strings.ToLower(strings.TrimSpace(name))] = email
	}
	return &MemoryContacts{entries: normalized}
}

func (c *MemoryContacts) Add(name, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[strings.ToLower(strings.TrimSpace(name))] = email
}

func (c *MemoryContacts) FindEmailByName(_ context.Context, _ AccountRef, name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	if email, ok := c.entries[needle]; ok {
		return email, nil
	}
	for key, email := range c.entries {
		if strings.Contains(key, needle) || strings.Contains(needle, key) {
			return email, nil
		}
	}
	return "", nil
}

// LogMail is a MailPort that only logs, for runs with no SMTP binding.
type LogMail struct{}

func (LogMail) Send(_ context.Context, account AccountRef, to, subject, body string) error {
	logger.InfoCF("mail", "Email send (log-only transport)", map[string]interface{}{
		"account": account.ID,
		"to":      to,
		"subject": subject,
		"bytes":   len(body),
	})
	return nil
}

// SimulatedVoice is a VoiceCallPort that answers every call with a canned
// transcript after a couple of polls.
type SimulatedVoice struct {
	Transcript string

	mu    sync.Mutex
	calls map[CallID]int
}

func NewSimulatedVoice(transcript string) *SimulatedVoice {
	if transcript == "" {
		transcript = "Yes, we can do that. You're confirmed, see you then."
	}
	return &SimulatedVoice{
		Transcript: transcript,
		calls:      make(map[CallID]int),
	}
}

func (v *SimulatedVoice) PlaceCall(_ context.Context, target, script string) (CallID, error) {
	id := CallID(uuid.NewString())
	v.mu.Lock()
	v.calls[id] = 0
	v.mu.Unlock()
	logger.InfoCF("voice", "Simulated call placed", map[string]interface{}{
		"call_id": string(id),
		"target":  target,
		"script":  len(script),
	})
	return id, nil
}

func (v *SimulatedVoice) PollStatus(_ context.Context, id CallID) (CallState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	polls, ok := v.calls[id]
	if !ok {
		return CallState{}, fmt.Errorf("unknown call %q", id)
	}
	v.calls[id] = polls + 1
	switch polls {
	case 0:
		return CallState{Status: CallRinging}, nil
	case 1:
		return CallState{Status: CallInProgress}, nil
	default:
		return CallState{Status: CallEnded, Transcript: v.Transcript}, nil
	}
}
