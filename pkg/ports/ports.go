package ports

import (
	"context"
	"fmt"
	"time"

	"github.com/calbot/calbot/pkg/schedule"
)

// AccountRef identifies a linked calendar/mail account. Credential is an
// opaque handle resolved by the concrete port binding; the core never
// inspects it.
type AccountRef struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Credential string `json:"credential_handle"`
	Primary    bool   `json:"primary"`
}

// Event is a calendar item as reported by a provider.
type Event struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// EventDraft is the payload for creating an event.
type EventDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// EventPatch updates an existing event. Nil fields are left untouched.
type EventPatch struct {
	Title *string    `json:"title,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// CalendarPort is the calendar provider boundary.
type CalendarPort interface {
	ListEvents(ctx context.Context, account AccountRef, start, end time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, account AccountRef, draft EventDraft) (Event, error)
	UpdateEvent(ctx context.Context, account AccountRef, eventID string, patch EventPatch) (Event, error)
	DeleteEvent(ctx context.Context, account AccountRef, eventID string) error
	// FreeBusy returns busy windows per account id for the given range.
	FreeBusy(ctx context.Context, accounts []AccountRef, start, end time.Time) (map[string][]schedule.BusyWindow, error)
}

// ContactsPort resolves people to email addresses. A miss is ("", nil), not
// an error.
type ContactsPort interface {
	FindEmailByName(ctx context.Context, account AccountRef, name string) (string, error)
}

// MailPort sends email on behalf of an account.
type MailPort interface {
	Send(ctx context.Context, account AccountRef, to, subject, body string) error
}

// CallStatus is the lifecycle of an outbound voice call.
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in-progress"
	CallEnded      CallStatus = "ended"
)

// CallID correlates a placed call with its status polls.
type CallID string

// CallState is a point-in-time snapshot of a call. Transcript is only
// meaningful once Status is CallEnded.
type CallState struct {
	Status     CallStatus `json:"status"`
	Transcript string     `json:"transcript,omitempty"`
}

// VoiceCallPort is the outbound phone-call provider boundary. Callers poll
// PollStatus until the call reaches CallEnded.
type VoiceCallPort interface {
	PlaceCall(ctx context.Context, target, script string) (CallID, error)
	PollStatus(ctx context.Context, id CallID) (CallState, error)
}

// WebSearchPort runs a web search and returns rendered result text.
type WebSearchPort interface {
	Search(ctx context.Context, query string, count int) (string, error)
}

// TransportError marks a port failure as external-transport trouble. Tool
// handlers fold these into structured tool errors; they never propagate past
// the orchestration loop.
type TransportError struct {
	Port string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s port: %s: %v", e.Port, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
