package session

import (
	"time"

	"github.com/calbot/calbot/pkg/conflict"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/providers"
)

// State is the per-session conversation record. It is a volatile cache, not
// a system of record: stores may expire it, and nothing downstream depends
// on it surviving a restart.
type State struct {
	SessionID string `json:"session_id"`

	// History is append-only within a turn and never reordered.
	History []providers.Message `json:"history"`

	// PendingConflict is the at-most-one active alternative-slot proposal.
	// Cleared once accepted, rejected, or superseded by a new request.
	PendingConflict *conflict.Proposal `json:"pending_conflict,omitempty"`

	// PendingBooking carries a booking attempt that stopped at a conflict
	// and is waiting for the user to pick a slot.
	PendingBooking *BookingAttempt `json:"pending_booking,omitempty"`

	Accounts  []ports.AccountRef `json:"accounts"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// BookingAttempt records one pass through the appointment-booking sub-flow.
// The calendar commit and all user-facing text use the Confirmed values; the
// Requested values exist only for conversation context.
type BookingAttempt struct {
	RequestedService string    `json:"requested_service"`
	RequestedStart   time.Time `json:"requested_start"`
	RequestedEnd     time.Time `json:"requested_end"`
	ConfirmedStart   time.Time `json:"confirmed_start,omitempty"`
	ConfirmedEnd     time.Time `json:"confirmed_end,omitempty"`
	Target           string    `json:"target,omitempty"`
}

// NewState creates an empty conversation for a session id.
func NewState(sessionID string, accounts []ports.AccountRef) *State {
	return &State{
		SessionID: sessionID,
		Accounts:  accounts,
		UpdatedAt: time.Now(),
	}
}

// PrimaryAccount returns the account marked primary, falling back to the
// first linked account.
func (s *State) PrimaryAccount() (ports.AccountRef, bool) {
	for _, account := range s.Accounts {
		if account.Primary {
			return account, true
		}
	}
	if len(s.Accounts) > 0 {
		return s.Accounts[0], true
	}
	return ports.AccountRef{}, false
}

// Append adds messages to the history in order.
func (s *State) Append(messages ...providers.Message) {
	s.History = append(s.History, messages...)
	s.UpdatedAt = time.Now()
}

// ClearConflict drops the pending proposal, if any.
func (s *State) ClearConflict() {
	s.PendingConflict = nil
	s.PendingBooking = nil
}
