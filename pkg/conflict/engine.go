package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/metrics"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/schedule"
)

// ProposalState tracks a conflict negotiation.
//
//	PROPOSED -> (selection) -> VALIDATING -> COMMITTED | REJECTED
type ProposalState string

const (
	StateProposed   ProposalState = "PROPOSED"
	StateValidating ProposalState = "VALIDATING"
	StateCommitted  ProposalState = "COMMITTED"
	StateRejected   ProposalState = "REJECTED"
)

// Mode says what committing a proposal does.
type Mode string

const (
	// ModeCreate: the user asked for a new event and the requested window
	// was taken; commit creates the event at the chosen alternative.
	ModeCreate Mode = "create"
	// ModeReschedule: an existing event is being moved; commit patches it.
	ModeReschedule Mode = "reschedule"
)

// ErrSlotTaken reports that the selected alternative was no longer free at
// commit time. No calendar mutation happens when this is returned.
var ErrSlotTaken = errors.New("selected slot is no longer available")

// ErrNoAlternatives reports that none of the candidate windows survived the
// free check.
var ErrNoAlternatives = errors.New("no free alternative slots found")

// Proposal is an active conflict negotiation. At most one exists per
// conversation; a new scheduling request supersedes it wholesale.
type Proposal struct {
	State ProposalState `json:"state"`
	Mode  Mode          `json:"mode"`

	// SubjectEvent is the event at the center of the negotiation. For a
	// reschedule it is the event being moved, with its true id and owning
	// account: it is excluded from availability checks and patched on
	// commit. For a create it is the existing event occupying the
	// requested window, so conflict reports can name it.
	SubjectEvent ports.Event `json:"subject_event"`

	// CommitAccountID is where the commit lands: the moved event's
	// account for a reschedule, the requester's primary account for a
	// create.
	CommitAccountID string `json:"commit_account_id"`

	Draft        *ports.EventDraft     `json:"draft,omitempty"`
	Alternatives []schedule.SlotOption `json:"alternatives"`
	CreatedAt    time.Time             `json:"created_at"`
}

// ignoredEventID returns the event excluded from availability checks: a
// rescheduled event does not conflict with itself.
func (p *Proposal) ignoredEventID() string {
	if p.Mode == ModeReschedule {
		return p.SubjectEvent.ID
	}
	return ""
}

// Engine decides whether calendar windows are free and negotiates
// replacements when they are not.
type Engine struct {
	calendar ports.CalendarPort
}

func NewEngine(calendar ports.CalendarPort) *Engine {
	return &Engine{calendar: calendar}
}

// Detect queries every linked account for events overlapping the requested
// window and returns the first real contested event, or nil when the window
// is free everywhere. ignoreEventID excludes the event being moved during a
// reschedule; pass "" otherwise. The returned event carries its true id and
// account so the negotiation can name and act on it.
func (e *Engine) Detect(ctx context.Context, accounts []ports.AccountRef, start, end time.Time, ignoreEventID string) (*ports.Event, error) {
	for _, account := range accounts {
		events, err := e.calendar.ListEvents(ctx, account, start, end)
		if err != nil {
			return nil, &ports.TransportError{Port: "calendar", Op: "list events", Err: err}
		}
		for _, ev := range events {
			if ev.ID == ignoreEventID {
				continue
			}
			if schedule.Overlaps(start, end, ev.Start, ev.End) {
				contested := ev
				return &contested, nil
			}
		}
	}
	return nil, nil
}

// Propose generates the alternative ladder anchored on the window the user
// asked for and keeps only slots independently confirmed free across all
// accounts. For a reschedule the anchor is the contested event's own window
// and that event is ignored during the check, so it can land adjacent to its
// old slot.
func (e *Engine) Propose(ctx context.Context, accounts []ports.AccountRef, mode Mode, subject ports.Event, anchorStart, anchorEnd time.Time, commitAccountID string, draft *ports.EventDraft) (*Proposal, error) {
	p := &Proposal{
		State:           StateProposed,
		Mode:            mode,
		SubjectEvent:    subject,
		CommitAccountID: commitAccountID,
		Draft:           draft,
		CreatedAt:       time.Now(),
	}

	candidates := schedule.GenerateAlternatives(anchorStart, anchorEnd)
	free := make([]schedule.SlotOption, 0, len(candidates))
	for _, slot := range candidates {
		available, err := e.windowFree(ctx, accounts, slot.Start, slot.End, p.ignoredEventID())
		if err != nil {
			return nil, err
		}
		if available {
			free = append(free, slot)
		}
	}
	if len(free) == 0 {
		return nil, ErrNoAlternatives
	}
	p.Alternatives = free

	metrics.ConflictProposals.Inc()
	logger.InfoCF("conflict", "Proposed alternative slots", map[string]interface{}{
		"subject_event": subject.ID,
		"mode":          string(mode),
		"alternatives":  len(free),
	})
	return p, nil
}

// ResolveSelection maps a user reply onto the proposal's alternatives.
// Returns -1, false when the reply resolves nothing; the proposal then stays
// in PROPOSED and the caller re-prompts.
func (p *Proposal) ResolveSelection(reply string) (int, bool) {
	return schedule.ResolveSelection(reply, p.Alternatives)
}

// Commit re-validates exactly the selected window against current calendar
// state and then performs the create or update. Time has passed since
// PROPOSED, so the fresh check is a correctness requirement, not an
// optimization. On ErrSlotTaken the proposal is REJECTED and untouched
// calendars stay untouched; callers regenerate via Propose or ask the user
// for a new time.
func (e *Engine) Commit(ctx context.Context, accounts []ports.AccountRef, p *Proposal, selection int) (ports.Event, error) {
	if p == nil {
		return ports.Event{}, fmt.Errorf("no active proposal")
	}
	if selection < 0 || selection >= len(p.Alternatives) {
		return ports.Event{}, fmt.Errorf("selection %d out of range", selection)
	}

	p.State = StateValidating
	slot := p.Alternatives[selection]

	available, err := e.windowFree(ctx, accounts, slot.Start, slot.End, p.ignoredEventID())
	if err != nil {
		p.State = StateProposed
		return ports.Event{}, err
	}
	if !available {
		p.State = StateRejected
		logger.WarnCF("conflict", "Selected slot no longer free at commit time", map[string]interface{}{
			"contested_event": p.SubjectEvent.ID,
			"slot_start":      slot.Start,
		})
		return ports.Event{}, ErrSlotTaken
	}

	account, err := accountByID(accounts, p.CommitAccountID)
	if err != nil {
		p.State = StateProposed
		return ports.Event{}, err
	}

	var committed ports.Event
	switch p.Mode {
	case ModeCreate:
		if p.Draft == nil {
			p.State = StateProposed
			return ports.Event{}, fmt.Errorf("create proposal carries no event draft")
		}
		draft := *p.Draft
		draft.Start = slot.Start
		draft.End = slot.End
		committed, err = e.calendar.CreateEvent(ctx, account, draft)
	case ModeReschedule:
		start, end := slot.Start, slot.End
		committed, err = e.calendar.UpdateEvent(ctx, account, p.SubjectEvent.ID, ports.EventPatch{Start: &start, End: &end})
	default:
		err = fmt.Errorf("unknown proposal mode %q", p.Mode)
	}
	if err != nil {
		p.State = StateProposed
		return ports.Event{}, &ports.TransportError{Port: "calendar", Op: "commit slot", Err: err}
	}

	p.State = StateCommitted
	logger.InfoCF("conflict", "Committed alternative slot", map[string]interface{}{
		"event":      committed.ID,
		"mode":       string(p.Mode),
		"slot_start": slot.Start,
	})
	return committed, nil
}

// windowFree checks a single window across all accounts, ignoring
// ignoreEventID (the event being moved). Events are listed rather than
// fetched as free/busy windows because the moved event must be excluded by
// id, and busy windows carry no event identity.
func (e *Engine) windowFree(ctx context.Context, accounts []ports.AccountRef, start, end time.Time, ignoreEventID string) (bool, error) {
	for _, account := range accounts {
		events, err := e.calendar.ListEvents(ctx, account, start, end)
		if err != nil {
			return false, &ports.TransportError{Port: "calendar", Op: "list events", Err: err}
		}
		for _, ev := range events {
			if ev.ID == ignoreEventID {
				continue
			}
			if schedule.Overlaps(start, end, ev.Start, ev.End) {
				return false, nil
			}
		}
	}
	return true, nil
}

func accountByID(accounts []ports.AccountRef, id string) (ports.AccountRef, error) {
	for _, account := range accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return ports.AccountRef{}, fmt.Errorf("account %q is not linked", id)
}
