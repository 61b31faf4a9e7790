// Package reminders keeps per-session reminders with either a one-shot
// fire time or a cron schedule.
package reminders

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/calbot/calbot/pkg/logger"
)

// Reminder is a scheduled nudge. Exactly one of At and Schedule is set:
// At for one-shot reminders, Schedule (a cron expression) for recurring
// ones.
type Reminder struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Schedule  string    `json:"schedule,omitempty"`
	At        time.Time `json:"at,omitempty"`
	NextRun   time.Time `json:"next_run"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Reminder) Recurring() bool { return r.Schedule != "" }

// Service holds reminders in memory. Reminders are conversation-scoped
// conveniences, not durable jobs; they do not survive a restart.
type Service struct {
	mu        sync.Mutex
	gron      *gronx.Gronx
	reminders map[string]Reminder
}

func NewService() *Service {
	return &Service{
		gron:      gronx.New(),
		reminders: make(map[string]Reminder),
	}
}

// AddOneShot registers a reminder that fires once at the given time.
func (s *Service) AddOneShot(sessionID, message string, at time.Time) (Reminder, error) {
	if !at.After(time.Now()) {
		return Reminder{}, fmt.Errorf("reminder time %s is in the past", at.Format(time.RFC3339))
	}
	r := Reminder{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Message:   message,
		At:        at,
		NextRun:   at,
		CreatedAt: time.Now(),
	}
	s.put(r)
	return r, nil
}

// AddCron registers a recurring reminder from a cron expression.
func (s *Service) AddCron(sessionID, message, expr string) (Reminder, error) {
	if !s.gron.IsValid(expr) {
		return Reminder{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	next, err := gronx.NextTick(expr, false)
	if err != nil {
		return Reminder{}, fmt.Errorf("compute next run for %q: %w", expr, err)
	}
	r := Reminder{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Message:   message,
		Schedule:  expr,
		NextRun:   next,
		CreatedAt: time.Now(),
	}
	s.put(r)
	return r, nil
}

func (s *Service) put(r Reminder) {
	s.mu.Lock()
	s.reminders[r.ID] = r
	s.mu.Unlock()
	logger.InfoCF("reminders", "Reminder registered", map[string]interface{}{
		"id":       r.ID,
		"session":  r.SessionID,
		"next_run": r.NextRun,
	})
}

// List returns a session's reminders ordered by next run.
func (s *Service) List(sessionID string) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// Remove deletes a reminder by id.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return false
	}
	delete(s.reminders, id)
	return true
}

// Due pops every reminder whose next run is at or before now. One-shot
// reminders are removed; recurring ones are advanced to their next tick.
func (s *Service) Due(now time.Time) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Reminder
	for id, r := range s.reminders {
		if r.NextRun.After(now) {
			continue
		}
		due = append(due, r)
		if !r.Recurring() {
			delete(s.reminders, id)
			continue
		}
		next, err := gronx.NextTickAfter(r.Schedule, now, false)
		if err != nil {
			logger.WarnCF("reminders", "Dropping reminder with unschedulable expression", map[string]interface{}{
				"id":    r.ID,
				"error": err.Error(),
			})
			delete(s.reminders, id)
			continue
		}
		r.NextRun = next
		s.reminders[id] = r
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRun.Before(due[j].NextRun) })
	return due
}
