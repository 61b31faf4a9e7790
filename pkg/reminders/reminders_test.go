package reminders

import (
	"testing"
	"time"
)

func TestAddOneShot_RejectsPastTimes(t *testing.T) {
	svc := NewService()

	if _, err := svc.AddOneShot("s1", "too late", time.Now().Add(-time.Minute)); err == nil {
		t.Error("past fire time should be rejected")
	}

	r, err := svc.AddOneShot("s1", "call back", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("AddOneShot failed: %v", err)
	}
	if r.Recurring() {
		t.Error("one-shot reminder must not be recurring")
	}
	if !r.NextRun.Equal(r.At) {
		t.Errorf("next run = %v, want %v", r.NextRun, r.At)
	}
}

func TestAddCron(t *testing.T) {
	svc := NewService()

	if _, err := svc.AddCron("s1", "bad", "not a cron"); err == nil {
		t.Error("invalid expression should be rejected")
	}

	r, err := svc.AddCron("s1", "standup nudge", "*/5 * * * *")
	if err != nil {
		t.Fatalf("AddCron failed: %v", err)
	}
	if !r.Recurring() {
		t.Error("cron reminder must be recurring")
	}
	if !r.NextRun.After(time.Now().Add(-time.Second)) {
		t.Errorf("next run %v should be in the future", r.NextRun)
	}
}

func TestDue_PopsOneShotsAndAdvancesRecurring(t *testing.T) {
	svc := NewService()

	oneShot, err := svc.AddOneShot("s1", "one shot", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("AddOneShot failed: %v", err)
	}
	recurring, err := svc.AddCron("s1", "recurring", "* * * * *")
	if err != nil {
		t.Fatalf("AddCron failed: %v", err)
	}

	// Nothing is due yet.
	if due := svc.Due(time.Now()); len(due) != 0 {
		t.Fatalf("expected nothing due, got %d", len(due))
	}

	later := time.Now().Add(3 * time.Minute)
	due := svc.Due(later)
	if len(due) != 2 {
		t.Fatalf("expected both reminders due, got %d", len(due))
	}
	seen := map[string]bool{}
	for _, r := range due {
		seen[r.ID] = true
	}
	if !seen[oneShot.ID] || !seen[recurring.ID] {
		t.Errorf("due set is missing a reminder: %+v", due)
	}

	remaining := svc.List("s1")
	if len(remaining) != 1 {
		t.Fatalf("expected only the recurring reminder to remain, got %d", len(remaining))
	}
	if remaining[0].ID != recurring.ID {
		t.Errorf("remaining = %s, want recurring %s", remaining[0].ID, recurring.ID)
	}
	if !remaining[0].NextRun.After(later) {
		t.Errorf("recurring reminder should advance past %v, got %v", later, remaining[0].NextRun)
	}
}

func TestListAndRemove(t *testing.T) {
	svc := NewService()

	first, _ := svc.AddOneShot("s1", "first", time.Now().Add(time.Hour))
	second, _ := svc.AddOneShot("s1", "second", time.Now().Add(30*time.Minute))
	svc.AddOneShot("other", "unrelated", time.Now().Add(time.Hour))

	listed := svc.List("s1")
	if len(listed) != 2 {
		t.Fatalf("expected 2 reminders for s1, got %d", len(listed))
	}
	if listed[0].ID != second.ID {
		t.Error("reminders should be ordered by next run")
	}

	if !svc.Remove(first.ID) {
		t.Error("Remove should report success for a known id")
	}
	if svc.Remove("missing") {
		t.Error("Remove should report failure for an unknown id")
	}
	if got := len(svc.List("s1")); got != 1 {
		t.Errorf("expected 1 reminder after removal, got %d", got)
	}
}
