package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calbot/calbot/pkg/conflict"
	"github.com/calbot/calbot/pkg/ports"
)

// lookupWindow bounds the scan when locating an event by id without a direct
// get-by-id operation on the calendar boundary.
const lookupWindow = 45 * 24 * time.Hour

func argTime(args map[string]interface{}, key string) (time.Time, error) {
	raw := argString(args, key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("field %q is empty", key)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %q must be an RFC3339 timestamp: %v", key, err)
	}
	return t, nil
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// findEvent locates an event by id across the linked accounts. accountID
// narrows the scan when the model already knows which account owns it.
func findEvent(ctx context.Context, calendar ports.CalendarPort, accounts []ports.AccountRef, eventID, accountID string, around time.Time) (*ports.Event, error) {
	if around.IsZero() {
		around = time.Now()
	}
	for _, account := range accounts {
		if accountID != "" && account.ID != accountID {
			continue
		}
		events, err := calendar.ListEvents(ctx, account, around.Add(-lookupWindow), around.Add(lookupWindow))
		if err != nil {
			return nil, &ports.TransportError{Port: "calendar", Op: "list events", Err: err}
		}
		for _, ev := range events {
			if ev.ID == eventID {
				found := ev
				return &found, nil
			}
		}
	}
	return nil, nil
}

// conflictResult renders a freshly proposed conflict for the model and tags
// the result so the orchestration loop lifts the proposal into session state.
func conflictResult(p *conflict.Proposal, contested *ports.Event) *ToolResult {
	type altView struct {
		Option  int    `json:"option"`
		Label   string `json:"label"`
		Start   string `json:"start"`
		End     string `json:"end"`
		Display string `json:"display"`
	}
	alts := make([]altView, 0, len(p.Alternatives))
	for i, slot := range p.Alternatives {
		alts = append(alts, altView{
			Option:  i + 1,
			Label:   slot.Label,
			Start:   slot.Start.Format(time.RFC3339),
			End:     slot.End.Format(time.RFC3339),
			Display: slot.Display,
		})
	}
	payload := map[string]interface{}{
		"conflict":     true,
		"alternatives": alts,
		"instruction":  "the requested time is taken; present these alternatives and ask the user to pick one, do not claim anything was scheduled",
	}
	if contested != nil {
		payload["conflicting_event"] = map[string]interface{}{
			"id":      contested.ID,
			"title":   contested.Title,
			"account": contested.AccountID,
			"start":   contested.Start.Format(time.RFC3339),
			"end":     contested.End.Format(time.RFC3339),
		}
	}
	return &ToolResult{
		ForLLM:   mustJSON(payload),
		Proposal: p,
		Data:     map[string]interface{}{"alternatives": p.Alternatives},
	}
}

// ListEventsTool reads events in a window across every linked account.
type ListEventsTool struct {
	Calendar ports.CalendarPort
}

func (t *ListEventsTool) Name() ToolName { return ToolListEvents }

func (t *ListEventsTool) Description() string {
	return "List calendar events across all linked accounts within a time window. Use this before answering any question about existing plans."
}

func (t *ListEventsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"start": map[string]interface{}{"type": "string", "description": "Window start, RFC3339"},
			"end":   map[string]interface{}{"type": "string", "description": "Window end, RFC3339"},
		},
		"required": []string{"start", "end"},
	}
}

func (t *ListEventsTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	start, err := argTime(args, "start")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	end, err := argTime(args, "end")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if !end.After(start) {
		return ErrorResult("end must be after start")
	}

	execCtx.progress("Checking your calendars...")

	type eventView struct {
		ID      string `json:"id"`
		Account string `json:"account"`
		Title   string `json:"title"`
		Start   string `json:"start"`
		End     string `json:"end"`
	}
	var views []eventView
	for _, account := range execCtx.Accounts {
		events, err := t.Calendar.ListEvents(ctx, account, start, end)
		if err != nil {
			terr := &ports.TransportError{Port: "calendar", Op: "list events", Err: err}
			return ErrorResult(terr.Error()).WithError(terr)
		}
		for _, ev := range events {
			views = append(views, eventView{
				ID:      ev.ID,
				Account: account.ID,
				Title:   ev.Title,
				Start:   ev.Start.Format(time.RFC3339),
				End:     ev.End.Format(time.RFC3339),
			})
		}
	}

	return &ToolResult{ForLLM: mustJSON(map[string]interface{}{
		"count":  len(views),
		"events": views,
	})}
}

// CreateEventTool creates an event at a requested window, or surfaces a
// conflict proposal when the window is contested.
type CreateEventTool struct {
	Engine   *conflict.Engine
	Calendar ports.CalendarPort
}

func (t *CreateEventTool) Name() ToolName { return ToolCreateEvent }

func (t *CreateEventTool) Description() string {
	return "Create a calendar event on the user's primary account. If the requested time conflicts with an existing event, this returns alternative slots instead of creating anything."
}

func (t *CreateEventTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title":       map[string]interface{}{"type": "string", "description": "Event title"},
			"start":       map[string]interface{}{"type": "string", "description": "Event start, RFC3339"},
			"end":         map[string]interface{}{"type": "string", "description": "Event end, RFC3339"},
			"description": map[string]interface{}{"type": "string", "description": "Optional event description"},
			"attendees":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Optional attendee email addresses"},
		},
		"required": []string{"title", "start", "end"},
	}
}

func (t *CreateEventTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	start, err := argTime(args, "start")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	end, err := argTime(args, "end")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if !end.After(start) {
		return ErrorResult("end must be after start")
	}

	primary, ok := execCtx.Primary()
	if !ok {
		return ErrorResult("no calendar accounts are linked")
	}

	draft := ports.EventDraft{
		Title:       argString(args, "title"),
		Description: argString(args, "description"),
		Start:       start,
		End:         end,
	}
	if rawAttendees, ok := args["attendees"].([]interface{}); ok {
		for _, item := range rawAttendees {
			if addr, ok := item.(string); ok && addr != "" {
				draft.Attendees = append(draft.Attendees, addr)
			}
		}
	}

	execCtx.progress("Checking calendar availability...")

	contested, err := t.Engine.Detect(ctx, execCtx.Accounts, start, end, "")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if contested != nil {
		proposal, err := t.Engine.Propose(ctx, execCtx.Accounts, conflict.ModeCreate, *contested, start, end, primary.ID, &draft)
		if err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
		return conflictResult(proposal, contested)
	}

	execCtx.progress("Creating the event...")
	created, err := t.Calendar.CreateEvent(ctx, primary, draft)
	if err != nil {
		terr := &ports.TransportError{Port: "calendar", Op: "create event", Err: err}
		return ErrorResult(terr.Error()).WithError(terr)
	}

	return &ToolResult{
		ForLLM: mustJSON(map[string]interface{}{
			"created": true,
			"event": map[string]interface{}{
				"id":      created.ID,
				"account": created.AccountID,
				"title":   created.Title,
				"start":   created.Start.Format(time.RFC3339),
				"end":     created.End.Format(time.RFC3339),
			},
		}),
		Success: true,
	}
}

// RescheduleEventTool moves an existing event to a new window, or surfaces a
// conflict proposal when the target window is contested.
type RescheduleEventTool struct {
	Engine   *conflict.Engine
	Calendar ports.CalendarPort
}

func (t *RescheduleEventTool) Name() ToolName { return ToolRescheduleEvent }

func (t *RescheduleEventTool) Description() string {
	return "Move an existing calendar event to a new time. Requires the event id from calendar_list_events. If the new time conflicts with another event, this returns alternative slots instead of moving anything."
}

func (t *RescheduleEventTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"event_id":   map[string]interface{}{"type": "string", "description": "Id of the event to move"},
			"account_id": map[string]interface{}{"type": "string", "description": "Account owning the event, if known"},
			"new_start":  map[string]interface{}{"type": "string", "description": "New start, RFC3339"},
			"new_end":    map[string]interface{}{"type": "string", "description": "New end, RFC3339. Defaults to preserving the event's duration"},
		},
		"required": []string{"event_id", "new_start"},
	}
}

func (t *RescheduleEventTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	eventID := argString(args, "event_id")
	newStart, err := argTime(args, "new_start")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	execCtx.progress("Looking up the event...")

	subject, err := findEvent(ctx, t.Calendar, execCtx.Accounts, eventID, argString(args, "account_id"), newStart)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if subject == nil {
		return ErrorResult(fmt.Sprintf("event %q was not found on any linked account", eventID))
	}

	newEnd := newStart.Add(subject.End.Sub(subject.Start))
	if raw := argString(args, "new_end"); raw != "" {
		newEnd, err = argTime(args, "new_end")
		if err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
	}
	if !newEnd.After(newStart) {
		return ErrorResult("new_end must be after new_start")
	}

	execCtx.progress("Checking the new time for conflicts...")

	contested, err := t.Engine.Detect(ctx, execCtx.Accounts, newStart, newEnd, subject.ID)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if contested != nil {
		proposal, err := t.Engine.Propose(ctx, execCtx.Accounts, conflict.ModeReschedule, *subject, newStart, newEnd, subject.AccountID, nil)
		if err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
		return conflictResult(proposal, contested)
	}

	account, err := accountRefByID(execCtx.Accounts, subject.AccountID)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	execCtx.progress("Moving the event...")
	start, end := newStart, newEnd
	moved, err := t.Calendar.UpdateEvent(ctx, account, subject.ID, ports.EventPatch{Start: &start, End: &end})
	if err != nil {
		terr := &ports.TransportError{Port: "calendar", Op: "update event", Err: err}
		return ErrorResult(terr.Error()).WithError(terr)
	}

	return &ToolResult{
		ForLLM: mustJSON(map[string]interface{}{
			"rescheduled": true,
			"event": map[string]interface{}{
				"id":    moved.ID,
				"title": moved.Title,
				"start": moved.Start.Format(time.RFC3339),
				"end":   moved.End.Format(time.RFC3339),
			},
		}),
		Success: true,
	}
}

// DeleteEventTool removes an event. The confirmation gate in the
// orchestration loop decides whether this ever runs.
type DeleteEventTool struct {
	Calendar ports.CalendarPort
}

func (t *DeleteEventTool) Name() ToolName { return ToolDeleteEvent }

func (t *DeleteEventTool) Description() string {
	return "Delete a calendar event. Requires the event id from calendar_list_events. Only call this after the user explicitly confirms the deletion."
}

func (t *DeleteEventTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"event_id":   map[string]interface{}{"type": "string", "description": "Id of the event to delete"},
			"account_id": map[string]interface{}{"type": "string", "description": "Account owning the event, if known"},
		},
		"required": []string{"event_id"},
	}
}

func (t *DeleteEventTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	eventID := argString(args, "event_id")

	subject, err := findEvent(ctx, t.Calendar, execCtx.Accounts, eventID, argString(args, "account_id"), time.Now())
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if subject == nil {
		return ErrorResult(fmt.Sprintf("event %q was not found on any linked account", eventID))
	}

	account, err := accountRefByID(execCtx.Accounts, subject.AccountID)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	execCtx.progress("Deleting the event...")
	if err := t.Calendar.DeleteEvent(ctx, account, subject.ID); err != nil {
		terr := &ports.TransportError{Port: "calendar", Op: "delete event", Err: err}
		return ErrorResult(terr.Error()).WithError(terr)
	}

	return &ToolResult{
		ForLLM: mustJSON(map[string]interface{}{
			"deleted": true,
			"event":   map[string]interface{}{"id": subject.ID, "title": subject.Title},
		}),
		Success: true,
	}
}

// FreeBusyTool reports occupied windows without exposing event details,
// useful when the model only needs availability.
type FreeBusyTool struct {
	Calendar ports.CalendarPort
}

func (t *FreeBusyTool) Name() ToolName { return ToolFreeBusy }

func (t *FreeBusyTool) Description() string {
	return "Get busy time windows per linked account for a time range, without event titles or details."
}

func (t *FreeBusyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"start": map[string]interface{}{"type": "string", "description": "Range start, RFC3339"},
			"end":   map[string]interface{}{"type": "string", "description": "Range end, RFC3339"},
		},
		"required": []string{"start", "end"},
	}
}

func (t *FreeBusyTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	start, err := argTime(args, "start")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	end, err := argTime(args, "end")
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if !end.After(start) {
		return ErrorResult("end must be after start")
	}

	busy, err := t.Calendar.FreeBusy(ctx, execCtx.Accounts, start, end)
	if err != nil {
		terr := &ports.TransportError{Port: "calendar", Op: "free/busy", Err: err}
		return ErrorResult(terr.Error()).WithError(terr)
	}

	rendered := make(map[string][]map[string]string, len(busy))
	for accountID, windows := range busy {
		views := make([]map[string]string, 0, len(windows))
		for _, w := range windows {
			views = append(views, map[string]string{
				"start": w.Start.Format(time.RFC3339),
				"end":   w.End.Format(time.RFC3339),
			})
		}
		rendered[accountID] = views
	}

	return &ToolResult{ForLLM: mustJSON(map[string]interface{}{"busy": rendered})}
}

func accountRefByID(accounts []ports.AccountRef, id string) (ports.AccountRef, error) {
	for _, account := range accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return ports.AccountRef{}, fmt.Errorf("account %q is not linked", id)
}
