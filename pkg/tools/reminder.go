package tools

import (
	"context"
	"time"

	"github.com/calbot/calbot/pkg/reminders"
)

// ReminderCreateTool registers a reminder for the current conversation.
type ReminderCreateTool struct {
	Service *reminders.Service
}

func (t *ReminderCreateTool) Name() ToolName { return ToolReminderCreate }

func (t *ReminderCreateTool) Description() string {
	return "Create a reminder for the user. Provide either \"at\" (RFC3339, one-shot) or \"cron\" (recurring cron expression), not both."
}

func (t *ReminderCreateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string", "description": "What to remind the user about"},
			"at":      map[string]interface{}{"type": "string", "description": "One-shot fire time, RFC3339"},
			"cron":    map[string]interface{}{"type": "string", "description": "Cron expression for a recurring reminder"},
		},
		"required": []string{"message"},
	}
}

func (t *ReminderCreateTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	message := argString(args, "message")
	if message == "" {
		return ErrorResult("message is empty")
	}

	at := argString(args, "at")
	cron := argString(args, "cron")
	if (at == "") == (cron == "") {
		return ErrorResult(`provide exactly one of "at" or "cron"`)
	}

	var (
		reminder reminders.Reminder
		err      error
	)
	if cron != "" {
		reminder, err = t.Service.AddCron(execCtx.SessionID, message, cron)
	} else {
		var fireAt time.Time
		fireAt, err = time.Parse(time.RFC3339, at)
		if err == nil {
			reminder, err = t.Service.AddOneShot(execCtx.SessionID, message, fireAt)
		}
	}
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	return &ToolResult{
		ForLLM: mustJSON(map[string]interface{}{
			"created":  true,
			"id":       reminder.ID,
			"next_run": reminder.NextRun.Format(time.RFC3339),
		}),
		Success: true,
	}
}
