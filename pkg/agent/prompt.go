package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/tools"
)

// buildSystemPrompt assembles the per-turn system message. It is rebuilt
// every turn so the current time and account set are always fresh.
func buildSystemPrompt(now time.Time, accounts []ports.AccountRef, registry *tools.Registry) string {
	var b strings.Builder

	b.WriteString("You are a calendar assistant. You manage the user's calendars, help resolve scheduling conflicts, and handle related errands like email, reminders, and appointment research.\n\n")

	b.WriteString(fmt.Sprintf("Current time: %s (%s)\n", now.Format("Monday, January 2, 2006 3:04 PM"), now.Format("MST")))
	b.WriteString(fmt.Sprintf("Current time in RFC3339: %s\n\n", now.Format(time.RFC3339)))

	if len(accounts) > 0 {
		b.WriteString("Linked calendar accounts:\n")
		for _, account := range accounts {
			marker := ""
			if account.Primary {
				marker = " (primary)"
			}
			b.WriteString(fmt.Sprintf("- %s: %s%s\n", account.ID, account.Title, marker))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Rules\n")
	b.WriteString("- Always check the calendar with tools before answering questions about existing plans. Never invent events.\n")
	b.WriteString("- All tool timestamps must be RFC3339 with the user's offset.\n")
	b.WriteString("- When a tool reports a scheduling conflict with alternatives, present the alternatives to the user and ask them to choose. Do not pick for them and do not claim anything was scheduled.\n")
	b.WriteString("- Never say an event was created, moved, or deleted unless a tool result in this conversation confirms it.\n")
	b.WriteString("- Before moving or deleting an existing event, make sure the user has explicitly asked for or confirmed that exact change.\n")
	b.WriteString("- If a tool result says a call was skipped, explain to the user what confirmation is needed.\n")
	b.WriteString("- Keep replies short and concrete. Status narration like \"checking your calendar\" is delivered separately; your final reply should carry the answer itself.\n")

	if registry != nil && registry.Count() > 0 {
		b.WriteString("\n## Available tools\n")
		for _, name := range registry.List() {
			b.WriteString("- " + string(name) + "\n")
		}
	}

	return b.String()
}
