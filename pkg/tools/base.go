package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/calbot/calbot/pkg/conflict"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/providers"
)

// ToolName enumerates every callable tool. Dispatch is keyed on these
// constants so adding or removing a tool is a compile-checked change, not a
// stringly-typed map edit.
type ToolName string

const (
	ToolListEvents      ToolName = "calendar_list_events"
	ToolCreateEvent     ToolName = "calendar_create_event"
	ToolRescheduleEvent ToolName = "calendar_reschedule_event"
	ToolDeleteEvent     ToolName = "calendar_delete_event"
	ToolFreeBusy        ToolName = "calendar_free_busy"
	ToolContactsLookup  ToolName = "contacts_lookup"
	ToolEmailSend       ToolName = "email_send"
	ToolWebSearch       ToolName = "web_search"
	ToolReminderCreate  ToolName = "reminder_create"
)

// Mutating reports whether the tool changes calendar state in a way the user
// would see as irreversible. These are gated behind explicit confirmation.
func (n ToolName) Mutating() bool {
	switch n {
	case ToolRescheduleEvent, ToolDeleteEvent:
		return true
	}
	return false
}

// ProgressSink receives human-readable status lines while a tool runs.
// Fire-and-forget: no backpressure, no acknowledgment.
type ProgressSink func(content string)

// ExecContext is the per-turn context handed to tool handlers.
type ExecContext struct {
	SessionID string
	Accounts  []ports.AccountRef
	Progress  ProgressSink
}

// Primary returns the account marked primary, or the first linked one.
func (c ExecContext) Primary() (ports.AccountRef, bool) {
	for _, account := range c.Accounts {
		if account.Primary {
			return account, true
		}
	}
	if len(c.Accounts) > 0 {
		return c.Accounts[0], true
	}
	return ports.AccountRef{}, false
}

func (c ExecContext) progress(content string) {
	if c.Progress != nil {
		c.Progress(content)
	}
}

// ToolResult is the structured outcome of a tool execution. Handlers never
// panic or return raw errors through the loop: port failures are folded into
// an IsError result so the model can keep reasoning.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Skipped bool
	Err     error

	// Proposal is set when the tool surfaced a scheduling conflict; the
	// orchestration loop lifts it into conversation state.
	Proposal *conflict.Proposal

	// Success marks a state change that actually happened. The loop's
	// success-claim guardrail only lets the model announce completion when
	// some tool in the turn set this.
	Success bool

	// Data carries machine-readable extras for the outbound turn (e.g.
	// alternative slots).
	Data map[string]interface{}
}

func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// SkippedResult synthesizes the result for a gated-off tool call so the
// model sees why nothing happened instead of a missing tool message.
func SkippedResult(reason string) *ToolResult {
	return &ToolResult{
		ForLLM:  fmt.Sprintf(`{"skipped": true, "reason": %q}`, reason),
		Skipped: true,
	}
}

// Tool is one callable operation in the catalog.
type Tool interface {
	Name() ToolName
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult
}

// ToolToSchema renders a tool in the chat-completions function format.
func ToolToSchema(tool Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        string(tool.Name()),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		},
	}
}

// SchemaValidationError reports tool arguments that do not satisfy the
// declared parameter schema. It is surfaced to the model as a structured
// tool error, never to the end user.
type SchemaValidationError struct {
	Tool   ToolName
	Detail string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}

// ValidateArgs checks args against the tool's JSON-schema style parameter
// declaration: required fields must be present and primitive types must
// match.
func ValidateArgs(tool Tool, args map[string]interface{}) error {
	params := tool.Parameters()
	properties, _ := params["properties"].(map[string]interface{})

	if required, ok := params["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return &SchemaValidationError{Tool: tool.Name(), Detail: fmt.Sprintf("missing required field %q", field)}
			}
		}
	}

	for field, value := range args {
		spec, ok := properties[field].(map[string]interface{})
		if !ok {
			continue // unknown fields are tolerated, handlers ignore them
		}
		declared, _ := spec["type"].(string)
		if declared == "" || value == nil {
			continue
		}
		if !typeMatches(declared, value) {
			return &SchemaValidationError{
				Tool:   tool.Name(),
				Detail: fmt.Sprintf("field %q must be of type %s", field, declared),
			}
		}
	}
	return nil
}

func typeMatches(declared string, value interface{}) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case float64:
			return v == float64(int64(v))
		case int, int64:
			return true
		}
		return false
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
