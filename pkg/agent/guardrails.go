package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/calbot/calbot/pkg/providers"
	"github.com/calbot/calbot/pkg/tools"
)

// Guardrail cue detection. These regexes run on short conversational text;
// the loop treats every match as a hint, never as proof, and always pairs it
// with tool-result evidence before acting.

var affirmativeRegex = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|sure|ok|okay|sounds good|go ahead|do it|please do|confirm|confirmed|that works|perfect|great)\b`)

var declineRegex = regexp.MustCompile(`(?i)^\s*(no|nope|nah|cancel|never ?mind|don't|do not|stop|forget it)\b`)

var mutationRequestRegex = regexp.MustCompile(`(?i)\b(move|reschedule|shift|push|bump|cancel|delete|remove|postpone)\b.{0,60}\b(meeting|event|appointment|call|session|it|that|this)\b`)

var schedulingRequestRegex = regexp.MustCompile(`(?i)\b(schedule|book|create|add|set ?up|put|plan|arrange)\b.{0,60}\b(meeting|event|appointment|call|session|reminder|lunch|dinner)\b`)

var successClaimRegex = regexp.MustCompile(`(?i)\b(i('ve| have)?\s*(successfully\s+)?(scheduled|booked|created|moved|rescheduled|deleted|cancell?ed|sent|added)|(is|has been|was)\s+(scheduled|booked|created|moved|rescheduled|deleted|cancell?ed|sent|added)|all set|you're all booked|done!)\b`)

var progressOnlyRegex = regexp.MustCompile(`(?i)^\s*(one (moment|sec)|just a (moment|second)|hold on|checking|looking (into|up|at)|searching|working on (it|that)|let me (check|look|see|find))\b[^.!?]{0,80}[.!?…]*\s*$`)

// IsAffirmative reports whether the message reads as plain consent to a
// pending proposal or action.
func IsAffirmative(message string) bool {
	return affirmativeRegex.MatchString(message)
}

// IsDecline reports whether the message reads as a refusal.
func IsDecline(message string) bool {
	return declineRegex.MatchString(message)
}

// RequestsMutation reports whether the message itself asks for an event to
// be moved or removed. Such a message is its own confirmation.
func RequestsMutation(message string) bool {
	return mutationRequestRegex.MatchString(message)
}

// LooksLikeSchedulingRequest reports whether the message starts a new
// scheduling intent, which supersedes any open proposal.
func LooksLikeSchedulingRequest(message string) bool {
	return schedulingRequestRegex.MatchString(message) || mutationRequestRegex.MatchString(message)
}

// ClaimsSuccess reports whether assistant text asserts that a state change
// happened.
func ClaimsSuccess(text string) bool {
	return successClaimRegex.MatchString(text)
}

// IsProgressOnly reports whether assistant text is a bare status note with no
// substance. Those belong on the progress stream, not in the final reply.
func IsProgressOnly(text string) bool {
	return progressOnlyRegex.MatchString(strings.TrimSpace(text))
}

// confirmationGate decides per turn whether destructive calendar tools may
// run. Creation is not gated; moving or deleting something the user already
// has is. A bare "yes" only counts when the assistant's previous message put
// a concrete mutation on the table.
type confirmationGate struct {
	userMessage   string
	lastAssistant string
}

// Allows returns false, with a reason, when the tool mutates existing state
// and nothing in the preceding exchange authorizes that.
func (g confirmationGate) Allows(name tools.ToolName) (bool, string) {
	if !name.Mutating() {
		return true, ""
	}
	if RequestsMutation(g.userMessage) {
		return true, ""
	}
	if IsAffirmative(g.userMessage) && RequestsMutation(g.lastAssistant) {
		return true, ""
	}
	return false, fmt.Sprintf("%s modifies an existing event and the user has not confirmed it; ask the user to confirm first", name)
}

// lastAssistantReply returns the most recent assistant text in the history,
// skipping tool-call shells with no content.
func lastAssistantReply(history []providers.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" && strings.TrimSpace(history[i].Content) != "" {
			return history[i].Content
		}
	}
	return ""
}

// successClaimNote is injected into history after a suppressed reply so the
// model can see why its text was replaced.
const successClaimNote = "Your previous reply claimed an action was completed, but no tool reported a successful state change this turn. Never tell the user something was scheduled, moved, or deleted unless a tool result confirms it. Describe the actual state and what still needs to happen."

// suppressedSuccessReply is what the user sees instead of a false claim.
const suppressedSuccessReply = "I haven't made any changes yet. Tell me how you'd like to proceed and I'll take care of it."

// progressOnlyNote is injected when the model hands back a status update in
// place of an answer.
const progressOnlyNote = "Your previous reply was only a status update. Status updates belong on the progress stream; reply with the actual answer or outcome for the user."
