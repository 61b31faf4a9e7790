package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calbot/calbot/pkg/bus"
	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/conflict"
	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/metrics"
	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/providers"
	"github.com/calbot/calbot/pkg/schedule"
	"github.com/calbot/calbot/pkg/session"
	"github.com/calbot/calbot/pkg/tools"
)

// Loop is the conversation orchestrator: one ProcessMessage call is one full
// user turn, from classification through tool execution to the guarded final
// reply.
type Loop struct {
	cfg      *config.Config
	provider providers.LLMProvider
	registry *tools.Registry
	engine   *conflict.Engine
	sessions *session.Manager
	bus      *bus.EventBus
	booking  *BookingFlow

	model         string
	maxIterations int
	location      *time.Location

	now func() time.Time
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	Content         string                `json:"content"`
	Alternatives    []schedule.SlotOption `json:"alternatives,omitempty"`
	ConflictPending bool                  `json:"conflict_pending"`

	aborted bool
}

func NewLoop(cfg *config.Config, provider providers.LLMProvider, registry *tools.Registry, engine *conflict.Engine, sessions *session.Manager, eventBus *bus.EventBus, booking *BookingFlow) *Loop {
	model := strings.TrimSpace(cfg.Assistant.Model)
	if model == "" {
		model = provider.GetDefaultModel()
	}
	maxIterations := cfg.Assistant.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 5
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Assistant.Timezone); tz != "" && tz != "Local" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		} else {
			logger.WarnCF("agent", "Unknown timezone, falling back to local", map[string]interface{}{
				"timezone": tz,
			})
		}
	}

	return &Loop{
		cfg:           cfg,
		provider:      provider,
		registry:      registry,
		engine:        engine,
		sessions:      sessions,
		bus:           eventBus,
		booking:       booking,
		model:         model,
		maxIterations: maxIterations,
		location:      loc,
		now:           time.Now,
	}
}

// ProcessMessage runs one user turn for a session. Returns
// session.ErrSessionBusy when a turn for the same session is still running.
func (l *Loop) ProcessMessage(ctx context.Context, sessionID, userMessage string, accounts []ports.AccountRef) (*TurnResult, error) {
	release, err := l.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := l.sessions.Load(ctx, sessionID, accounts)
	if err != nil {
		return nil, err
	}

	progress := func(content string) {
		l.bus.Publish(sessionID, bus.Event{Type: bus.EventProgress, Content: content})
	}

	logger.InfoCF("agent", "Processing message", map[string]interface{}{
		"session":  sessionID,
		"length":   len(userMessage),
		"accounts": len(state.Accounts),
	})

	state.Append(providers.Message{Role: "user", Content: userMessage})

	result, err := l.dispatch(ctx, state, userMessage, progress)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		l.bus.Publish(sessionID, bus.Event{Type: bus.EventError, Content: err.Error()})
		if saveErr := l.sessions.Save(ctx, state); saveErr != nil {
			logger.ErrorCF("agent", "Failed to save session after error", map[string]interface{}{
				"session": sessionID,
				"error":   saveErr.Error(),
			})
		}
		return nil, err
	}

	state.Append(providers.Message{Role: "assistant", Content: result.Content})
	if err := l.sessions.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}

	if result.aborted {
		metrics.TurnsTotal.WithLabelValues("aborted").Inc()
	} else {
		metrics.TurnsTotal.WithLabelValues("completed").Inc()
	}

	l.bus.Publish(sessionID, bus.Event{Type: bus.EventResponse, Content: result.Content, Data: eventData(result)})
	l.bus.Publish(sessionID, bus.Event{Type: bus.EventComplete})

	return result, nil
}

func eventData(result *TurnResult) map[string]interface{} {
	if len(result.Alternatives) == 0 {
		return nil
	}
	return map[string]interface{}{"alternatives": result.Alternatives}
}

// dispatch routes a turn: an open conflict proposal is handled first, then a
// parked booking attempt, then the booking classifier, then the general
// model-driven loop.
func (l *Loop) dispatch(ctx context.Context, state *session.State, userMessage string, progress tools.ProgressSink) (*TurnResult, error) {
	if p := state.PendingConflict; p != nil && p.State == conflict.StateProposed {
		result, handled, err := l.continueConflict(ctx, state, userMessage, progress)
		if handled || err != nil {
			return result, err
		}
		// The reply superseded the proposal; it was cleared, keep going.
	}

	if state.PendingBooking != nil && state.PendingConflict == nil && l.booking != nil {
		if IsDecline(userMessage) {
			state.PendingBooking = nil
			return &TurnResult{Content: "Okay, I won't book anything."}, nil
		}
		if target, ok := extractPhoneTarget(userMessage, l.booking.DefaultRegion); ok {
			content, err := l.booking.ResumeWithTarget(ctx, state, target, progress)
			if err != nil {
				return nil, err
			}
			return l.resultFromState(content, state), nil
		}
	}

	if l.booking.CanHandle(userMessage) {
		content, err := l.booking.Run(ctx, state, userMessage, progress)
		if err != nil {
			return nil, err
		}
		return l.resultFromState(content, state), nil
	}

	return l.runIterations(ctx, state, userMessage, progress)
}

func (l *Loop) resultFromState(content string, state *session.State) *TurnResult {
	result := &TurnResult{Content: content}
	if p := state.PendingConflict; p != nil && p.State == conflict.StateProposed {
		result.Alternatives = p.Alternatives
		result.ConflictPending = true
	}
	return result
}

// continueConflict interprets the user's reply to an open slot proposal.
// handled is false when the reply supersedes the proposal with a new request,
// in which case the proposal has been cleared and dispatch continues.
func (l *Loop) continueConflict(ctx context.Context, state *session.State, userMessage string, progress tools.ProgressSink) (*TurnResult, bool, error) {
	p := state.PendingConflict

	idx, ok := p.ResolveSelection(userMessage)
	if !ok {
		if IsDecline(userMessage) {
			state.ClearConflict()
			return &TurnResult{Content: "Okay, I'll leave everything as it is."}, true, nil
		}
		if LooksLikeSchedulingRequest(userMessage) || l.booking.CanHandle(userMessage) {
			state.ClearConflict()
			return nil, false, nil
		}
		return &TurnResult{
			Content:         "I didn't catch which slot you want. " + renderConflictPrompt(p, nil),
			Alternatives:    p.Alternatives,
			ConflictPending: true,
		}, true, nil
	}

	slot := p.Alternatives[idx]

	if state.PendingBooking != nil {
		content, err := l.booking.ResumeWithSlot(ctx, state, slot, progress)
		if err != nil {
			return nil, true, err
		}
		return l.resultFromState(content, state), true, nil
	}

	progress("Confirming that slot is still free...")
	committed, err := l.engine.Commit(ctx, state.Accounts, p, idx)
	if errors.Is(err, conflict.ErrSlotTaken) {
		fresh, perr := l.engine.Propose(ctx, state.Accounts, p.Mode, p.SubjectEvent, slot.Start, slot.End, p.CommitAccountID, p.Draft)
		if perr != nil {
			state.ClearConflict()
			return &TurnResult{
				Content: "That slot was taken in the meantime and I couldn't find another opening nearby. Nothing on your calendar has changed; give me a different time and I'll try again.",
			}, true, nil
		}
		state.PendingConflict = fresh
		return &TurnResult{
			Content:         "That slot was taken in the meantime. " + renderConflictPrompt(fresh, nil),
			Alternatives:    fresh.Alternatives,
			ConflictPending: true,
		}, true, nil
	}
	if err != nil {
		return nil, true, err
	}

	state.ClearConflict()
	verb := "scheduled for"
	if p.Mode == conflict.ModeReschedule {
		verb = "moved to"
	}
	return &TurnResult{
		Content: fmt.Sprintf("Done. %q is %s %s.", committed.Title, verb, committed.Start.Format("Monday, January 2 at 3:04 PM")),
	}, true, nil
}

// runIterations is the model-driven tool loop, bounded by maxIterations.
func (l *Loop) runIterations(ctx context.Context, state *session.State, userMessage string, progress tools.ProgressSink) (*TurnResult, error) {
	execCtx := tools.ExecContext{
		SessionID: state.SessionID,
		Accounts:  state.Accounts,
		Progress:  progress,
	}
	gate := confirmationGate{
		userMessage:   userMessage,
		lastAssistant: lastAssistantReply(state.History),
	}

	messages := make([]providers.Message, 0, len(state.History)+1)
	messages = append(messages, providers.Message{
		Role:    "system",
		Content: buildSystemPrompt(l.now().In(l.location), state.Accounts, l.registry),
	})
	messages = append(messages, state.History...)

	defs := l.registry.Definitions()
	options := map[string]interface{}{
		"max_tokens":  l.cfg.Assistant.MaxTokens,
		"temperature": l.cfg.Assistant.Temperature,
	}

	if l.cfg.Assistant.EnablePlan {
		l.requestPlan(ctx, messages, options, progress, state.SessionID)
	}

	var finalContent string
	sawSuccess := false
	claimSuppressed := false
	progressSuppressed := false
	var turnProposal *conflict.Proposal
	iteration := 0

	for iteration < l.maxIterations {
		iteration++
		logger.DebugCF("agent", "Completion iteration", map[string]interface{}{
			"session":   state.SessionID,
			"iteration": iteration,
			"max":       l.maxIterations,
			"messages":  len(messages),
		})

		response, err := l.provider.Chat(ctx, messages, defs, l.model, options)
		if err != nil {
			return nil, fmt.Errorf("completion call failed: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			content := strings.TrimSpace(response.Content)

			// An unsupported success claim or a bare status note is not a
			// final answer. The model gets a corrective note and another
			// reasoning cycle while the budget lasts.
			if ClaimsSuccess(content) && !sawSuccess {
				metrics.GuardrailTriggers.WithLabelValues("success_claim").Inc()
				logger.WarnCF("agent", "Suppressed unsupported success claim", map[string]interface{}{
					"session":   state.SessionID,
					"iteration": iteration,
				})
				messages = append(messages,
					providers.Message{Role: "assistant", Content: content},
					providers.Message{Role: "system", Content: successClaimNote})
				state.Append(providers.Message{Role: "system", Content: successClaimNote})
				claimSuppressed = true
				continue
			}
			if IsProgressOnly(content) {
				metrics.GuardrailTriggers.WithLabelValues("progress_leak").Inc()
				messages = append(messages,
					providers.Message{Role: "assistant", Content: content},
					providers.Message{Role: "system", Content: progressOnlyNote})
				state.Append(providers.Message{Role: "system", Content: progressOnlyNote})
				progressSuppressed = true
				continue
			}

			finalContent = content
			break
		}

		assistantMsg := providers.Message{Role: "assistant", Content: response.Content}
		for _, tc := range response.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: &providers.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		messages = append(messages, assistantMsg)
		state.Append(assistantMsg)

		for _, tc := range response.ToolCalls {
			var result *tools.ToolResult
			if allowed, reason := gate.Allows(tools.ToolName(tc.Name)); !allowed {
				metrics.GuardrailTriggers.WithLabelValues("confirmation_gate").Inc()
				logger.InfoCF("agent", "Mutating tool call held pending confirmation", map[string]interface{}{
					"session": state.SessionID,
					"tool":    tc.Name,
				})
				result = tools.SkippedResult(reason)
			} else {
				result = l.registry.Execute(ctx, tc.Name, tc.Arguments, execCtx)
			}

			if result.Proposal != nil {
				state.PendingConflict = result.Proposal
				turnProposal = result.Proposal
			}
			if result.Success {
				sawSuccess = true
			}

			content := result.ForLLM
			if content == "" && result.Err != nil {
				content = result.Err.Error()
			}
			toolMsg := providers.Message{Role: "tool", Content: content, ToolCallID: tc.ID}
			messages = append(messages, toolMsg)
			state.Append(toolMsg)
		}
	}

	metrics.IterationsPerTurn.Observe(float64(iteration))

	// The loop only exits without a final answer when the cap ran out: on
	// tool calls, or on replies the guardrails kept sending back.
	aborted := false
	if finalContent == "" {
		switch {
		case (claimSuppressed || progressSuppressed) && turnProposal != nil:
			finalContent = renderConflictPrompt(turnProposal, nil)
		case claimSuppressed:
			finalContent = suppressedSuccessReply
		case progressSuppressed:
			finalContent = "I didn't get to a final answer on that one. Ask me again and I'll pick it up from here."
		case iteration >= l.maxIterations:
			aborted = true
			metrics.IterationCapHits.Inc()
			logger.WarnCF("agent", "Iteration cap reached without a final answer", map[string]interface{}{
				"session":    state.SessionID,
				"iterations": iteration,
			})
			finalContent = "That took more steps than I allow in a single turn, so I stopped early. Some steps may have completed; ask me to check your calendar and I'll tell you exactly where things stand."
		default:
			finalContent = "I've finished processing but have nothing to report."
		}
	}

	result := l.resultFromState(finalContent, state)
	result.aborted = aborted
	return result, nil
}

// requestPlan asks the model how it intends to handle the turn before any
// tools run. The plan feeds the progress stream only; a failure here never
// blocks the turn.
func (l *Loop) requestPlan(ctx context.Context, messages []providers.Message, options map[string]interface{}, progress tools.ProgressSink, sessionID string) {
	planMessages := make([]providers.Message, len(messages), len(messages)+1)
	copy(planMessages, messages)
	planMessages = append(planMessages, providers.Message{
		Role:    "system",
		Content: "In one or two short sentences, say how you will handle the user's request. Do not call tools and do not answer the request itself yet.",
	})

	response, err := l.provider.Chat(ctx, planMessages, nil, l.model, options)
	if err != nil {
		logger.DebugCF("agent", "Plan request failed, continuing without one", map[string]interface{}{
			"session": sessionID,
			"error":   err.Error(),
		})
		return
	}
	if plan := strings.TrimSpace(response.Content); plan != "" {
		progress(plan)
	}
}

// renderConflictPrompt produces the user-facing alternatives question.
func renderConflictPrompt(p *conflict.Proposal, contested *ports.Event) string {
	var b strings.Builder
	if contested != nil {
		fmt.Fprintf(&b, "That time collides with %q (%s). ", contested.Title, contested.Start.Format("Monday 3:04 PM"))
	} else {
		b.WriteString("That time is already taken. ")
	}
	b.WriteString("Here's what's free instead:\n")
	for i, alt := range p.Alternatives {
		fmt.Fprintf(&b, "%d. %s\n", i+1, alt.Display)
	}
	b.WriteString("Which one works for you?")
	return b.String()
}
