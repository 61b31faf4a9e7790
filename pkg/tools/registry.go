package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/calbot/calbot/pkg/logger"
	"github.com/calbot/calbot/pkg/metrics"
	"github.com/calbot/calbot/pkg/providers"
)

// ToolNotFoundError means the model asked for a tool that is not in the
// catalog, usually a sign the prompt and the catalog drifted apart.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// Registry is the dispatch table from ToolName to handler. The catalog is
// fixed at construction; there is no runtime registration surface beyond
// Register, which the agent wires once at startup.
type Registry struct {
	order []ToolName
	tools map[ToolName]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[ToolName]Tool)}
}

func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name ToolName) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute validates and dispatches one tool call. Every failure mode comes
// back as a *ToolResult; the orchestration loop never sees a panic or a raw
// error from here.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	logger.InfoCF("tool", "Tool execution started", map[string]interface{}{
		"tool": name,
		"args": sanitizeToolArgs(args),
	})

	tool, ok := r.Get(ToolName(name))
	if !ok {
		err := &ToolNotFoundError{Name: name}
		logger.ErrorCF("tool", "Tool not found", map[string]interface{}{"tool": name})
		metrics.ToolExecutions.WithLabelValues(name, "error").Inc()
		return ErrorResult(err.Error()).WithError(err)
	}

	if err := ValidateArgs(tool, args); err != nil {
		logger.WarnCF("tool", "Tool arguments failed schema validation", map[string]interface{}{
			"tool":  name,
			"error": err.Error(),
		})
		metrics.ToolExecutions.WithLabelValues(name, "error").Inc()
		return ErrorResult(err.Error()).WithError(err)
	}

	start := time.Now()
	result := tool.Execute(ctx, args, execCtx)
	duration := time.Since(start)

	if result == nil {
		err := fmt.Errorf("tool %q returned nil result", name)
		logger.ErrorCF("tool", "Tool returned nil result", map[string]interface{}{"tool": name})
		metrics.ToolExecutions.WithLabelValues(name, "error").Inc()
		return ErrorResult(err.Error()).WithError(err)
	}

	outcome := "ok"
	if result.IsError {
		outcome = "error"
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
			"tool":          name,
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
	}
	metrics.ToolExecutions.WithLabelValues(name, outcome).Inc()

	return result
}

// Definitions renders the tool catalog in registration order. This is the
// only surface through which the model can effect side effects.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, ToolToSchema(r.tools[name]))
	}
	return defs
}

// List returns all registered tool names in registration order.
func (r *Registry) List() []ToolName {
	return append([]ToolName(nil), r.order...)
}

func (r *Registry) Count() int {
	return len(r.tools)
}

var sensitiveArgKeyFragments = []string{
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"bearer",
	"credential",
	"cookie",
	"password",
	"private",
	"secret",
	"token",
}

func sanitizeToolArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(args))
	for key, value := range args {
		sanitized[key] = sanitizeToolArgValue(key, value, 0)
	}
	return sanitized
}

func sanitizeToolArgValue(key string, value interface{}, depth int) interface{} {
	if depth > 6 {
		return "<omitted>"
	}
	if isSensitiveArgKey(key) {
		return "<redacted>"
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeToolArgValue(k, v, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeToolArgValue(key, item, depth+1))
		}
		return out
	case string:
		return truncateLogString(typed)
	default:
		return value
	}
}

func isSensitiveArgKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, fragment := range sensitiveArgKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func truncateLogString(value string) string {
	const maxLen = 256
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "...(truncated)"
}
