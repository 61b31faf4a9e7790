package tools

import (
	"context"

	"github.com/calbot/calbot/pkg/ports"
)

// WebSearchTool answers venue and business questions (opening hours, phone
// numbers) through whichever search backend is configured.
type WebSearchTool struct {
	Search ports.WebSearchPort
}

func (t *WebSearchTool) Name() ToolName { return ToolWebSearch }

func (t *WebSearchTool) Description() string {
	return "Search the web. Use this to find business phone numbers, opening hours, or anything not on the user's calendar."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query"},
			"count": map[string]interface{}{"type": "integer", "description": "Max results, default 5"},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}, execCtx ExecContext) *ToolResult {
	query := argString(args, "query")
	if query == "" {
		return ErrorResult("query is empty")
	}
	count := 5
	if raw, ok := args["count"].(float64); ok && raw > 0 {
		count = int(raw)
	}

	execCtx.progress("Searching the web...")
	results, err := t.Search.Search(ctx, query, count)
	if err != nil {
		terr := &ports.TransportError{Port: "websearch", Op: "search", Err: err}
		return ErrorResult(terr.Error()).WithError(terr)
	}
	if results == "" {
		return &ToolResult{ForLLM: "No results found."}
	}
	return &ToolResult{ForLLM: results}
}
