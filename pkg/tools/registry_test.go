package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// stubTool is a minimal Tool for registry and validation tests.
type stubTool struct {
	name   ToolName
	params map[string]interface{}
	fn     func(args map[string]interface{}) *ToolResult
}

func (t *stubTool) Name() ToolName       { return t.name }
func (t *stubTool) Description() string  { return "test tool" }
func (t *stubTool) Parameters() map[string]interface{} {
	if t.params != nil {
		return t.params
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *stubTool) Execute(_ context.Context, args map[string]interface{}, _ ExecContext) *ToolResult {
	if t.fn != nil {
		return t.fn(args)
	}
	return &ToolResult{ForLLM: "ok"}
}

func schemaWith(required []string, props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func TestValidateArgs(t *testing.T) {
	tool := &stubTool{
		name: ToolName("test_tool"),
		params: schemaWith([]string{"title"}, map[string]interface{}{
			"title":     map[string]interface{}{"type": "string"},
			"count":     map[string]interface{}{"type": "integer"},
			"ratio":     map[string]interface{}{"type": "number"},
			"flag":      map[string]interface{}{"type": "boolean"},
			"attendees": map[string]interface{}{"type": "array"},
		}),
	}

	cases := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{"all valid", map[string]interface{}{"title": "x", "count": float64(3), "ratio": 0.5, "flag": true, "attendees": []interface{}{"a"}}, false},
		{"missing required", map[string]interface{}{"count": float64(3)}, true},
		{"wrong string type", map[string]interface{}{"title": 42}, true},
		{"fractional integer", map[string]interface{}{"title": "x", "count": 1.5}, true},
		{"whole float as integer", map[string]interface{}{"title": "x", "count": float64(2)}, false},
		{"bool as array", map[string]interface{}{"title": "x", "attendees": true}, true},
		{"unknown field tolerated", map[string]interface{}{"title": "x", "extra": "whatever"}, false},
		{"nil value tolerated", map[string]interface{}{"title": "x", "count": nil}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateArgs(tool, tc.args)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateArgs() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				var sve *SchemaValidationError
				if !errors.As(err, &sve) {
					t.Errorf("error should be a SchemaValidationError, got %T", err)
				}
			}
		})
	}
}

func TestRegistry_ToolNotFound(t *testing.T) {
	registry := NewRegistry()

	result := registry.Execute(context.Background(), "no_such_tool", nil, ExecContext{})
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	var notFound *ToolNotFoundError
	if !errors.As(result.Err, &notFound) {
		t.Errorf("expected ToolNotFoundError, got %v", result.Err)
	}
}

func TestRegistry_ValidationFailureBecomesErrorResult(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubTool{
		name:   ToolName("strict_tool"),
		params: schemaWith([]string{"title"}, map[string]interface{}{"title": map[string]interface{}{"type": "string"}}),
	})

	result := registry.Execute(context.Background(), "strict_tool", map[string]interface{}{}, ExecContext{})
	if !result.IsError {
		t.Fatal("expected an error result for missing required arg")
	}
	if !strings.Contains(result.ForLLM, "title") {
		t.Errorf("error should name the missing field, got %q", result.ForLLM)
	}
}

func TestRegistry_NilResultBecomesErrorResult(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubTool{
		name: ToolName("broken_tool"),
		fn:   func(map[string]interface{}) *ToolResult { return nil },
	})

	result := registry.Execute(context.Background(), "broken_tool", nil, ExecContext{})
	if !result.IsError {
		t.Fatal("a nil tool result must surface as an error result")
	}
}

func TestRegistry_DefinitionsKeepRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubTool{name: ToolName("bravo")})
	registry.Register(&stubTool{name: ToolName("alpha")})

	defs := registry.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Function.Name != "bravo" || defs[1].Function.Name != "alpha" {
		t.Errorf("definitions out of registration order: %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
}

func TestSkippedResult(t *testing.T) {
	result := SkippedResult("user has not confirmed")
	if !result.Skipped || result.IsError {
		t.Fatalf("unexpected flags: skipped=%v error=%v", result.Skipped, result.IsError)
	}

	var payload struct {
		Skipped bool   `json:"skipped"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(result.ForLLM), &payload); err != nil {
		t.Fatalf("ForLLM is not valid JSON: %v", err)
	}
	if !payload.Skipped || payload.Reason != "user has not confirmed" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestSanitizeToolArgs(t *testing.T) {
	args := map[string]interface{}{
		"title":   "Dentist",
		"api_key": "sk-secret",
		"nested": map[string]interface{}{
			"auth_token": "abc",
			"note":       "fine",
		},
		"long": strings.Repeat("x", 300),
	}

	sanitized := sanitizeToolArgs(args)
	if sanitized["api_key"] != "<redacted>" {
		t.Errorf("api_key should be redacted, got %v", sanitized["api_key"])
	}
	nested := sanitized["nested"].(map[string]interface{})
	if nested["auth_token"] != "<redacted>" {
		t.Errorf("nested auth_token should be redacted, got %v", nested["auth_token"])
	}
	if nested["note"] != "fine" {
		t.Errorf("benign nested value should pass through, got %v", nested["note"])
	}
	if sanitized["title"] != "Dentist" {
		t.Errorf("benign value should pass through, got %v", sanitized["title"])
	}
	long := sanitized["long"].(string)
	if !strings.HasSuffix(long, "...(truncated)") || len(long) >= 300 {
		t.Errorf("long value should be truncated, got %d chars", len(long))
	}

	if sanitizeToolArgs(nil) != nil {
		t.Error("nil args should stay nil")
	}
}
