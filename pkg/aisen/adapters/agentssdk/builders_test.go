package agentssdk

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "error"},
		{"plain", errors.New("something broke"), "error"},
		{"timeout", context.DeadlineExceeded, "timeout"},
		{"wrapped timeout", fmt.Errorf("llm call: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"guardrail", errors.New("output rejected by Guardrail"), "guardrail"},
		{"content policy", errors.New("request violates CONTENT POLICY"), "guardrail"},
		{"safety filter", errors.New("blocked by safety filter"), "guardrail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorOptions_NoOptionIsNil(t *testing.T) {
	e := Enrichment{AgentName: "a", Operation: operationTool, ToolName: "t"}

	for _, opt := range errorOptions(errors.New("x"), e) {
		if opt == nil {
			t.Fatal("errorOptions returned a nil option")
		}
	}
	if got := len(panicOptions("stack", e)); got != 4 {
		t.Errorf("len(panicOptions) = %d, want 4", got)
	}
}
