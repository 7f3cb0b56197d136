// builders.go turns run failures into capture options attributed to the
// operation that was in flight.

package agentssdk

import (
	"context"
	"errors"
	"strings"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// AttrErrorClass is the attribute holding classifyError's result.
const AttrErrorClass = "agent.error_class"

// errorOptions builds capture options for a run error.
func errorOptions(err error, e Enrichment) []aisen.CaptureOption {
	attrs := e.Attributes()
	attrs[AttrErrorClass] = classifyError(err)
	return []aisen.CaptureOption{
		aisen.WithFingerprint(aisen.Fingerprint(e.Descriptor())),
		aisen.WithAttributes(attrs),
	}
}

// panicOptions builds capture options for a recovered panic.
func panicOptions(stack string, e Enrichment) []aisen.CaptureOption {
	attrs := e.Attributes()
	attrs[AttrErrorClass] = "panic"
	return []aisen.CaptureOption{
		aisen.WithFingerprint(aisen.Fingerprint(e.Descriptor())),
		aisen.WithAttributes(attrs),
		aisen.WithSeverity(aisen.SeverityCrash),
		aisen.WithStackTrace(stack),
	}
}

// classifyError determines the error class based on the error.
func classifyError(err error) string {
	if err == nil {
		return "error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	// Guardrail violations are only recognizable by message.
	if containsGuardrailPattern(err.Error()) {
		return "guardrail"
	}
	return "error"
}

var guardrailPatterns = []string{
	"guardrail",
	"content policy",
	"safety filter",
	"blocked by policy",
}

func containsGuardrailPattern(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range guardrailPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
