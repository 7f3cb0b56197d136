// fingerprint.go generates stable grouping keys for operations and errors.

package aisen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Descriptor identifies an instrumented operation.
// Name is the primary discriminator within a kind; Qualifiers are ordered.
type Descriptor struct {
	Kind       string
	Name       string
	Qualifiers []string
}

// Operation kinds used by the bundled adapters.
const (
	OperationHTTP       = "http"
	OperationHTTPClient = "http.client"
	OperationDB         = "db"
	OperationCache      = "cache"
	OperationTask       = "task"
	OperationMessaging  = "messaging"
	OperationRPC        = "rpc"
	OperationAgent      = "agent"
	OperationTool       = "tool"
	OperationLLM        = "llm"
)

// HTTPOperation describes an inbound HTTP request by method and route template.
func HTTPOperation(method, route string) Descriptor {
	return Descriptor{Kind: OperationHTTP, Name: strings.ToUpper(method), Qualifiers: []string{route}}
}

// HTTPClientOperation describes an outbound HTTP request by method and host.
func HTTPClientOperation(method, host string) Descriptor {
	return Descriptor{Kind: OperationHTTPClient, Name: strings.ToUpper(method), Qualifiers: []string{host}}
}

// MessagingOperation describes a publish or consume, e.g. ("kafka", "publish", "orders").
func MessagingOperation(system, operation, destination string) Descriptor {
	return Descriptor{Kind: OperationMessaging, Name: system, Qualifiers: []string{strings.ToLower(operation), destination}}
}

// RPCOperation describes a remote call, e.g. ("grpc", "orders.Orders", "Get").
func RPCOperation(system, service, method string) Descriptor {
	return Descriptor{Kind: OperationRPC, Name: system, Qualifiers: []string{service, method}}
}

// DBOperation describes a database statement, e.g. ("postgresql", "SELECT", "users").
func DBOperation(system, operation, table string) Descriptor {
	return Descriptor{Kind: OperationDB, Name: system, Qualifiers: []string{strings.ToUpper(operation), table}}
}

// CacheOperation describes a cache command, e.g. ("redis", "GET").
func CacheOperation(system, command string) Descriptor {
	return Descriptor{Kind: OperationCache, Name: system, Qualifiers: []string{strings.ToUpper(command)}}
}

// TaskOperation describes a background task by name.
func TaskOperation(name string) Descriptor {
	return Descriptor{Kind: OperationTask, Name: name}
}

// AgentOperation describes an agent run.
func AgentOperation(agent string) Descriptor {
	return Descriptor{Kind: OperationAgent, Name: agent}
}

// ToolOperation describes a tool call made by an agent.
func ToolOperation(agent, tool string) Descriptor {
	return Descriptor{Kind: OperationTool, Name: tool, Qualifiers: []string{agent}}
}

// LLMOperation describes a model call.
func LLMOperation(provider, model string) Descriptor {
	return Descriptor{Kind: OperationLLM, Name: provider, Qualifiers: []string{model}}
}

// String returns the descriptor's fingerprint.
func (d Descriptor) String() string {
	return Fingerprint(d)
}

// Fingerprint computes the grouping key for a descriptor: "kind:name:q1:q2...".
//
// It is pure and total. A missing name or qualifier degrades to a bucket keyed
// by kind alone instead of failing.
func Fingerprint(d Descriptor) string {
	kind := strings.ToLower(normalizePart(d.Kind))
	if kind == "" {
		kind = "unknown"
	}

	name := normalizePart(d.Name)
	if name == "" {
		return kind
	}

	parts := make([]string, 0, 2+len(d.Qualifiers))
	parts = append(parts, kind, name)
	for _, q := range d.Qualifiers {
		q = normalizePart(q)
		if q == "" {
			return kind
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, ":")
}

var (
	whitespacePattern = regexp.MustCompile(`\s+`)

	// partEscaper escapes the escape character along with the separator so
	// distinct parts never collide.
	partEscaper = strings.NewReplacer("%", "%25", ":", "%3A")
)

// normalizePart trims, collapses whitespace and escapes the separator.
func normalizePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = whitespacePattern.ReplaceAllString(s, " ")
	return partEscaper.Replace(s)
}

// ExceptionFingerprint generates a hash for grouping similar errors.
// The fingerprint is based on:
//   - the error type
//   - First 3 stack frames (function names only, normalized)
//
// It ignores variable data like messages, line numbers, and memory addresses.
func ExceptionFingerprint(errorType, stackTrace string) string {
	parts := []string{errorType}
	parts = append(parts, normalizeStackTrace(stackTrace)...)

	input := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(input))

	// Return hex-encoded first 16 bytes (32 hex chars)
	return hex.EncodeToString(hash[:16])
}

// ErrorType classifies an error for grouping. Context errors map to
// "timeout" and "canceled", recovered panics to "panic"; anything else
// reports the Go type of the innermost wrapped error.
func ErrorType(err error) string {
	if err == nil {
		return "error"
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return "panic"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return fmt.Sprintf("%T", inner)
}

// Regex patterns for stack trace parsing
var (
	// Match function names like "main.doSomething" or "pkg/subpkg.Function"
	funcNamePattern = regexp.MustCompile(`^([a-zA-Z0-9_./\-]+\.[a-zA-Z0-9_.\[\]*()]+)`)

	// Match memory addresses like "0x1234abcd"
	memAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

	// Match offset patterns like "+0x123"
	offsetPattern = regexp.MustCompile(`\+0x[0-9a-fA-F]+`)
)

// Frames belonging to the runtime or to this package say nothing about where
// the error came from.
var skippedFramePrefixes = []string{
	"runtime/debug.",
	"runtime.",
	"github.com/strongdm/aisen-telemetry/pkg/aisen.",
}

// normalizeStackTrace extracts the first 3 application function names from a
// stack trace, stripping line numbers, memory addresses, and other variable data.
func normalizeStackTrace(trace string) []string {
	if trace == "" {
		return nil
	}

	var frames []string
	for _, line := range strings.Split(trace, "\n") {
		// File path lines are indented with a tab
		if strings.HasPrefix(line, "\t") {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") || strings.HasPrefix(line, "/") {
			continue
		}

		funcLine := memAddrPattern.ReplaceAllString(line, "")
		funcLine = offsetPattern.ReplaceAllString(funcLine, "")

		// Remove the trailing argument list
		if idx := strings.LastIndex(funcLine, "("); idx > 0 && strings.HasSuffix(funcLine, ")") {
			funcLine = funcLine[:idx]
		}
		funcLine = strings.TrimSpace(funcLine)
		if funcLine == "" || skippedFrame(funcLine) {
			continue
		}

		if match := funcNamePattern.FindString(funcLine); match != "" {
			frames = append(frames, match)
			if len(frames) >= 3 {
				break
			}
		}
	}

	return frames
}

func skippedFrame(fn string) bool {
	for _, p := range skippedFramePrefixes {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}
