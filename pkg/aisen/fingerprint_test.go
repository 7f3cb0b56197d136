package aisen

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Stability(t *testing.T) {
	d := DBOperation("postgresql", "SELECT", "users")

	fp1 := Fingerprint(d)
	fp2 := Fingerprint(DBOperation("postgresql", "SELECT", "users"))

	if fp1 != fp2 {
		t.Errorf("Same descriptor produced different fingerprints: %q vs %q", fp1, fp2)
	}
	// Literal value pins the format across process restarts and releases.
	if fp1 != "db:postgresql:SELECT:users" {
		t.Errorf("Fingerprint = %q, want %q", fp1, "db:postgresql:SELECT:users")
	}
}

func TestFingerprint_Constructors(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{"http", HTTPOperation("get", "/users/{id}"), "http:GET:/users/{id}"},
		{"db uppercases operation", DBOperation("mysql", "insert", "orders"), "db:mysql:INSERT:orders"},
		{"cache", CacheOperation("redis", "get"), "cache:redis:GET"},
		{"task", TaskOperation("send_email"), "task:send_email"},
		{"agent", AgentOperation("researcher"), "agent:researcher"},
		{"tool", ToolOperation("researcher", "WebSearch"), "tool:WebSearch:researcher"},
		{"llm", LLMOperation("openai", "gpt-4o"), "llm:openai:gpt-4o"},
		{"http client", HTTPClientOperation("post", "api.stripe.com"), "http.client:POST:api.stripe.com"},
		{"messaging", MessagingOperation("kafka", "Publish", "orders"), "messaging:kafka:publish:orders"},
		{"rpc", RPCOperation("grpc", "orders.Orders", "Get"), "rpc:grpc:orders.Orders:Get"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fingerprint(tt.d))
		})
	}
}

func TestFingerprint_MissingPartsFallBackToKind(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{"empty name", Descriptor{Kind: "db"}, "db"},
		{"blank qualifier", DBOperation("postgresql", "SELECT", "  "), "db"},
		{"empty kind", Descriptor{Name: "x"}, "unknown:x"},
		{"zero descriptor", Descriptor{}, "unknown"},
		{"kind is lowercased", Descriptor{Kind: "HTTP"}, "http"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fingerprint(tt.d))
		})
	}
}

func TestFingerprint_EscapesSeparator(t *testing.T) {
	a := Fingerprint(Descriptor{Kind: "task", Name: "a:b"})
	b := Fingerprint(Descriptor{Kind: "task", Name: "a", Qualifiers: []string{"b"}})

	if a == b {
		t.Errorf("Separator inside a part must not collide: both %q", a)
	}
}

func TestFingerprint_EscapesEscapeCharacter(t *testing.T) {
	a := Fingerprint(TaskOperation("a:b"))
	b := Fingerprint(TaskOperation("a%3Ab"))

	if a == b {
		t.Errorf("Escaped and literal separators must not collide: both %q", a)
	}
	if a != "task:a%3Ab" || b != "task:a%253Ab" {
		t.Errorf("Fingerprints = %q, %q", a, b)
	}
}

func TestFingerprint_NormalizesWhitespace(t *testing.T) {
	a := Fingerprint(TaskOperation("  nightly   report "))
	b := Fingerprint(TaskOperation("nightly report"))

	assert.Equal(t, a, b)
}

func TestDescriptor_String(t *testing.T) {
	d := CacheOperation("redis", "SET")
	assert.Equal(t, Fingerprint(d), d.String())
}

func TestExceptionFingerprint_Stability(t *testing.T) {
	stack := `goroutine 1 [running]:
main.doSomething()
	/app/main.go:42 +0x123
main.helper()
	/app/main.go:30 +0x456
main.main()
	/app/main.go:10 +0x789`

	fp1 := ExceptionFingerprint("*errors.errorString", stack)
	fp2 := ExceptionFingerprint("*errors.errorString", stack)

	if fp1 != fp2 {
		t.Errorf("Same input produced different fingerprints: %q vs %q", fp1, fp2)
	}

	// Should be 32 hex characters (16 bytes)
	if len(fp1) != 32 {
		t.Errorf("Fingerprint length = %d, want 32", len(fp1))
	}
}

func TestExceptionFingerprint_DifferentLineNumbers_SameFingerprint(t *testing.T) {
	stack1 := `goroutine 1 [running]:
main.doSomething()
	/app/main.go:42 +0x123
main.main()
	/app/main.go:10 +0x456`
	stack2 := `goroutine 7 [running]:
main.doSomething()
	/app/main.go:99 +0xabc
main.main()
	/app/main.go:55 +0xdef`

	if ExceptionFingerprint("panic", stack1) != ExceptionFingerprint("panic", stack2) {
		t.Error("Stacks differing only in line numbers should have same fingerprint")
	}
}

func TestExceptionFingerprint_DifferentMemoryAddresses_SameFingerprint(t *testing.T) {
	stack1 := "goroutine 1 [running]:\nmain.handler(0x1234abcd)\n\t/app/main.go:42 +0x100"
	stack2 := "goroutine 1 [running]:\nmain.handler(0xdeadbeef)\n\t/app/main.go:42 +0x200"

	if ExceptionFingerprint("panic", stack1) != ExceptionFingerprint("panic", stack2) {
		t.Error("Stacks differing only in memory addresses should have same fingerprint")
	}
}

func TestExceptionFingerprint_DifferentErrorType_DifferentFingerprint(t *testing.T) {
	if ExceptionFingerprint("timeout", "") == ExceptionFingerprint("panic", "") {
		t.Error("Different error types should have different fingerprints")
	}
}

func TestNormalizeStackTrace(t *testing.T) {
	input := `goroutine 1 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
main.doSomething(0x1234)
	/app/main.go:42 +0x123
pkg.(*Server).helper()
	/app/pkg/helper.go:20 +0x456
runtime.main()
	/usr/local/go/src/runtime/proc.go:250 +0x789
another.function()
	/app/another.go:100 +0xabc`

	frames := normalizeStackTrace(input)

	expected := []string{"main.doSomething", "pkg.(*Server).helper", "another.function"}
	assert.Equal(t, expected, frames)
}

type customErr struct{}

func (customErr) Error() string { return "custom" }

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "error"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"wrapped path error", fmt.Errorf("open: %w", &fs.PathError{Op: "open", Path: "/x", Err: errors.New("boom")}), "*errors.errorString"},
		{"custom", customErr{}, "aisen.customErr"},
		{"plain", errors.New("x"), "*errors.errorString"},
		{"panic", &PanicError{Value: "boom"}, "panic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorType(tt.err))
		})
	}
}
