// event.go defines the canonical event, breadcrumb and batch data structures.

package aisen

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// EventKind identifies what an event describes.
type EventKind string

const (
	KindError            EventKind = "error"
	KindMessage          EventKind = "message"
	KindOperationSuccess EventKind = "operation_success"
	KindOperationFailure EventKind = "operation_failure"
	KindIncidentOpened   EventKind = "incident_opened"
	KindIncidentResolved EventKind = "incident_resolved"
)

// IsLifecycle reports whether the kind is an incident lifecycle event.
// Lifecycle events bypass sampling.
func (k EventKind) IsLifecycle() bool {
	return k == KindIncidentOpened || k == KindIncidentResolved
}

// Severity indicates the severity level of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"

	// SeverityCrash indicates an unrecoverable error such as a panic.
	SeverityCrash Severity = "crash"
)

// User identifies the end user active when an event was captured.
type User struct {
	ID       string            `json:"id,omitempty"`
	Email    string            `json:"email,omitempty"`
	Username string            `json:"username,omitempty"`
	IP       string            `json:"ip_address,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Data != nil {
		c.Data = make(map[string]string, len(u.Data))
		for k, v := range u.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Breadcrumb is a timestamped diagnostic trail entry attached to a scope.
type Breadcrumb struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Level     Severity       `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// ScopeSnapshot is a value copy of the merged scope taken at capture time.
// Mutating the live scope afterwards never changes a snapshot.
type ScopeSnapshot struct {
	User        *User             `json:"user,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
	Breadcrumbs []Breadcrumb      `json:"breadcrumbs,omitempty"`
}

// Event is the canonical telemetry representation handed to delivery.
type Event struct {
	// ID is a unique identifier (UUID) generated at capture time.
	ID string `json:"id"`

	Timestamp   time.Time `json:"timestamp"`
	Kind        EventKind `json:"kind"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`

	Message    string `json:"message,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`

	// Attributes holds scalar values only (string, bool, integers, floats).
	Attributes map[string]any `json:"attributes,omitempty"`

	// Scope is the enrichment context at capture time.
	Scope ScopeSnapshot `json:"context"`

	// ContextID optionally links the event to a cxdb conversation.
	// Uses pointer to distinguish "not set" from "zero value".
	ContextID *uint64 `json:"context_id,omitempty"`

	Environment string `json:"environment,omitempty"`
	Release     string `json:"release,omitempty"`
}

// normalizeAttributes copies attrs, converting non-scalar values to strings.
func normalizeAttributes(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = scalar(v)
	}
	return out
}

// normalizeValues copies m, keeping nested maps and slices and reducing
// every leaf with scalar.
func normalizeValues(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return nil
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalizeValue(item)
		}
		return out
	case map[string]string, []string:
		return x
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return scalar(v)
	}
}

// scalar reduces v to a value encoding/json can always encode. Non-finite
// floats become their string form.
func scalar(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 32)
		}
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		return x
	case time.Duration:
		return x.Milliseconds()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Batch is an immutable, ordered group of events delivered together in one attempt.
type Batch struct {
	id        string
	createdAt time.Time
	events    []Event
}

// NewBatch builds a batch from events. The slice is copied.
func NewBatch(id string, events []Event) Batch {
	cp := make([]Event, len(events))
	copy(cp, events)
	return Batch{id: id, createdAt: time.Now(), events: cp}
}

// ID returns the batch identifier.
func (b Batch) ID() string { return b.id }

// CreatedAt returns when the batch was formed.
func (b Batch) CreatedAt() time.Time { return b.createdAt }

// Len returns the number of events in the batch.
func (b Batch) Len() int { return len(b.events) }

// Events returns a copy of the batch's events in enqueue order.
func (b Batch) Events() []Event {
	cp := make([]Event, len(b.events))
	copy(cp, b.events)
	return cp
}
