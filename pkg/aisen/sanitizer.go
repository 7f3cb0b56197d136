// sanitizer.go defines the pluggable sanitizer contract and the default PII sanitizer.

package aisen

import (
	"fmt"
	"maps"
)

// Sanitizer transforms an event before it is buffered for delivery.
// Returning an error drops the event; an unsanitized event is never delivered.
// Implementations must not mutate maps reachable from the input event.
type Sanitizer func(Event) (Event, error)

// NewPIISanitizer returns a sanitizer that scrubs secrets and PII from every
// free-text field, attribute, tag, extra value, user field and breadcrumb.
func NewPIISanitizer(cfg ScrubberConfig) Sanitizer {
	return NewScrubber(cfg).SanitizeEvent
}

// SanitizeEvent scrubs a copy of e.
func (s *Scrubber) SanitizeEvent(e Event) (Event, error) {
	e.Message = s.ScrubMessage(e.Message)
	e.StackTrace = s.ScrubStackTrace(e.StackTrace)

	attrs, err := s.ScrubAttributes(e.Attributes)
	if err != nil {
		return Event{}, fmt.Errorf("scrub attributes: %w", err)
	}
	e.Attributes = attrs

	e.Scope.Tags = s.ScrubTags(e.Scope.Tags)
	extra, err := s.ScrubAttributes(e.Scope.Extra)
	if err != nil {
		return Event{}, fmt.Errorf("scrub extra: %w", err)
	}
	e.Scope.Extra = extra
	e.Scope.User = s.ScrubUser(e.Scope.User)

	if len(e.Scope.Breadcrumbs) > 0 {
		crumbs := make([]Breadcrumb, len(e.Scope.Breadcrumbs))
		for i, b := range e.Scope.Breadcrumbs {
			b.Message = s.ScrubMessage(b.Message)
			data, err := s.ScrubAttributes(b.Data)
			if err != nil {
				return Event{}, fmt.Errorf("scrub breadcrumb: %w", err)
			}
			b.Data = data
			crumbs[i] = b
		}
		e.Scope.Breadcrumbs = crumbs
	}
	return e, nil
}

// sanitize runs fn, converting a panic into an error.
func sanitize(fn Sanitizer, e Event) (out Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sanitizer panic: %s", formatRecovered(r))
		}
	}()
	return fn(e)
}

// copyEvent detaches the maps of e so a sanitizer cannot reach the caller's.
func copyEvent(e Event) Event {
	e.Attributes = maps.Clone(e.Attributes)
	e.Scope.Tags = maps.Clone(e.Scope.Tags)
	e.Scope.Extra = maps.Clone(e.Scope.Extra)
	e.Scope.User = e.Scope.User.clone()
	if e.Scope.Breadcrumbs != nil {
		e.Scope.Breadcrumbs = append([]Breadcrumb(nil), e.Scope.Breadcrumbs...)
	}
	return e
}
