// scope.go provides per-context enrichment frames (user, tags, extra, breadcrumbs).

package aisen

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// DefaultMaxBreadcrumbs is the per-frame breadcrumb capacity when none is configured.
const DefaultMaxBreadcrumbs = 100

type scopeKey struct{}

// Scope is one frame of enrichment data. Frames form a stack through their
// parent pointer; reads always see the merged view from the root to this frame.
//
// A Scope is safe for concurrent use, but frames are meant to stay within the
// logical execution they were pushed for. Use DetachScope to hand the current
// view to a spawned goroutine.
type Scope struct {
	parent *Scope

	mu     sync.Mutex
	popped bool
	user   *User
	tags   map[string]string
	extra  map[string]any
	crumbs breadcrumbRing
}

// NewScope creates a root frame holding at most maxBreadcrumbs breadcrumbs.
func NewScope(maxBreadcrumbs int) *Scope {
	if maxBreadcrumbs <= 0 {
		maxBreadcrumbs = DefaultMaxBreadcrumbs
	}
	return &Scope{crumbs: breadcrumbRing{capacity: maxBreadcrumbs}}
}

// ScopeFromContext returns the innermost frame attached to ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// PushScope attaches a child frame to ctx. The returned pop func marks the
// frame inactive and is safe to call more than once. The caller's original ctx
// never sees the child, so values set on it cannot leak upward.
func PushScope(ctx context.Context) (context.Context, *Scope, func()) {
	parent := ScopeFromContext(ctx)
	capacity := DefaultMaxBreadcrumbs
	if parent != nil {
		capacity = parent.crumbs.capacity
	}
	child := &Scope{parent: parent, crumbs: breadcrumbRing{capacity: capacity}}

	var once sync.Once
	pop := func() {
		once.Do(func() {
			child.mu.Lock()
			child.popped = true
			child.mu.Unlock()
		})
	}
	return context.WithValue(ctx, scopeKey{}, child), child, pop
}

// WithScope runs fn with a fresh child frame and pops it on every exit path,
// including a panic inside fn.
func WithScope(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, _, pop := PushScope(ctx)
	defer pop()
	return fn(ctx)
}

// DetachScope returns a context carrying a parentless copy of the merged view
// in ctx. Changes made through either side afterwards are not shared.
func DetachScope(ctx context.Context) context.Context {
	cur := ScopeFromContext(ctx)
	if cur == nil {
		return ctx
	}
	snap := cur.Snapshot()
	detached := &Scope{
		user:   snap.User,
		tags:   snap.Tags,
		extra:  snap.Extra,
		crumbs: breadcrumbRing{capacity: cur.crumbs.capacity},
	}
	for _, b := range snap.Breadcrumbs {
		detached.crumbs.push(b)
	}
	return context.WithValue(ctx, scopeKey{}, detached)
}

// SetUser sets the user for this frame.
func (s *Scope) SetUser(u User) {
	s.mutate(func() { s.user = u.clone() })
}

// SetTag sets a tag visible in this frame and its children.
func (s *Scope) SetTag(key, value string) {
	s.mutate(func() {
		if s.tags == nil {
			s.tags = make(map[string]string)
		}
		s.tags[key] = value
	})
}

// SetContext stores an extra context value under key.
func (s *Scope) SetContext(key string, value any) {
	s.mutate(func() {
		if s.extra == nil {
			s.extra = make(map[string]any)
		}
		s.extra[key] = value
	})
}

// AddBreadcrumb appends a breadcrumb, evicting the oldest when the ring is full.
func (s *Scope) AddBreadcrumb(b Breadcrumb) {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}
	if b.Level == "" {
		b.Level = SeverityInfo
	}
	b.Data = normalizeValues(b.Data)
	s.mutate(func() { s.crumbs.push(b) })
}

// Clear drops everything set on this frame. Parent frames are untouched.
func (s *Scope) Clear() {
	s.mutate(func() {
		s.user = nil
		s.tags = nil
		s.extra = nil
		s.crumbs.reset()
	})
}

func (s *Scope) mutate(fn func()) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popped {
		return
	}
	fn()
}

// Snapshot returns the merged view from the root frame to s.
func (s *Scope) Snapshot() ScopeSnapshot {
	if s == nil {
		return ScopeSnapshot{}
	}
	return mergeScopes(s.crumbs.capacity, s.chain()...)
}

// chain returns the frames from the root to s.
func (s *Scope) chain() []*Scope {
	var frames []*Scope
	for f := s; f != nil; f = f.parent {
		frames = append(frames, f)
	}
	slices.Reverse(frames)
	return frames
}

// mergeScopes overlays frames in order (later frames win) and keeps the most
// recent maxBreadcrumbs breadcrumbs across all of them.
func mergeScopes(maxBreadcrumbs int, frames ...*Scope) ScopeSnapshot {
	var snap ScopeSnapshot
	for _, f := range frames {
		if f == nil {
			continue
		}
		f.mu.Lock()
		if f.user != nil {
			snap.User = f.user.clone()
		}
		if len(f.tags) > 0 {
			if snap.Tags == nil {
				snap.Tags = make(map[string]string, len(f.tags))
			}
			maps.Copy(snap.Tags, f.tags)
		}
		if len(f.extra) > 0 {
			if snap.Extra == nil {
				snap.Extra = make(map[string]any, len(f.extra))
			}
			maps.Copy(snap.Extra, f.extra)
		}
		snap.Breadcrumbs = f.crumbs.appendTo(snap.Breadcrumbs)
		f.mu.Unlock()
	}

	if len(frames) > 1 {
		slices.SortStableFunc(snap.Breadcrumbs, func(a, b Breadcrumb) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	if maxBreadcrumbs > 0 && len(snap.Breadcrumbs) > maxBreadcrumbs {
		snap.Breadcrumbs = slices.Clone(snap.Breadcrumbs[len(snap.Breadcrumbs)-maxBreadcrumbs:])
	}
	return snap
}

// breadcrumbRing is a fixed-capacity ring; the backing array is allocated on
// first use.
type breadcrumbRing struct {
	capacity int
	buf      []Breadcrumb
	start    int
	n        int
}

func (r *breadcrumbRing) push(b Breadcrumb) {
	if r.capacity <= 0 {
		return
	}
	if r.buf == nil {
		r.buf = make([]Breadcrumb, r.capacity)
	}
	if r.n < r.capacity {
		r.buf[(r.start+r.n)%r.capacity] = b
		r.n++
		return
	}
	r.buf[r.start] = b
	r.start = (r.start + 1) % r.capacity
}

// appendTo appends the ring contents, oldest first.
func (r *breadcrumbRing) appendTo(dst []Breadcrumb) []Breadcrumb {
	for i := 0; i < r.n; i++ {
		dst = append(dst, r.buf[(r.start+i)%r.capacity])
	}
	return dst
}

func (r *breadcrumbRing) reset() {
	r.buf = nil
	r.start = 0
	r.n = 0
}
