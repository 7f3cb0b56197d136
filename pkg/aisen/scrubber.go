// scrubber.go implements fail-closed sensitive data redaction for events.

package aisen

import (
	"fmt"
	"regexp"
	"strings"
)

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// SensitiveKeys extends the built-in list of sensitive key substrings.
	SensitiveKeys []string

	// MaxMessageSize is the maximum length for messages (default: 4096).
	MaxMessageSize int

	// MaxStackTraceSize is the maximum length for stack traces (default: 32768).
	MaxStackTraceSize int

	// MaxValueSize is the maximum length of one tag, attribute or extra value (default: 1024).
	MaxValueSize int

	// MaxDepth bounds recursion into nested extra values (default: 8).
	MaxDepth int

	// ScrubMessages enables secret and PII pattern scrubbing of free text (default: true).
	ScrubMessages bool

	// MaskEmails keeps the first and last character of the local part and the
	// domain instead of redacting email addresses outright (default: true).
	MaskEmails bool

	// FailClosed replaces values the scrubber cannot process with a
	// placeholder instead of passing them through (default: true).
	FailClosed bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize:    4096,
		MaxStackTraceSize: 32768,
		MaxValueSize:      1024,
		MaxDepth:          8,
		ScrubMessages:     true,
		MaskEmails:        true,
		FailClosed:        true,
	}
}

const (
	redacted      = "[REDACTED]"
	redactedError = "[REDACTED:SCRUB_ERROR]"
)

// Compiled regex patterns for message scrubbing
var messageScrubPatterns = []*regexp.Regexp{
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)gho_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), // JWT

	// Credentials
	regexp.MustCompile(`(?i)password[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)secret[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)passwd[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)credential[=:\s]+['"]?[^\s'"",]+['"]?`),

	// PII
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                       // SSN
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), // Credit card
}

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

var memAddrScrubPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// Sensitive key patterns (case-insensitive substring match)
var sensitiveKeyPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"passwd",
	"credential",
	"auth",
	"cookie",
	"session",
	"ssn",
	"cvv",
	"card_number",
	"credit_card",
}

// Path patterns to normalize in stack traces
var pathNormalizationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/home/[^/]+/`),
	regexp.MustCompile(`/Users/[^/]+/`),
	regexp.MustCompile(`C:\\Users\\[^\\]+\\`),
	regexp.MustCompile(`/tmp/[^/]+/`),
}

// Scrubber redacts sensitive data from event fields.
type Scrubber struct {
	cfg  ScrubberConfig
	keys []string
}

// NewScrubber creates a new scrubber with the given configuration.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	d := DefaultScrubberConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.MaxStackTraceSize <= 0 {
		cfg.MaxStackTraceSize = d.MaxStackTraceSize
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = d.MaxValueSize
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = d.MaxDepth
	}

	keys := append([]string(nil), sensitiveKeyPatterns...)
	for _, k := range cfg.SensitiveKeys {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return &Scrubber{cfg: cfg, keys: keys}
}

// ScrubMessage scrubs sensitive patterns from free text.
func (s *Scrubber) ScrubMessage(msg string) string {
	if len(msg) > s.cfg.MaxMessageSize {
		msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	}
	return s.scrubText(msg)
}

func (s *Scrubber) scrubText(text string) string {
	if !s.cfg.ScrubMessages || text == "" {
		return text
	}
	for _, pattern := range messageScrubPatterns {
		text = pattern.ReplaceAllString(text, redacted)
	}
	if s.cfg.MaskEmails {
		return emailPattern.ReplaceAllStringFunc(text, maskEmail)
	}
	return emailPattern.ReplaceAllString(text, redacted)
}

// maskEmail keeps the first and last character of the local part.
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "[EMAIL]"
	}
	if len(local) <= 2 {
		return "**@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + "@" + domain
}

// ScrubStackTrace normalizes paths and limits stack trace size.
func (s *Scrubber) ScrubStackTrace(trace string) string {
	if trace == "" {
		return trace
	}

	// Remove user-specific directories
	result := trace
	for _, pattern := range pathNormalizationPatterns {
		result = pattern.ReplaceAllString(result, "/[PATH]/")
	}
	result = memAddrScrubPattern.ReplaceAllString(result, "0x...")

	if len(result) > s.cfg.MaxStackTraceSize {
		result = truncateWithMarker(result, s.cfg.MaxStackTraceSize)
	}
	return result
}

// ScrubTags redacts sensitive keys and scrubs values.
func (s *Scrubber) ScrubTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}

	result := make(map[string]string, len(tags))
	for key, value := range tags {
		if s.isSensitiveKey(key) {
			result[key] = redacted
			continue
		}
		result[key] = s.scrubString(value)
	}
	return result
}

// ScrubAttributes scrubs a map of values, recursing into nested maps and slices.
// It returns an error only when FailClosed is false and a value could not be
// processed.
func (s *Scrubber) ScrubAttributes(attrs map[string]any) (map[string]any, error) {
	if attrs == nil {
		return nil, nil
	}
	out, err := s.scrubMap(attrs, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scrubber) scrubString(v string) string {
	if len(v) > s.cfg.MaxValueSize {
		v = truncateWithMarker(v, s.cfg.MaxValueSize)
	}
	return s.scrubText(v)
}

// scrubValue recursively scrubs a value (map, slice, or primitive).
func (s *Scrubber) scrubValue(val any, depth int) (any, error) {
	if depth > s.cfg.MaxDepth {
		return s.fail(fmt.Errorf("value nested deeper than %d", s.cfg.MaxDepth))
	}

	switch v := val.(type) {
	case nil, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case string:
		return s.scrubString(v), nil
	case map[string]any:
		return s.scrubMap(v, depth+1)
	case map[string]string:
		return s.ScrubTags(v), nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			scrubbed, err := s.scrubValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = scrubbed
		}
		return out, nil
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = s.scrubString(item)
		}
		return out, nil
	default:
		// Anything else is reduced to its string form so nothing unscrubbed
		// reaches the wire.
		return s.scrubString(fmt.Sprintf("%v", v)), nil
	}
}

func (s *Scrubber) scrubMap(m map[string]any, depth int) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for key, value := range m {
		if s.isSensitiveKey(key) {
			result[key] = redacted
			continue
		}
		scrubbed, err := s.scrubValue(value, depth)
		if err != nil {
			return nil, err
		}
		result[key] = scrubbed
	}
	return result, nil
}

func (s *Scrubber) fail(err error) (any, error) {
	if s.cfg.FailClosed {
		return redactedError, nil
	}
	return nil, err
}

// ScrubUser masks user identity fields. The user ID is kept for grouping.
func (s *Scrubber) ScrubUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := u.clone()
	c.Email = s.scrubText(c.Email)
	if c.Email == u.Email && c.Email != "" && s.cfg.ScrubMessages {
		// Not shaped like an address; redact rather than pass through.
		c.Email = redacted
	}
	if c.IP != "" {
		c.IP = redacted
	}
	c.Data = s.ScrubTags(c.Data)
	return c
}

// isSensitiveKey checks if a key matches sensitive patterns.
func (s *Scrubber) isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range s.keys {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// truncateWithMarker truncates a string and adds a truncation marker.
func truncateWithMarker(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	marker := "...[TRUNCATED]"
	if maxLen <= len(marker) {
		return marker[:maxLen]
	}
	return s[:maxLen-len(marker)] + marker
}
