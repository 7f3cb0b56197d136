// http_sink.go delivers batches to the collector's HTTP batch endpoint.

package aisen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// gzipThreshold is the body size above which requests are compressed.
const gzipThreshold = 1024

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	Endpoint  string
	APIKey    string
	ProjectID string

	// Compress gzips request bodies larger than 1 KiB.
	Compress bool

	// UserAgent defaults to "aisen-go/<Version>".
	UserAgent string

	// Client defaults to a client without a global timeout; per-request
	// deadlines come from the transport.
	Client *http.Client
}

// HTTPSink posts batches as JSON to {Endpoint}/v1/projects/{ProjectID}/events/batch.
type HTTPSink struct {
	url       string
	apiKey    string
	projectID string
	compress  bool
	userAgent string
	client    *http.Client
}

// StatusError reports a non-success HTTP response that may be retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("aisen: collector returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("aisen: collector returned status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPSink validates cfg and returns a sink.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.ProjectID == "" {
		return nil, ErrMissingProjectID
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid endpoint %q", ErrMissingEndpoint, cfg.Endpoint)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "aisen-go/" + Version
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	return &HTTPSink{
		url:       base.String() + "/v1/projects/" + url.PathEscape(cfg.ProjectID) + "/events/batch",
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		compress:  cfg.Compress,
		userAgent: cfg.UserAgent,
		client:    cfg.Client,
	}, nil
}

// URL returns the batch endpoint.
func (s *HTTPSink) URL() string { return s.url }

type batchPayload struct {
	BatchID string            `json:"batch_id"`
	SentAt  time.Time         `json:"sent_at"`
	Events  []json.RawMessage `json:"events"`
}

type batchResponse struct {
	Accepted *bool  `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Send posts the batch. 408, 429 and 5xx responses and transport errors are
// retryable; any other 4xx or an explicit {"accepted": false} is wrapped in
// ErrBatchRejected. Events that cannot be encoded are left out and reported
// with a *SkippedEventsError once the rest are accepted.
func (s *HTTPSink) Send(ctx context.Context, batch Batch) error {
	events, skipped := EncodeEvents(batch.Events())
	if len(events) == 0 {
		return skipped
	}
	body, err := json.Marshal(batchPayload{
		BatchID: batch.ID(),
		SentAt:  time.Now().UTC(),
		Events:  events,
	})
	if err != nil {
		return fmt.Errorf("encode batch: %v: %w", err, ErrBatchRejected)
	}

	var encoding string
	if s.compress && len(body) > gzipThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("gzip batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("gzip batch: %w", err)
		}
		body = buf.Bytes()
		encoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("X-Project-ID", s.projectID)
	req.Header.Set("User-Agent", s.userAgent)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var br batchResponse
		if len(bytes.TrimSpace(respBody)) > 0 && json.Unmarshal(respBody, &br) == nil &&
			br.Accepted != nil && !*br.Accepted {
			return fmt.Errorf("collector declined batch %s: %s: %w", batch.ID(), br.Error, ErrBatchRejected)
		}
		return skipped
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &StatusError{StatusCode: resp.StatusCode, Body: truncateWithMarker(string(respBody), 256)}
	default:
		return fmt.Errorf("%w: %w", &StatusError{StatusCode: resp.StatusCode, Body: truncateWithMarker(string(respBody), 256)}, ErrBatchRejected)
	}
}

// Close releases idle connections.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
