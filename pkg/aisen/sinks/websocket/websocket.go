// Package websocket provides a sink that streams batches over one persistent
// WebSocket connection and waits for the collector to acknowledge each batch.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

const defaultReadLimit = 1 << 20

// Config configures the WebSocket sink.
type Config struct {
	// Endpoint is the collector base URL. http and https are mapped to ws and wss.
	Endpoint  string
	APIKey    string
	ProjectID string

	// HTTPClient is used for the opening handshake.
	HTTPClient *http.Client

	// ReadLimit bounds the size of a collector message (default: 1 MiB).
	ReadLimit int64

	Logger *zap.Logger
}

type batchFrame struct {
	Type    string            `json:"type"`
	BatchID string            `json:"batch_id"`
	SentAt  time.Time         `json:"sent_at"`
	Events  []json.RawMessage `json:"events"`
}

type ackFrame struct {
	Type     string `json:"type"`
	BatchID  string `json:"batch_id"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Sink sends one batch at a time and reconnects lazily after any error.
type Sink struct {
	url       string
	header    http.Header
	client    *http.Client
	readLimit int64
	logger    *zap.Logger

	mu     sync.Mutex
	conn   *ws.Conn
	closed bool
}

var _ aisen.Sink = (*Sink)(nil)

// New validates cfg. No connection is made until the first Send.
func New(cfg Config) (*Sink, error) {
	if cfg.Endpoint == "" {
		return nil, aisen.ErrMissingEndpoint
	}
	if cfg.APIKey == "" {
		return nil, aisen.ErrMissingAPIKey
	}
	if cfg.ProjectID == "" {
		return nil, aisen.ErrMissingProjectID
	}
	u, err := streamURL(cfg.Endpoint, cfg.ProjectID)
	if err != nil {
		return nil, err
	}

	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	header := http.Header{}
	header.Set("X-API-Key", cfg.APIKey)
	header.Set("X-Project-ID", cfg.ProjectID)
	header.Set("User-Agent", "aisen-go/"+aisen.Version)

	return &Sink{
		url:       u,
		header:    header,
		client:    cfg.HTTPClient,
		readLimit: cfg.ReadLimit,
		logger:    cfg.Logger.Named("websocket"),
	}, nil
}

// streamURL maps the endpoint to {ws|wss}://host/path/stream?project_id=P.
func streamURL(endpoint, projectID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid endpoint %q", aisen.ErrMissingEndpoint, endpoint)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", aisen.ErrMissingEndpoint, u.Scheme)
	}
	u.Path += "/stream"
	u.RawQuery = url.Values{"project_id": {projectID}}.Encode()
	return u.String(), nil
}

// URL returns the stream URL the sink dials.
func (s *Sink) URL() string { return s.url }

// Send writes the batch as one JSON text frame and blocks until the matching
// ack arrives or ctx ends. Other collector messages are ignored. A negative
// ack wraps aisen.ErrBatchRejected; any other failure drops the connection so
// the next Send redials. Events that cannot be encoded are left out and
// reported with a *aisen.SkippedEventsError once the rest are acknowledged.
func (s *Sink) Send(ctx context.Context, batch aisen.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return aisen.ErrClosed
	}

	events, skipped := aisen.EncodeEvents(batch.Events())
	if len(events) == 0 {
		return skipped
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}

	ack, err := s.roundTrip(ctx, conn, batch.ID(), events)
	if err != nil {
		s.logger.Debug("Dropping connection", zap.String("batch_id", batch.ID()), zap.Error(err))
		_ = conn.CloseNow()
		s.conn = nil
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("%w: %s", aisen.ErrBatchRejected, ack.Error)
	}
	return skipped
}

func (s *Sink) connect(ctx context.Context) (*ws.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, resp, err := ws.Dial(ctx, s.url, &ws.DialOptions{
		HTTPClient: s.client,
		HTTPHeader: s.header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: handshake returned status %d", aisen.ErrBatchRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	conn.SetReadLimit(s.readLimit)
	s.logger.Debug("Connected", zap.String("url", s.url))
	s.conn = conn
	return conn, nil
}

func (s *Sink) roundTrip(ctx context.Context, conn *ws.Conn, batchID string, events []json.RawMessage) (ackFrame, error) {
	frame := batchFrame{
		Type:    "batch",
		BatchID: batchID,
		SentAt:  time.Now().UTC(),
		Events:  events,
	}
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		return ackFrame{}, fmt.Errorf("write batch: %w", err)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return ackFrame{}, fmt.Errorf("read ack: %w", err)
		}
		if typ != ws.MessageText {
			continue
		}
		var ack ackFrame
		if err := json.Unmarshal(data, &ack); err != nil {
			s.logger.Debug("Ignoring malformed collector message", zap.Error(err))
			continue
		}
		if ack.Type != "ack" || ack.BatchID != batchID {
			continue
		}
		return ack, nil
	}
}

// Close sends a normal closure and stops further sends.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(ws.StatusNormalClosure, "client closing")
	s.conn = nil
	return err
}
