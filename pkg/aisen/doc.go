// Package aisen is an in-process telemetry pipeline: it captures errors and
// operation outcomes, groups them by deterministic fingerprint, auto-resolves
// incidents after consecutive successes, and delivers events to a collector
// in batches from a background goroutine.
//
// # Core Components
//
//   - Fingerprint: stable grouping key for an operation Descriptor
//   - Scope: per-context enrichment (user, tags, extra, breadcrumbs) carried in context.Context
//   - Client: capture path with sampling and fail-closed sanitization
//   - IncidentTracker: sharded per-fingerprint state machine driving auto-resolution
//   - BufferedTransport: bounded buffer, batching, retry with backoff, drop-on-overflow
//   - Sink: batch destination (HTTP collector by default; see sinks/ for others)
//
// # Quick Start
//
//	opts := aisen.DefaultOptions()
//	opts.Endpoint = "https://ingest.example.com"
//	opts.APIKey = os.Getenv("AISEN_API_KEY")
//	opts.ProjectID = "checkout"
//
//	client, err := aisen.New(opts, aisen.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	rows, qerr := db.QueryContext(ctx, "SELECT ... FROM users")
//	client.RecordOperation(ctx, aisen.Operation{
//	    Descriptor: aisen.DBOperation("postgresql", "SELECT", "users"),
//	    Success:    qerr == nil,
//	    Duration:   elapsed,
//	})
//
// Framework integrations live under adapters/ and are registered explicitly
// with Client.RegisterAdapters.
//
// # Guarantees
//
//   - Capture calls never block on the network, never panic, and return ""
//     when an event is dropped
//   - Incident lifecycle events bypass sampling
//   - A sanitizer failure drops the event; unsanitized data is never delivered
package aisen

// Version is reported in the User-Agent of outbound requests.
const Version = "0.3.0"
