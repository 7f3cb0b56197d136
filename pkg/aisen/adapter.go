// adapter.go defines how framework integrations attach to a client.

package aisen

// Adapter translates a framework's native events into ingestion calls.
// Adapters are registered explicitly with Client.RegisterAdapters; nothing
// is discovered automatically.
type Adapter interface {
	Name() string

	// Install wires the adapter to sink. It is called once per registration.
	Install(sink IngestionSink) error
}

// AdapterFunc adapts a plain install function to the Adapter interface.
type AdapterFunc struct {
	AdapterName string
	InstallFunc func(sink IngestionSink) error
}

// Name returns AdapterName.
func (a AdapterFunc) Name() string { return a.AdapterName }

// Install calls InstallFunc. A nil InstallFunc installs nothing.
func (a AdapterFunc) Install(sink IngestionSink) error {
	if a.InstallFunc == nil {
		return nil
	}
	return a.InstallFunc(sink)
}
