// system.go captures process state at error time.

package aisen

import (
	"os"
	"runtime"
	"time"
)

// SystemState is a point-in-time view of the host process.
type SystemState struct {
	MemoryBytes    int64
	GoroutineCount int
	UptimeMs       int64
	HostName       string
}

// CaptureSystemState captures process metrics at the current moment.
// startTime is used to calculate uptime.
func CaptureSystemState(startTime time.Time) SystemState {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hostname, _ := os.Hostname() // empty hostname is acceptable

	uptimeMs := time.Since(startTime).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0
	}

	return SystemState{
		MemoryBytes:    int64(memStats.Alloc),
		GoroutineCount: runtime.NumGoroutine(),
		UptimeMs:       uptimeMs,
		HostName:       hostname,
	}
}

// Attributes renders the state as event attributes.
func (s SystemState) Attributes() map[string]any {
	attrs := map[string]any{
		"process.memory_bytes": s.MemoryBytes,
		"process.goroutines":   s.GoroutineCount,
		"process.uptime_ms":    s.UptimeMs,
	}
	if s.HostName != "" {
		attrs["host.name"] = s.HostName
	}
	return attrs
}
