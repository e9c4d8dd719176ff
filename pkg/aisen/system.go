// system.go samples process state attached to captured events.

package aisen

import (
	"os"
	"runtime"
	"sync"
	"time"
)

var hostname = sync.OnceValue(func() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
})

// CaptureSystemState samples heap usage and goroutine count. Uptime is
// measured from startTime; a zero startTime leaves it unset and a start in
// the future reports zero.
func CaptureSystemState(startTime time.Time) *SystemState {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	state := &SystemState{
		MemoryBytes:    int64(mem.HeapAlloc),
		GoroutineCount: runtime.NumGoroutine(),
		HostName:       hostname(),
	}
	if !startTime.IsZero() {
		state.UptimeMs = max(time.Since(startTime).Milliseconds(), 0)
	}
	return state
}
