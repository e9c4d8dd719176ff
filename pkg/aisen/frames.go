// frames.go converts raw stack frames into canonical event frames.

package aisen

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/stacktrace"
)

// MaxFrames is the maximum number of frames kept per event.
const MaxFrames = 50

// captureEntryPoints are the public capture APIs whose own frame is dropped
// from the head of a trace, so the caller's site stays the crash frame.
var captureEntryPoints = []string{"CaptureException", "CaptureMessage"}

var location atomic.Value

func init() {
	if len(os.Args) > 0 {
		location.Store(os.Args[0])
	} else {
		location.Store("")
	}
}

// SetLocation sets the host location used as filename for frames that carry
// none. The realm sets it to its script or program location.
func SetLocation(loc string) {
	location.Store(loc)
}

// Location returns the current host location.
func Location() string {
	return location.Load().(string)
}

// NormalizeFrames converts raw frames (innermost first) into event frames
// ordered outermost call first, crash site last, keeping at most MaxFrames of
// the most recent calls.
func NormalizeFrames(raw []stacktrace.Frame) []StackFrame {
	if len(raw) == 0 {
		return nil
	}

	firstFunction := raw[0].Function
	lastFunction := raw[len(raw)-1].Function

	local := raw
	if containsAny(firstFunction, captureEntryPoints) {
		local = local[1:]
	}
	if strings.Contains(lastFunction, stacktrace.WrapMarker) && len(local) > 0 {
		local = local[:len(local)-1]
	}
	if len(local) == 0 {
		return nil
	}

	fallbackFile := local[0].File
	if fallbackFile == "" {
		fallbackFile = Location()
	}

	if len(local) > MaxFrames {
		local = local[:MaxFrames]
	}

	frames := make([]StackFrame, len(local))
	for i, f := range local {
		frame := StackFrame{
			Filename: f.File,
			Function: f.Function,
			Lineno:   f.Line,
			Colno:    f.Column,
			InApp:    true,
		}
		if frame.Filename == "" {
			frame.Filename = fallbackFile
		}
		if frame.Function == "" {
			frame.Function = "?"
		}
		// The crash frame goes last.
		frames[len(local)-1-i] = frame
	}
	return frames
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
