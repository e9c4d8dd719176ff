// event.go defines the canonical event data structure for aisen.

package aisen

import "time"

// Level indicates the severity of an event.
type Level string

const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// SystemState captures system metrics at the time of an error.
type SystemState struct {
	// MemoryBytes is the current memory allocation in bytes.
	MemoryBytes int64

	// GoroutineCount is the number of active goroutines.
	GoroutineCount int

	// UptimeMs is the process uptime in milliseconds.
	UptimeMs int64

	// HostName is the hostname of the machine where the error occurred.
	HostName string
}

// StackFrame is one normalized call site.
type StackFrame struct {
	Filename string `json:"filename" msgpack:"filename"`
	Function string `json:"function" msgpack:"function"`
	Lineno   int    `json:"lineno" msgpack:"lineno"`
	Colno    int    `json:"colno" msgpack:"colno"`
	InApp    bool   `json:"in_app" msgpack:"in_app"`
}

// Stacktrace holds frames ordered outermost call first, crash site last.
type Stacktrace struct {
	Frames []StackFrame `json:"frames" msgpack:"frames"`
}

// Mechanism describes how an exception was captured. It is descriptive only
// and never takes part in event equality.
type Mechanism struct {
	Type    string            `json:"type" msgpack:"type"`
	Handled bool              `json:"handled" msgpack:"handled"`
	Data    map[string]string `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Exception is the typed description of one error within an event.
type Exception struct {
	Type       string      `json:"type,omitempty" msgpack:"type,omitempty"`
	Value      string      `json:"value,omitempty" msgpack:"value,omitempty"`
	Stacktrace *Stacktrace `json:"stacktrace,omitempty" msgpack:"stacktrace,omitempty"`
	Mechanism  *Mechanism  `json:"mechanism,omitempty" msgpack:"mechanism,omitempty"`
}

// ExceptionList wraps the exceptions of an event. Only Values[0] is
// meaningful.
type ExceptionList struct {
	Values []Exception `json:"values" msgpack:"values"`
}

// Event is the canonical record of one reported occurrence.
// Empty strings and nil slices/pointers mean "absent".
type Event struct {
	// EventID is a unique identifier (UUID), assigned by the collector.
	EventID string `json:"event_id" msgpack:"event_id"`

	// Timestamp is when the event was captured.
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`

	Level Level `json:"level,omitempty" msgpack:"level,omitempty"`

	Message string `json:"message,omitempty" msgpack:"message,omitempty"`

	Exception *ExceptionList `json:"exception,omitempty" msgpack:"exception,omitempty"`

	Stacktrace *Stacktrace `json:"stacktrace,omitempty" msgpack:"stacktrace,omitempty"`

	// Fingerprint is the ordered grouping key chosen by the caller or
	// synthesized by the builder.
	Fingerprint []string `json:"fingerprint,omitempty" msgpack:"fingerprint,omitempty"`

	// Extra is an arbitrary, size-bounded payload.
	Extra map[string]any `json:"extra,omitempty" msgpack:"extra,omitempty"`

	Tags map[string]string `json:"tags,omitempty" msgpack:"tags,omitempty"`

	// ContextID is the optional cxdb context ID for linking to conversation.
	// Uses pointer to distinguish "not set" from "zero value".
	ContextID *uint64 `json:"context_id,omitempty" msgpack:"context_id,omitempty"`

	// System captures system metrics at capture time.
	System *SystemState `json:"system,omitempty" msgpack:"system,omitempty"`
}

// Hint carries capture context handed to the sink alongside an event.
type Hint struct {
	// OriginalException is the raw value that triggered the capture.
	OriginalException any
}

// PrimaryException returns Exception.Values[0], or nil.
func (e *Event) PrimaryException() *Exception {
	if e == nil || e.Exception == nil || len(e.Exception.Values) == 0 {
		return nil
	}
	return &e.Exception.Values[0]
}

// Frames returns the frames of the primary exception, falling back to the
// event stacktrace. The boolean is false when neither is present.
func (e *Event) Frames() ([]StackFrame, bool) {
	if ex := e.PrimaryException(); ex != nil && ex.Stacktrace != nil {
		return ex.Stacktrace.Frames, true
	}
	if e != nil && e.Stacktrace != nil {
		return e.Stacktrace.Frames, true
	}
	return nil, false
}
