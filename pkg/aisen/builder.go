// builder.go builds canonical events from raw throwables and stack data.

package aisen

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/stacktrace"
)

// DefaultMaxValueLength bounds exception values synthesized from fallbacks.
const DefaultMaxValueLength = 250

const unrecoverableValue = "Unrecoverable error caught"

// ExceptionFromStackTrace converts a computed trace into an Exception.
func ExceptionFromStackTrace(trace stacktrace.Trace) Exception {
	ex := Exception{
		Type:  trace.Name,
		Value: trace.Message,
	}
	if frames := NormalizeFrames(trace.Frames); len(frames) > 0 {
		ex.Stacktrace = &Stacktrace{Frames: frames}
	}
	if ex.Type == "" && ex.Value == "" {
		ex.Value = unrecoverableValue
	}
	return ex
}

// EventFromStackTrace builds an event whose primary exception is derived
// from trace.
func EventFromStackTrace(trace stacktrace.Trace) *Event {
	return &Event{
		Exception: &ExceptionList{
			Values: []Exception{ExceptionFromStackTrace(trace)},
		},
	}
}

// EventFromPlainObject builds an event for a thrown value without error
// semantics. Plain objects with the same set of keys share a fingerprint.
func EventFromPlainObject(obj any, synthetic *stacktrace.Trace) *Event {
	keys := ObjectKeys(obj)
	event := &Event{
		Message:     "Non-Error exception captured with keys: " + KeysForMessage(keys, DefaultKeysMaxLength),
		Fingerprint: []string{hashKeys(keys)},
		Extra: map[string]any{
			"__serialized__": NormalizeToSize(obj, DefaultNormalizeDepth, DefaultNormalizeMaxSize),
		},
	}
	if synthetic != nil {
		event.Stacktrace = &Stacktrace{Frames: NormalizeFrames(synthetic.Frames)}
	}
	return event
}

// EventFromString builds a message event.
func EventFromString(msg string, synthetic *stacktrace.Trace) *Event {
	event := &Event{Message: msg}
	if synthetic != nil {
		if frames := NormalizeFrames(synthetic.Frames); len(frames) > 0 {
			event.Stacktrace = &Stacktrace{Frames: frames}
		}
	}
	return event
}

// EventFromUnknownInput dispatches on the shape of v: errors use their
// stack, maps and structs take the plain-object path, everything else is
// reported as a message with a synthesized exception.
func EventFromUnknownInput(v any, synthetic *stacktrace.Trace) *Event {
	if err, ok := v.(error); ok && err != nil {
		return EventFromStackTrace(stacktrace.Compute(err))
	}
	if IsPlainObject(v) {
		return EventFromPlainObject(v, synthetic)
	}
	msg := fmt.Sprint(v)
	event := EventFromString(msg, synthetic)
	EnsureExceptionTypeValue(event, msg, "")
	return event
}

// EnsureExceptionTypeValue fills the primary exception's type and value where
// they are empty. Existing values are never overwritten. An empty typ
// defaults to "Error".
func EnsureExceptionTypeValue(event *Event, value, typ string) {
	if event.Exception == nil {
		event.Exception = &ExceptionList{}
	}
	if len(event.Exception.Values) == 0 {
		event.Exception.Values = append(event.Exception.Values, Exception{})
	}
	ex := &event.Exception.Values[0]
	if ex.Value == "" {
		ex.Value = value
	}
	if ex.Type == "" {
		if typ == "" {
			typ = "Error"
		}
		ex.Type = typ
	}
}

// AddExceptionMechanism merges mech into the primary exception's mechanism.
// Events without an exception are left alone.
func AddExceptionMechanism(event *Event, mech Mechanism) {
	ex := event.PrimaryException()
	if ex == nil {
		return
	}
	if ex.Mechanism == nil {
		ex.Mechanism = &Mechanism{}
	}
	if mech.Type != "" {
		ex.Mechanism.Type = mech.Type
	}
	ex.Mechanism.Handled = mech.Handled
	if len(mech.Data) > 0 {
		if ex.Mechanism.Data == nil {
			ex.Mechanism.Data = make(map[string]string, len(mech.Data))
		}
		for k, v := range mech.Data {
			ex.Mechanism.Data[k] = v
		}
	}
}

// IsPrimitive reports whether v is nil, a boolean, a number or a string.
func IsPrimitive(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

// IsPlainObject reports whether v is a map or struct (or a pointer to one)
// that is not an error.
func IsPlainObject(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(error); ok {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
}

// Truncate shortens s to max runes, appending "..." when cut. max <= 0
// disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func hashKeys(keys []string) string {
	sum := md5.Sum([]byte(strings.Join(keys, "")))
	return hex.EncodeToString(sum[:])
}
