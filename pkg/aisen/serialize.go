// serialize.go bounds arbitrary values for inclusion in event payloads.

package aisen

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultNormalizeDepth is the nesting depth kept in serialized payloads.
	DefaultNormalizeDepth = 3

	// DefaultNormalizeMaxSize is the maximum JSON size of a serialized payload.
	DefaultNormalizeMaxSize = 100 * 1024

	// DefaultKeysMaxLength bounds the key list quoted in event messages.
	DefaultKeysMaxLength = 40
)

// ObjectKeys returns the sorted keys of a map, or the exported field names of
// a struct (honoring json tags). Other values have no keys.
func ObjectKeys(v any) []string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	var keys []string
	switch rv.Kind() {
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
	case reflect.Struct:
		for _, f := range structFields(rv.Type()) {
			keys = append(keys, f.name)
		}
	default:
		return nil
	}
	sort.Strings(keys)
	return keys
}

// KeysForMessage joins as many sorted keys as fit into maxLength.
func KeysForMessage(keys []string, maxLength int) string {
	if len(keys) == 0 {
		return "[object has no keys]"
	}
	if len(keys[0]) >= maxLength {
		return Truncate(keys[0], maxLength)
	}
	for n := len(keys); n > 0; n-- {
		joined := strings.Join(keys[:n], ", ")
		if len(joined) > maxLength {
			continue
		}
		if n == len(keys) {
			return joined
		}
		return Truncate(joined, maxLength)
	}
	return ""
}

// NormalizeToSize converts v into a JSON-compatible tree no deeper than depth,
// lowering the depth until the encoded form fits into maxSize bytes.
func NormalizeToSize(v any, depth, maxSize int) any {
	for {
		out := Normalize(v, depth)
		if depth <= 0 || jsonSize(out) <= maxSize {
			return out
		}
		depth--
	}
}

// Normalize converts v into a JSON-compatible tree. Containers below depth are
// replaced by "[Object]" or "[Array]"; cycles become "[Circular ~]".
func Normalize(v any, depth int) any {
	n := normalizer{seen: make(map[uintptr]bool)}
	return n.value(reflect.ValueOf(v), depth)
}

type normalizer struct {
	seen map[uintptr]bool
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	timeType  = reflect.TypeOf(time.Time{})
)

func (n *normalizer) value(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return n.value(v.Elem(), depth)
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
	}

	if v.Type().Implements(errorType) && v.CanInterface() {
		return v.Interface().(error).Error()
	}
	if v.Type() == timeType {
		return v.Interface().(time.Time).Format(time.RFC3339Nano)
	}

	switch v.Kind() {
	case reflect.Pointer:
		p := v.Pointer()
		if n.seen[p] {
			return "[Circular ~]"
		}
		n.seen[p] = true
		defer delete(n.seen, p)
		return n.value(v.Elem(), depth)
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())
	case reflect.String:
		return v.String()
	case reflect.Func:
		if v.IsNil() {
			return nil
		}
		if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
			return "[Function: " + fn.Name() + "]"
		}
		return "[Function]"
	case reflect.Chan:
		return "[Channel]"
	case reflect.UnsafePointer:
		return "[Pointer]"
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if depth <= 0 {
			return "[Object]"
		}
		p := v.Pointer()
		if n.seen[p] {
			return "[Circular ~]"
		}
		n.seen[p] = true
		defer delete(n.seen, p)
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = n.value(iter.Value(), depth-1)
		}
		return out
	case reflect.Struct:
		if depth <= 0 {
			return "[Object]"
		}
		out := make(map[string]any)
		for _, f := range structFields(v.Type()) {
			out[f.name] = n.value(v.Field(f.index), depth-1)
		}
		return out
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 && v.Kind() == reflect.Slice {
			return string(v.Bytes())
		}
		if depth <= 0 {
			return "[Array]"
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = n.value(v.Index(i), depth-1)
		}
		return out
	}
	return fmt.Sprint(v)
}

type structField struct {
	name  string
	index int
}

func structFields(t reflect.Type) []structField {
	var fields []structField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields = append(fields, structField{name: name, index: i})
	}
	return fields
}

func jsonSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
