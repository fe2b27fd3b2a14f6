package agent

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
)

// Serialization bounds. Results cross a process boundary, so the snapshot
// must never produce an unbounded payload or hang on a reference cycle.
const (
	maxDepth       = 3
	maxMapEntries  = 20
	maxSliceLen    = 100
	slicePreview   = 20
	maxObjectKeys  = 50
	bytePreviewLen = 50
	maxStringLen   = 16 * 1024
	maxKeyLen      = 256
)

// maxPointerHops bounds pure pointer/interface chains, which do not
// consume structural depth but could otherwise cycle forever.
const maxPointerHops = 8

// Snapshot converts an arbitrary value into a JSON-safe, depth-bounded
// representation for transport to the supervisor.
func Snapshot(v any) any {
	return snapshot(reflect.ValueOf(v), 0, 0)
}

func snapshot(rv reflect.Value, depth, hops int) any {
	if !rv.IsValid() {
		return nil
	}

	// Errors become {name, message} before any structural walk.
	if rv.CanInterface() {
		if err, ok := rv.Interface().(error); ok && err != nil {
			return map[string]any{
				"name":    fmt.Sprintf("%T", err),
				"message": err.Error(),
			}
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return snapshotString(rv.String())
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(rv.Complex())
	case reflect.Func:
		return fmt.Sprintf("[func %s]", rv.Type())
	case reflect.Chan:
		return fmt.Sprintf("[chan %s]", rv.Type().Elem())
	case reflect.UnsafePointer:
		return fmt.Sprintf("[unsafe.Pointer 0x%x]", rv.Pointer())
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if hops >= maxPointerHops {
			return "[max depth]"
		}
		return snapshot(rv.Elem(), depth, hops+1)
	}

	if depth >= maxDepth {
		return "[max depth]"
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return snapshotBytes(rv.Bytes())
		}
		n := rv.Len()
		if n > maxSliceLen {
			items := make([]any, slicePreview)
			for i := 0; i < slicePreview; i++ {
				items[i] = snapshot(rv.Index(i), depth+1, hops)
			}
			return map[string]any{"truncated": true, "length": n, "preview": items}
		}
		items := make([]any, n)
		for i := 0; i < n; i++ {
			items[i] = snapshot(rv.Index(i), depth+1, hops)
		}
		return items

	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		truncated := false
		if len(keys) > maxMapEntries {
			keys = keys[:maxMapEntries]
			truncated = true
		}
		entries := make(map[string]any, len(keys))
		for _, k := range keys {
			entries[snapshotKey(k)] = snapshot(rv.MapIndex(k), depth+1, hops)
		}
		if truncated {
			return map[string]any{"truncated": true, "size": rv.Len(), "entries": entries}
		}
		return entries

	case reflect.Struct:
		t := rv.Type()
		fields := make(map[string]any)
		count := 0
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if count >= maxObjectKeys {
				fields["..."] = fmt.Sprintf("[%d more fields]", t.NumField()-i)
				break
			}
			fields[t.Field(i).Name] = snapshot(rv.Field(i), depth+1, hops)
			count++
		}
		return fields
	}

	return fmt.Sprint(rv.Interface())
}

// snapshotString cuts a runaway string down to a preview. The channel
// refuses oversized frames outright, so an unbounded value would cost
// the whole message, not just the tail.
func snapshotString(s string) any {
	if len(s) <= maxStringLen {
		return s
	}
	return map[string]any{"truncated": true, "length": len(s), "preview": s[:maxStringLen]}
}

func snapshotKey(k reflect.Value) string {
	s := fmt.Sprint(k.Interface())
	if len(s) > maxKeyLen {
		s = s[:maxKeyLen]
	}
	return s
}

func snapshotBytes(b []byte) any {
	preview := b
	if len(preview) > bytePreviewLen {
		preview = preview[:bytePreviewLen]
	}
	return map[string]any{
		"length": len(b),
		"hex":    hex.EncodeToString(preview),
	}
}
