package config

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"skytracker/types"
)

// Validator is implemented by every config group.
type Validator interface {
	Validate() error
}

// Patch applies a set of key/value updates to a copy of cur and validates the
// result. Keys are the group's JSON names. An unknown key, a value of the
// wrong kind, or a patched group that fails validation rejects the whole
// patch with types.ErrConfigRejected; cur is never modified.
func Patch[T Validator](cur T, patch map[string]any) (T, error) {
	next := cur
	rv := reflect.ValueOf(&next).Elem()
	if rv.Kind() != reflect.Struct {
		return cur, fmt.Errorf("%w: %T is not a config group", types.ErrConfigRejected, cur)
	}
	fields := jsonFields(rv.Type())

	// Sorted so the first reported error is stable.
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		idx, ok := fields[key]
		if !ok {
			return cur, fmt.Errorf("%w: unknown key %q", types.ErrConfigRejected, key)
		}
		if err := setField(rv.Field(idx), patch[key]); err != nil {
			return cur, fmt.Errorf("%w: %s: %v", types.ErrConfigRejected, key, err)
		}
	}
	if err := next.Validate(); err != nil {
		return cur, fmt.Errorf("%w: %v", types.ErrConfigRejected, err)
	}
	return next, nil
}

func jsonFields(t reflect.Type) map[string]int {
	out := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		out[name] = i
	}
	return out
}

// setField assigns v to f without lossy coercion: integers accept whole
// numbers only, floats accept any number, bools and strings accept only
// their own kind.
func setField(f reflect.Value, v any) error {
	switch f.Kind() {
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		f.SetBool(b)
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		f.SetString(s)
	case reflect.Int, reflect.Int64:
		n, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("want integer, got %T", v)
		}
		if n != math.Trunc(n) {
			return fmt.Errorf("want integer, got %v", n)
		}
		f.SetInt(int64(n))
	case reflect.Float64:
		n, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("want number, got %T", v)
		}
		f.SetFloat(n)
	default:
		return fmt.Errorf("unsupported field kind %s", f.Kind())
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
