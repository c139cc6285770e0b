package resolve

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// Object is a handle to a scripting object owned by the application.
type Object interface {
	Call(ctx context.Context, method string, args ...any) (any, error)
}

// Connector acquires the application singleton.
type Connector interface {
	Connect(ctx context.Context) (Object, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Object, error)

// Connect calls f(ctx).
func (f ConnectorFunc) Connect(ctx context.Context) (Object, error) {
	return f(ctx)
}

// AsObject converts a call result into an Object. A nil result is (nil, nil).
func AsObject(v any) (Object, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}

// AsString converts a call result into a string.
func AsString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", fmt.Errorf("expected string, got nil")
	case fmt.Stringer:
		return s.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// AsInt converts a call result into an int. Numeric strings are accepted
// because project settings are always reported as strings.
func AsInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case float32:
		return AsInt(float64(n))
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			f, ferr := strconv.ParseFloat(n, 64)
			if ferr != nil {
				return 0, fmt.Errorf("expected integer, got %q", n)
			}
			return AsInt(f)
		}
		return i, nil
	case nil:
		return 0, fmt.Errorf("expected integer, got nil")
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// AsFloat converts a call result into a float64.
func AsFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("expected number, got nil")
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// AsBool converts a call result into a bool. Nil is false.
func AsBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

// AsList converts a call result into a list. The scripting API reports lists
// either as arrays or as maps keyed by 1-based index; both are accepted and
// returned in index order.
func AsList(v any) ([]any, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return l, nil
	case map[string]any:
		out := make([]any, 0, len(l))
		for i := 1; i <= len(l); i++ {
			item, ok := l[strconv.Itoa(i)]
			if !ok {
				return nil, fmt.Errorf("list index %d missing", i)
			}
			out = append(out, item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
}

func callObject(ctx context.Context, obj Object, method string, args ...any) (Object, error) {
	v, err := obj.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	o, err := AsObject(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return o, nil
}

func callString(ctx context.Context, obj Object, method string, args ...any) (string, error) {
	v, err := obj.Call(ctx, method, args...)
	if err != nil {
		return "", err
	}
	s, err := AsString(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	return s, nil
}

func callInt(ctx context.Context, obj Object, method string, args ...any) (int, error) {
	v, err := obj.Call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	n, err := AsInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	return n, nil
}

func callBool(ctx context.Context, obj Object, method string, args ...any) (bool, error) {
	v, err := obj.Call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	b, err := AsBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", method, err)
	}
	return b, nil
}

func callList(ctx context.Context, obj Object, method string, args ...any) ([]any, error) {
	v, err := obj.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	l, err := AsList(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return l, nil
}
