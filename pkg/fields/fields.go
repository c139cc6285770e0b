// Package fields fetches independent fields from an application object so
// that one failing accessor cannot abort the others.
//
// Leaf fields run in declaration order. A leaf whose accessor errors, panics
// or returns nothing is reported as null with a diagnostic. Composite fields
// are derived from leaves after all of them ran and are omitted, never null,
// when any input is null.
//
//	q := fields.NewQuery[resolve.Project]("project").
//		Field("width", width).
//		Field("height", height).
//		Composite("resolution", []string{"width", "height"}, func(v fields.Values) any {
//			return map[string]any{"width": v["width"], "height": v["height"]}
//		})
//	res := q.Run(ctx, project)
package fields

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoValue marks an accessor that succeeded but returned nothing.
var ErrNoValue = errors.New("accessor returned no value")

// ErrNoSubject is recorded for every leaf when the subject is nil.
var ErrNoSubject = errors.New("object unavailable")

// Values maps field names to fetched values. A nil value is a failed field.
type Values map[string]any

// Has reports whether name was fetched successfully.
func (v Values) Has(name string) bool {
	value, ok := v[name]
	return ok && value != nil
}

// Accessor fetches one field. got holds the fields fetched so far, so an
// accessor may build on an earlier one.
type Accessor[T any] func(ctx context.Context, subject *T, got Values) (any, error)

// Diagnostic records why a field is null.
type Diagnostic struct {
	Field string `json:"field"`
	Error string `json:"error"`
	err   error
}

// Err returns the accessor error.
func (d Diagnostic) Err() error { return d.err }

type leaf[T any] struct {
	name string
	get  Accessor[T]
}

type composite struct {
	name   string
	inputs []string
	build  func(Values) any
}

// Query is an ordered set of fields over a subject of type T. A Query is
// immutable once built and may be run concurrently.
type Query[T any] struct {
	name       string
	leaves     []leaf[T]
	composites []composite
}

// NewQuery starts an empty query. name labels logs and metrics.
func NewQuery[T any](name string) *Query[T] {
	return &Query[T]{name: name}
}

// Field appends a leaf field.
func (q *Query[T]) Field(name string, get Accessor[T]) *Query[T] {
	q.leaves = append(q.leaves, leaf[T]{name: name, get: get})
	return q
}

// Composite appends a field built from inputs once every leaf ran.
func (q *Query[T]) Composite(name string, inputs []string, build func(Values) any) *Query[T] {
	q.composites = append(q.composites, composite{name: name, inputs: inputs, build: build})
	return q
}

// Names returns the leaf names in declaration order.
func (q *Query[T]) Names() []string {
	names := make([]string, len(q.leaves))
	for i, l := range q.leaves {
		names[i] = l.name
	}
	return names
}

// Result of running a query.
type Result struct {
	Values      Values
	Diagnostics []Diagnostic
}

// Failed reports whether any leaf is null.
func (r Result) Failed() bool { return len(r.Diagnostics) > 0 }

// Run evaluates the query. It never fails as a whole.
func (q *Query[T]) Run(ctx context.Context, subject *T) Result {
	ctx, span := tracing.StartSpan(ctx, "fields.run", attribute.String("query", q.name))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	res := Result{Values: make(Values, len(q.leaves)+len(q.composites))}

	for _, l := range q.leaves {
		var (
			value any
			err   error
		)
		if subject == nil {
			err = ErrNoSubject
		} else {
			value, err = q.call(ctx, l, subject, res.Values)
		}

		if err == nil && isNil(value) {
			err = ErrNoValue
		}
		if err != nil {
			res.Values[l.name] = nil
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Field: l.name, Error: err.Error(), err: err})
			observability.RecordFieldFailure(q.name, l.name)
			logger.Warn().Str("query", q.name).Str("field", l.name).Err(err).Msg("Field unavailable")
			continue
		}
		res.Values[l.name] = value
	}

	for _, c := range q.composites {
		complete := true
		for _, in := range c.inputs {
			if !res.Values.Has(in) {
				complete = false
				break
			}
		}
		if complete {
			res.Values[c.name] = c.build(res.Values)
		}
	}

	span.SetAttributes(attribute.Int("failed_fields", len(res.Diagnostics)))
	return res
}

func (q *Query[T]) call(ctx context.Context, l leaf[T], subject *T, got Values) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("accessor panicked: %v", r)
		}
	}()
	return l.get(ctx, subject, got)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
