package fields

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clip struct {
	width, height int
	broken        map[string]bool
}

func (c *clip) get(name string, v any) (any, error) {
	if c.broken[name] {
		return nil, fmt.Errorf("%s: object has been deleted", name)
	}
	return v, nil
}

func clipQuery() *Query[clip] {
	return NewQuery[clip]("clip").
		Field("width", func(ctx context.Context, c *clip, _ Values) (any, error) { return c.get("width", c.width) }).
		Field("height", func(ctx context.Context, c *clip, _ Values) (any, error) { return c.get("height", c.height) }).
		Field("codec", func(ctx context.Context, c *clip, _ Values) (any, error) { return c.get("codec", "ProRes") }).
		Composite("resolution", []string{"width", "height"}, func(v Values) any {
			return fmt.Sprintf("%dx%d", v["width"], v["height"])
		})
}

func TestRunAllFieldsSucceed(t *testing.T) {
	res := clipQuery().Run(context.Background(), &clip{width: 1920, height: 1080})

	assert.False(t, res.Failed())
	assert.Equal(t, Values{
		"width":      1920,
		"height":     1080,
		"codec":      "ProRes",
		"resolution": "1920x1080",
	}, res.Values)
}

func TestRunIsolatesFailures(t *testing.T) {
	leaves := []string{"width", "height", "codec"}

	for mask := 0; mask < 1<<len(leaves); mask++ {
		broken := map[string]bool{}
		for i, name := range leaves {
			if mask&(1<<i) != 0 {
				broken[name] = true
			}
		}
		t.Run(fmt.Sprintf("broken=%v", broken), func(t *testing.T) {
			res := clipQuery().Run(context.Background(), &clip{width: 1280, height: 720, broken: broken})

			for _, name := range leaves {
				value, present := res.Values[name]
				require.True(t, present, "every leaf has an entry")
				assert.Equal(t, broken[name], value == nil, name)
			}
			assert.Len(t, res.Diagnostics, len(broken))

			_, hasResolution := res.Values["resolution"]
			assert.Equal(t, !broken["width"] && !broken["height"], hasResolution,
				"composite present only when both inputs succeeded")
		})
	}
}

func TestRunNilSubject(t *testing.T) {
	res := clipQuery().Run(context.Background(), nil)

	assert.Len(t, res.Values, 3)
	for _, d := range res.Diagnostics {
		assert.ErrorIs(t, d.Err(), ErrNoSubject)
	}
	assert.NotContains(t, res.Values, "resolution")
}

func TestRunRecoversPanics(t *testing.T) {
	q := NewQuery[clip]("clip").
		Field("boom", func(ctx context.Context, c *clip, _ Values) (any, error) { panic("nil handle") }).
		Field("after", func(ctx context.Context, c *clip, _ Values) (any, error) { return "ok", nil })

	res := q.Run(context.Background(), &clip{})
	assert.Nil(t, res.Values["boom"])
	assert.Equal(t, "ok", res.Values["after"])
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0].Error, "panicked")
}

func TestRunTreatsNilAsFailure(t *testing.T) {
	var none *clip
	q := NewQuery[clip]("clip").
		Field("untyped", func(ctx context.Context, c *clip, _ Values) (any, error) { return nil, nil }).
		Field("typed", func(ctx context.Context, c *clip, _ Values) (any, error) { return none, nil }).
		Field("empty", func(ctx context.Context, c *clip, _ Values) (any, error) { return []string{}, nil })

	res := q.Run(context.Background(), &clip{})
	assert.Nil(t, res.Values["untyped"])
	assert.Nil(t, res.Values["typed"])
	assert.Equal(t, []string{}, res.Values["empty"], "empty is a value")
	require.Len(t, res.Diagnostics, 2)
	assert.True(t, errors.Is(res.Diagnostics[0].Err(), ErrNoValue))
}

func TestLaterFieldsSeeEarlierOnes(t *testing.T) {
	q := NewQuery[clip]("clip").
		Field("count", func(ctx context.Context, c *clip, _ Values) (any, error) { return 3, nil }).
		Field("names", func(ctx context.Context, c *clip, got Values) (any, error) {
			if !got.Has("count") {
				return nil, errors.New("count unavailable")
			}
			names := make([]string, got["count"].(int))
			for i := range names {
				names[i] = fmt.Sprintf("clip %d", i+1)
			}
			return names, nil
		})

	res := q.Run(context.Background(), &clip{})
	assert.Equal(t, []string{"clip 1", "clip 2", "clip 3"}, res.Values["names"])
	assert.Equal(t, []string{"count", "names"}, q.Names())
}
