package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/resolvemcp/pkg/commandqueue"
	"github.com/harun/resolvemcp/pkg/resolve/resolvetest"
	"github.com/harun/resolvemcp/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, opts Options) (*Dispatcher, *resolvetest.Fake) {
	t.Helper()
	fake := resolvetest.New()
	queue := commandqueue.New()
	t.Cleanup(func() { _ = queue.Close() })
	return New(session.New(fake.Connector(), nil), queue, opts), fake
}

func echoCommand() Command {
	return Command{
		Name:        "echo",
		Description: "Echo params back",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "times", Type: "integer", Description: "Repeat count", Default: 1},
		},
		Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
			return params, nil
		},
	}
}

func TestRegisterValidatesDefinition(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})
	noop := func(ctx context.Context, env *Env, params map[string]any) (any, error) { return nil, nil }

	tests := []struct {
		name string
		cmd  Command
	}{
		{name: "empty name", cmd: Command{Description: "x", Handler: noop}},
		{name: "empty description", cmd: Command{Name: "x", Handler: noop}},
		{name: "nil handler", cmd: Command{Name: "x", Description: "x"}},
		{name: "bad type", cmd: Command{Name: "x", Description: "x", Handler: noop,
			Parameters: []Parameter{{Name: "p", Type: "float", Description: "p"}}}},
		{name: "duplicate parameter", cmd: Command{Name: "x", Description: "x", Handler: noop,
			Parameters: []Parameter{{Name: "p", Type: "string", Description: "p"}, {Name: "p", Type: "string", Description: "p"}}}},
		{name: "items on scalar", cmd: Command{Name: "x", Description: "x", Handler: noop,
			Parameters: []Parameter{{Name: "p", Type: "string", Items: "number", Description: "p"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, d.Register(tt.cmd))
		})
	}

	require.NoError(t, d.Register(echoCommand()))
	assert.Error(t, d.Register(echoCommand()), "duplicate name")
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{})

	for _, name := range []string{"", "render", "GET_PROJECT_INFO", "get_project_info "} {
		res := d.Dispatch(context.Background(), Request{Name: name})
		assert.Equal(t, StatusError, res.Status)
		assert.Equal(t, KindUnknownCommand, res.Kind)
		assert.Equal(t, "Command not implemented: "+name, res.Message)
	}
	assert.Zero(t, fake.ConnectCount(), "unknown commands never touch the session")
}

func TestDispatchSuccess(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{})
	fake.OpenProject("Feature")
	require.NoError(t, d.Register(echoCommand()))

	res := d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{
		"text":  "hi",
		"times": nil,
		"extra": "ignored",
	}})
	require.Equal(t, StatusSuccess, res.Status, res.Message)
	assert.Equal(t, map[string]any{"text": "hi", "extra": "ignored"}, res.Result, "nil params dropped")
}

func TestDispatchInvalidParams(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{})
	fake.OpenProject("Feature")
	require.NoError(t, d.Register(echoCommand()))

	res := d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"times": 2}})
	assert.Equal(t, KindInvalidParams, res.Kind)

	res = d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "x", "times": 1.5}})
	assert.Equal(t, KindInvalidParams, res.Kind)

	res = d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "x", "times": 2.0}})
	assert.Equal(t, StatusSuccess, res.Status, "whole floats are integers")
}

func TestDispatchNotConnected(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{})
	fake.SetDown(true)
	require.NoError(t, d.Register(echoCommand()))

	res := d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "x"}})
	assert.Equal(t, KindNotConnected, res.Kind)
	assert.Equal(t, 1, fake.ConnectCount())
}

func TestDispatchNoProjectOpen(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})
	require.NoError(t, d.Register(echoCommand()))

	optional := echoCommand()
	optional.Name = "script"
	optional.ProjectOptional = true
	optional.Handler = func(ctx context.Context, env *Env, params map[string]any) (any, error) {
		return env.Project == nil, nil
	}
	require.NoError(t, d.Register(optional))

	res := d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "x"}})
	assert.Equal(t, KindNoProjectOpen, res.Kind)

	res = d.Dispatch(context.Background(), Request{Name: "script", Params: map[string]any{"text": "x"}})
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, true, res.Result)
}

func TestDispatchSeesProjectSwitch(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{})
	fake.OpenProject("Feature")
	require.NoError(t, d.Register(Command{
		Name:        "name",
		Description: "Project name",
		Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
			return env.Project.Name(ctx)
		},
	}))

	assert.Equal(t, "Feature", d.Dispatch(context.Background(), Request{Name: "name"}).Result)
	fake.OpenProject("Trailer")
	assert.Equal(t, "Trailer", d.Dispatch(context.Background(), Request{Name: "name"}).Result)
}

func TestDispatchVerifyReconnects(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{Verify: true})
	fake.OpenProject("Feature")
	require.NoError(t, d.Register(echoCommand()))

	res := d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "x"}})
	require.Equal(t, StatusSuccess, res.Status)

	fake.Fail("Resolve.GetVersionString", errors.New("stale"))
	res = d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "x"}})
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, fake.ConnectCount())

	fake.SetDown(true)
	res = d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "x"}})
	assert.Equal(t, KindNotConnected, res.Kind)
}

func TestDispatchClassifiesHandlerErrors(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{})
	fake.OpenProject("Feature")

	cases := map[string]struct {
		err    error
		status Status
		kind   Kind
	}{
		"not_found":  {NotFound("Timeline not found: %s", "Z"), StatusError, KindNotFound},
		"exists":     {AlreadyExists("dup"), StatusError, KindAlreadyExists},
		"script":     {ScriptError(errors.New("boom"), "Script execution error: boom"), StatusError, KindScriptError},
		"raw":        {errors.New("object has no attribute"), StatusError, KindUnknown},
		"wrapped":    {errors.Join(session.ErrNotConnected, errors.New("x")), StatusError, KindNotConnected},
		"stub":       {NotImplemented("stub", map[string]any{"track_number": 1}), StatusNotImplemented, KindNotImplemented},
		"rate":       {RateLimited("slow down"), StatusError, KindRateLimited},
		"permission": {PermissionDenied("disabled"), StatusError, KindPermissionDenied},
	}
	for name, tc := range cases {
		err := tc.err
		require.NoError(t, d.Register(Command{
			Name:        name,
			Description: name,
			Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
				return nil, err
			},
		}))
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), Request{Name: name})
			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.kind, res.Kind)
			assert.NotEmpty(t, res.Message)
		})
	}

	stub := d.Dispatch(context.Background(), Request{Name: "stub"})
	assert.True(t, stub.OK())
	assert.Equal(t, "Method not yet implemented", stub.Message)
	assert.Equal(t, map[string]any{"track_number": 1}, stub.Result)
}

func TestDispatchRecoversPanic(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{})
	fake.OpenProject("Feature")
	require.NoError(t, d.Register(Command{
		Name:        "explode",
		Description: "Panics",
		Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		},
	}))

	res := d.Dispatch(context.Background(), Request{Name: "explode"})
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, KindUnknown, res.Kind)
	assert.Contains(t, res.Message, "explode")
}

func TestDispatchTimeout(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{Timeout: 5 * time.Second})
	fake.OpenProject("Feature")

	var active, maxActive atomic.Int32
	enter := func() {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				return
			}
		}
	}
	var stubbornDone atomic.Bool

	require.NoError(t, d.Register(Command{
		Name:        "stubborn",
		Description: "Ignores cancellation",
		Timeout:     30 * time.Millisecond,
		Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
			enter()
			defer active.Add(-1)
			time.Sleep(200 * time.Millisecond)
			_, err := env.Project.TimelineCount(context.Background())
			stubbornDone.Store(true)
			return nil, err
		},
	}))
	require.NoError(t, d.Register(Command{
		Name:        "follower",
		Description: "Reports whether the previous handler finished",
		Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
			enter()
			defer active.Add(-1)
			return stubbornDone.Load(), nil
		},
	}))

	start := time.Now()
	res := d.Dispatch(context.Background(), Request{Name: "stubborn"})
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "the caller is not held by the handler")

	res = d.Dispatch(context.Background(), Request{Name: "follower"})
	require.True(t, res.OK(), res.JSON())
	assert.Equal(t, true, res.Result, "the next command waits for the timed-out handler")
	assert.Equal(t, int32(1), maxActive.Load())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDispatchWarnsWhileQueued(t *testing.T) {
	var out syncBuffer
	logger := zerolog.New(&out)
	d, fake := newTestDispatcher(t, Options{QueueWarnAfter: 10 * time.Millisecond, Logger: &logger})
	fake.OpenProject("Feature")

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Register(Command{
		Name:        "block",
		Description: "Holds the lane",
		Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
	}))
	require.NoError(t, d.Register(echoCommand()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Dispatch(context.Background(), Request{Name: "block"})
	}()
	<-started
	go func() {
		defer wg.Done()
		res := d.Dispatch(context.Background(), Request{Name: "echo", Params: map[string]any{"text": "late"}})
		assert.True(t, res.OK(), res.JSON())
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Command still waiting for the resolve lane")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), `"command":"echo"`)

	close(release)
	wg.Wait()
}

func TestCommandTimeoutOverride(t *testing.T) {
	d, fake := newTestDispatcher(t, Options{Timeout: time.Minute})
	fake.OpenProject("Feature")
	require.NoError(t, d.Register(Command{
		Name:        "slow",
		Description: "Waits for cancellation",
		Timeout:     20 * time.Millisecond,
		Handler: func(ctx context.Context, env *Env, params map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	res := d.Dispatch(context.Background(), Request{Name: "slow"})
	assert.Equal(t, KindTimeout, res.Kind)
}

func TestCommandsSorted(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})
	for _, name := range []string{"zeta", "alpha", "mid"} {
		cmd := echoCommand()
		cmd.Name = name
		require.NoError(t, d.Register(cmd))
	}

	var names []string
	for _, c := range d.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	cmd, ok := d.Command("mid")
	require.True(t, ok)
	schema := cmd.InputSchema()
	assert.Equal(t, []string{"text"}, schema["required"])
	assert.NotContains(t, schema, "additionalProperties")
}

func TestResultJSON(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(Failure(KindNotFound, "Timeline not found: Z").JSON()), &decoded))
	assert.Equal(t, map[string]any{"status": "error", "kind": "not_found", "message": "Timeline not found: Z"}, decoded)

	bad := Success(map[string]any{"ch": make(chan int)})
	require.NoError(t, json.Unmarshal([]byte(bad.JSON()), &decoded))
	assert.Equal(t, "error", decoded["status"])
}

func TestErrorIsByKind(t *testing.T) {
	err := errors.Join(errors.New("context"), NotFound("Timeline not found: X"))
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound})
	assert.NotErrorIs(t, err, &Error{Kind: KindAlreadyExists})
}
