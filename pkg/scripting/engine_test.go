package scripting

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/resolve"
	"github.com/harun/resolvemcp/pkg/resolve/resolvetest"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Enabled = true
	if cfg.Audit == nil {
		cfg.Audit = observability.NewAuditLogger(&buf, nil)
	}
	return NewEngine(cfg), &buf
}

func fakeScope(t *testing.T, fake *resolvetest.Fake) Scope {
	t.Helper()
	ctx := context.Background()
	app, err := fake.Connector().Connect(ctx)
	require.NoError(t, err)
	pm, err := app.Call(ctx, "GetProjectManager")
	require.NoError(t, err)
	project, err := pm.(resolve.Object).Call(ctx, "GetCurrentProject")
	require.NoError(t, err)

	scope := Scope{Resolve: app, ProjectManager: pm.(resolve.Object)}
	if project != nil {
		scope.Project = project.(resolve.Object)
	}
	return scope
}

func kindOf(t *testing.T, err error) dispatch.Kind {
	t.Helper()
	var de *dispatch.Error
	require.True(t, errors.As(err, &de), "expected *dispatch.Error, got %T", err)
	return de.Kind
}

func TestExecuteReturnsResult(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	v, err := e.Execute(context.Background(), "result = 1+1", Scope{})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = e.Execute(context.Background(), "result = 1/2", Scope{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestExecuteDefaultResult(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	v, err := e.Execute(context.Background(), "local x = 3", Scope{})
	require.NoError(t, err)
	assert.Equal(t, DefaultResult, v)
}

func TestExecuteTables(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	v, err := e.Execute(context.Background(), `result = {"a", "b", "c"}`, Scope{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, v)

	v, err = e.Execute(context.Background(), `result = {name = "cut", frames = 24, ok = true}`, Scope{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "cut", "frames": 24, "ok": true}, v)
}

func TestExecuteLuaErrorIsScriptError(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	_, err := e.Execute(context.Background(), `error("boom")`, Scope{})
	require.Error(t, err)
	assert.Equal(t, dispatch.KindScriptError, kindOf(t, err))
	assert.True(t, strings.HasPrefix(err.Error(), "Script execution error: "))
	assert.Contains(t, err.Error(), "boom")
}

func TestExecuteSyntaxErrorIsScriptError(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	_, err := e.Execute(context.Background(), `result = = 1`, Scope{})
	require.Error(t, err)
	assert.Equal(t, dispatch.KindScriptError, kindOf(t, err))
}

func TestExecuteDisabled(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(Config{Audit: observability.NewAuditLogger(&buf, nil)})

	_, err := e.Execute(context.Background(), "result = 1", Scope{})
	require.Error(t, err)
	assert.Equal(t, dispatch.KindPermissionDenied, kindOf(t, err))
	assert.Contains(t, buf.String(), `"status":"denied"`)

	e.Update(Config{Enabled: true})
	v, err := e.Execute(context.Background(), "result = 1", Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestExecuteRateLimited(t *testing.T) {
	e, _ := newTestEngine(t, Config{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		_, err := e.Execute(context.Background(), "result = 1", Scope{})
		require.NoError(t, err)
	}
	_, err := e.Execute(context.Background(), "result = 1", Scope{})
	require.Error(t, err)
	assert.Equal(t, dispatch.KindRateLimited, kindOf(t, err))
}

func TestExecuteRejectsOversizedCode(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	_, err := e.Execute(context.Background(), strings.Repeat("-", MaxCodeBytes+1), Scope{})
	require.Error(t, err)
	assert.Equal(t, dispatch.KindInvalidParams, kindOf(t, err))
}

func TestSandboxHidesUnsafeGlobals(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	v, err := e.Execute(context.Background(), `
		result = os == nil and io == nil and package == nil and debug == nil
			and dofile == nil and loadfile == nil and load == nil and require == nil`, Scope{})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = e.Execute(context.Background(), `result = string.upper("ok") .. tostring(math.floor(2.5)) .. table.concat({"a","b"})`, Scope{})
	require.NoError(t, err)
	assert.Equal(t, "OK2ab", v)
}

func TestScriptCallsApplication(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	e, _ := newTestEngine(t, Config{})
	scope := fakeScope(t, fake)

	v, err := e.Execute(context.Background(), `result = resolve:GetVersionString()`, scope)
	require.NoError(t, err)
	assert.Equal(t, "19.0.3", v)

	v, err = e.Execute(context.Background(), `result = project_manager:GetCurrentProject():GetName()`, scope)
	require.NoError(t, err)
	assert.Equal(t, "Feature", v)

	v, err = e.Execute(context.Background(), `result = project.GetName()`, scope)
	require.NoError(t, err)
	assert.Equal(t, "Feature", v)
}

func TestScriptObjectResultIsHandle(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	e, _ := newTestEngine(t, Config{})

	v, err := e.Execute(context.Background(), `result = project`, fakeScope(t, fake))
	require.NoError(t, err)
	_, ok := v.(resolve.Object)
	assert.True(t, ok)
}

func TestScriptWithoutProject(t *testing.T) {
	fake := resolvetest.New()
	e, _ := newTestEngine(t, Config{})

	v, err := e.Execute(context.Background(), `result = project == nil`, fakeScope(t, fake))
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestScriptApplicationFailure(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	e, _ := newTestEngine(t, Config{})
	scope := fakeScope(t, fake)
	fake.Fail("Resolve.GetVersionString", errors.New("bridge gone"))

	_, err := e.Execute(context.Background(), `result = resolve:GetVersionString()`, scope)
	require.Error(t, err)
	assert.Equal(t, dispatch.KindScriptError, kindOf(t, err))
	assert.Contains(t, err.Error(), "bridge gone")

	v, err := e.Execute(context.Background(), `
		local ok = pcall(function() return resolve:GetVersionString() end)
		result = ok`, scope)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestRunCapturesPrint(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	run, err := e.Run(context.Background(), `print("hello", 42, nil) result = "done"`, Scope{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello\t42\tnil"}, run.Output)
	assert.Equal(t, "done", run.Value)
	assert.NotEmpty(t, run.ID)
}

type blockingObject struct{ release chan struct{} }

func (b *blockingObject) Call(ctx context.Context, method string, args ...any) (any, error) {
	<-b.release
	return nil, errors.New("released")
}

func TestExecuteTimeout(t *testing.T) {
	e, _ := newTestEngine(t, Config{Timeout: 50 * time.Millisecond})
	obj := &blockingObject{release: make(chan struct{})}

	start := time.Now()
	_, err := e.Execute(context.Background(), `resolve:Wait()`, Scope{Resolve: obj})
	require.Error(t, err)
	assert.Equal(t, dispatch.KindTimeout, kindOf(t, err))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, concurrent := e.limiter.Stats()
	assert.Equal(t, 1, concurrent, "slot stays taken while the application call is pending")

	close(obj.release)
	require.Eventually(t, func() bool {
		_, concurrent := e.limiter.Stats()
		return concurrent == 0
	}, time.Second, 5*time.Millisecond)
}

func TestExecuteInterruptsBusyLoop(t *testing.T) {
	e, _ := newTestEngine(t, Config{Timeout: 50 * time.Millisecond, MaxConcurrent: 1})
	before := runtime.NumGoroutine()

	scripts := []string{
		`while true do end`,
		`while true do pcall(function() while true do end end) end`,
		`while true do xpcall(function() while true do end end, function(m) return m end) end`,
	}
	for _, code := range scripts {
		_, err := e.Execute(context.Background(), code, Scope{})
		require.Error(t, err, code)
		assert.Equal(t, dispatch.KindTimeout, kindOf(t, err), code)

		require.Eventually(t, func() bool {
			_, concurrent := e.limiter.Stats()
			return concurrent == 0
		}, time.Second, 5*time.Millisecond, "VM still running: %s", code)
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, time.Second, 10*time.Millisecond)

	v, err := e.Execute(context.Background(), `result = 1+1`, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestExecuteProtectedCallsStillCatchErrors(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	v, err := e.Execute(context.Background(), `
		local ok, msg = pcall(error, "boom")
		local xok = xpcall(function() error("x") end, function(m) return m end)
		result = {ok = ok, msg = msg, xok = xok, n = select("#", pcall(function() return 1, 2, 3 end))}`, Scope{})
	require.NoError(t, err)
	got := v.(map[string]any)
	assert.Equal(t, false, got["ok"])
	assert.Contains(t, got["msg"], "boom")
	assert.Equal(t, false, got["xok"])
	assert.Equal(t, 4, got["n"], "results pass through the wrapper")
}

func TestExecuteAuditsActor(t *testing.T) {
	e, buf := newTestEngine(t, Config{})

	_, err := e.Execute(tracing.WithActor(context.Background(), "cli"), "result = 1", Scope{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"actor":"cli"`)

	buf.Reset()
	_, err = e.Execute(context.Background(), "result = 1", Scope{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"actor":"unknown"`)
}

func TestExecuteAudited(t *testing.T) {
	e, buf := newTestEngine(t, Config{})

	_, err := e.Execute(context.Background(), "result = 1", Scope{})
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), `error("x")`, Scope{})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"code_sha256":"`)
	assert.Contains(t, out, `"status":"success"`)
	assert.Contains(t, out, `"status":"failure"`)
	assert.Contains(t, out, `"action":"execute:execute_script"`)
}
