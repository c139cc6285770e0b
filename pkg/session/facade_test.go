package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harun/resolvemcp/pkg/commandqueue"
	"github.com/harun/resolvemcp/pkg/resolve/resolvetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectCachesHandles(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	f := New(fake.Connector(), nil)
	ctx := context.Background()

	assert.Equal(t, Disconnected, f.State())
	require.True(t, f.Connect(ctx))
	assert.Equal(t, Connected, f.State())

	s, err := f.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.Project)
	name, err := s.Project.Name(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Feature", name)
	assert.Equal(t, 1, fake.ConnectCount(), "Current reuses the cache")
}

func TestConnectWithoutProjectSucceeds(t *testing.T) {
	fake := resolvetest.New()
	f := New(fake.Connector(), nil)

	require.True(t, f.Connect(context.Background()))
	s, err := f.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s.Project)
	assert.NotNil(t, s.ProjectManager)
}

func TestConnectFailureKeepsPriorState(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	f := New(fake.Connector(), nil)
	ctx := context.Background()
	require.True(t, f.Connect(ctx))

	fake.Fail("scriptapp", errors.New("bridge refused"))
	assert.False(t, f.Connect(ctx))
	assert.Equal(t, Connected, f.State())

	s, err := f.Current(ctx)
	require.NoError(t, err)
	assert.NotNil(t, s.App)
}

func TestCurrentConnectsExactlyOnce(t *testing.T) {
	fake := resolvetest.New()
	fake.SetDown(true)
	f := New(fake.Connector(), nil)

	_, err := f.Current(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, fake.ConnectCount())
	assert.Equal(t, Disconnected, f.State())

	fake.SetDown(false)
	_, err = f.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fake.ConnectCount())
}

func TestAccessorFailureDoesNotDemote(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	f := New(fake.Connector(), nil)
	ctx := context.Background()
	require.True(t, f.Connect(ctx))

	fake.Fail("ProjectManager.GetCurrentProject", errors.New("busy"))
	_, err := f.RefreshProject(ctx)
	require.Error(t, err)
	assert.Equal(t, Connected, f.State())
}

func TestRefreshProjectSeesOperatorSwitch(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	f := New(fake.Connector(), nil)
	ctx := context.Background()
	require.True(t, f.Connect(ctx))

	fake.OpenProject("Trailer")
	project, err := f.RefreshProject(ctx)
	require.NoError(t, err)
	name, err := project.Name(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Trailer", name)

	s, err := f.Current(ctx)
	require.NoError(t, err)
	cached, err := s.Project.Name(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Trailer", cached)

	fake.CloseProject()
	project, err = f.RefreshProject(ctx)
	require.NoError(t, err)
	assert.Nil(t, project)
}

func TestRefreshProjectWithoutSession(t *testing.T) {
	f := New(resolvetest.New().Connector(), nil)
	_, err := f.RefreshProject(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestVerify(t *testing.T) {
	fake := resolvetest.New()
	fake.OpenProject("Feature")
	f := New(fake.Connector(), nil)
	ctx := context.Background()
	require.True(t, f.Connect(ctx))

	assert.Equal(t, OutcomeAlive, f.Probe(ctx))
	assert.Equal(t, 1, fake.ConnectCount())

	// one dead call, application still reachable: reconnect recovers
	fake.Fail("Resolve.GetVersionString", errors.New("stale handle"))
	assert.Equal(t, OutcomeRecovered, f.Probe(ctx))
	assert.Equal(t, 2, fake.ConnectCount())
	assert.Equal(t, Connected, f.State())
	fake.Heal("Resolve.GetVersionString")

	fake.SetDown(true)
	err := f.Verify(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Disconnected, f.State())

	fake.SetDown(false)
	require.NoError(t, f.Verify(ctx))
	assert.Equal(t, Connected, f.State())
}

func TestReconnectFailureClearsCache(t *testing.T) {
	fake := resolvetest.New()
	f := New(fake.Connector(), nil)
	ctx := context.Background()
	require.True(t, f.Connect(ctx))

	fake.SetDown(true)
	assert.False(t, f.Reconnect(ctx))
	assert.Equal(t, Disconnected, f.State())
	_, err := f.RefreshProject(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnect(t *testing.T) {
	fake := resolvetest.New()
	f := New(fake.Connector(), nil)
	require.True(t, f.Connect(context.Background()))

	f.Disconnect()
	assert.Equal(t, Disconnected, f.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestProberRunOnce(t *testing.T) {
	fake := resolvetest.New()
	f := New(fake.Connector(), nil)
	queue := commandqueue.New()
	defer queue.Close()

	var seen []Outcome
	p, err := NewProber(f, queue, ProberConfig{
		Schedule:  "@every 1h",
		OnOutcome: func(o Outcome) { seen = append(seen, o) },
	})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, OutcomeRecovered, p.RunOnce(ctx), "first probe connects")
	assert.Equal(t, OutcomeAlive, p.RunOnce(ctx))

	fake.SetDown(true)
	assert.Equal(t, OutcomeLost, p.RunOnce(ctx))

	last, at := p.Last()
	assert.Equal(t, OutcomeLost, last)
	assert.False(t, at.IsZero())
	assert.Equal(t, []Outcome{OutcomeRecovered, OutcomeAlive, OutcomeLost}, seen)
}

func TestProberRejectsBadSchedule(t *testing.T) {
	_, err := NewProber(New(resolvetest.New().Connector(), nil), commandqueue.New(), ProberConfig{Schedule: "sometimes"})
	assert.Error(t, err)
}

func TestProberScheduled(t *testing.T) {
	fake := resolvetest.New()
	f := New(fake.Connector(), nil)
	queue := commandqueue.New()
	defer queue.Close()

	outcomes := make(chan Outcome, 8)
	p, err := NewProber(f, queue, ProberConfig{
		Schedule:  "@every 1s",
		OnOutcome: func(o Outcome) { outcomes <- o },
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	defer p.Stop()

	select {
	case o := <-outcomes:
		assert.Equal(t, OutcomeRecovered, o)
	case <-time.After(3 * time.Second):
		t.Fatal("prober never ran")
	}
	assert.Equal(t, Connected, f.State())
}
