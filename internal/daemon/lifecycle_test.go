package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	tmpDir := t.TempDir()

	lm := NewLifecycleManager(tmpDir, zerolog.Nop())
	assert.Equal(t, filepath.Join(tmpDir, "resolvemcp.pid"), lm.PIDFile())
	assert.False(t, lm.IsRunning())
}

func TestLifecycleManagerStartStop(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested")
	lm := NewLifecycleManager(tmpDir, zerolog.Nop())

	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.PIDFile())
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, lm.Stop(), "stop without a PID file")
}

func TestLifecycleManagerRefusesLiveOwner(t *testing.T) {
	tmpDir := t.TempDir()
	lm := NewLifecycleManager(tmpDir, zerolog.Nop())

	// the parent process is alive and is not us
	require.NoError(t, os.WriteFile(lm.PIDFile(), []byte(strconv.Itoa(os.Getppid())), 0644))

	err := lm.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.PIDFile())
	assert.NoError(t, err, "a foreign PID file is left alone")
}

func TestLifecycleManagerReplacesStalePID(t *testing.T) {
	tmpDir := t.TempDir()
	lm := NewLifecycleManager(tmpDir, zerolog.Nop())

	require.NoError(t, os.WriteFile(lm.PIDFile(), []byte("not-a-pid"), 0644))
	_, err := lm.GetPID()
	assert.Error(t, err)

	require.NoError(t, lm.Start())
	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	require.NoError(t, lm.Stop())
}
