package shell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	out, err := Run("/bin/sh", "-c", "echo hello")
	require.NoError(t, err)
	require.Equal(t, "hello\n", out)

	_, err = Run("/bin/sh", "-c", "echo oops >&2; exit 1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "oops")
}

func TestRunTimeout(t *testing.T) {
	r := RunTimeout(5*time.Second, "/bin/sh", "-c", "echo hi; exit 0")
	require.Equal(t, StatusExitedOK, r.Status)
	require.True(t, r.OK())
	require.Equal(t, 0, r.ExitCode)
	require.Equal(t, "hi\n", r.Stdout)

	r = RunTimeout(5*time.Second, "/bin/sh", "-c", "exit 3")
	require.Equal(t, StatusExitedNonZero, r.Status)
	require.Equal(t, 3, r.ExitCode)

	r = RunTimeout(100*time.Millisecond, "/bin/sh", "-c", "sleep 10")
	require.Equal(t, StatusTimedOut, r.Status)

	r = RunTimeout(time.Second, "/no/such/binary")
	require.Equal(t, StatusStartFailed, r.Status)
	require.Error(t, r.Err)
}

func TestProcStop(t *testing.T) {
	p, _, err := StartProc(false, "/bin/sh", "-c", "sleep 30")
	require.NoError(t, err)
	require.True(t, p.Running())

	start := time.Now()
	p.Stop(2 * time.Second)
	require.Less(t, time.Since(start), 2*time.Second)
	require.False(t, p.Running())

	// Idempotent
	p.Stop(time.Second)
}

func TestProcWaitTimeout(t *testing.T) {
	p, _, err := StartProc(false, "/bin/sh", "-c", "sleep 30")
	require.NoError(t, err)
	status := p.Wait(100 * time.Millisecond)
	require.Equal(t, StatusTimedOut, status)

	p, _, err = StartProc(false, "/bin/sh", "-c", "exit 0")
	require.NoError(t, err)
	require.Equal(t, StatusExitedOK, p.Wait(5*time.Second))
}
