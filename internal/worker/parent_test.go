package worker

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// childEnv makes the test binary act as a worker child, the way the real
// binary does when re-executed with -worker.
const childEnv = "SAMASK_WORKER_TEST_CHILD"

func TestMain(m *testing.M) {
	if os.Getenv(childEnv) != "" {
		w := InitWorker(true, true, func() (Library, error) { return &fakeLibrary{}, nil })
		if err := w.Start(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func childPid(p *Parent) int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.cmd.Process.Pid
}

func TestParentRespawnsChild(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	t.Setenv(childEnv, "1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewParent([]string{"-test.run=^$"})
	require.NoError(t, p.Start(ctx))
	require.Equal(t, StateRunning, p.State())

	out, err := p.GenerateMask(ctx, request(t))
	require.NoError(t, err)
	require.Equal(t, 8, out.Len())
	out.Release()

	first := childPid(p)
	proc, err := os.FindProcess(first)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())

	require.Eventually(t, func() bool { return p.State() == StateCrashed },
		5*time.Second, time.Millisecond, "child death is noticed")
	require.Eventually(t, func() bool { return p.State() == StateRunning },
		10*time.Second, 10*time.Millisecond, "child is respawned after backoff")
	require.NotEqual(t, first, childPid(p))

	out, err = p.GenerateMask(ctx, request(t))
	require.NoError(t, err)
	require.Equal(t, byte(0xff), out.Bytes()[0])
	out.Release()

	cancel()
	require.Eventually(t, func() bool { return p.State() == StateClosed },
		5*time.Second, 10*time.Millisecond)
}
