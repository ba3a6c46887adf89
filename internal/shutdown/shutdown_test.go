package shutdown_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/text-to-speech/internal/shutdown"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "shutdown-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

// The signal test is not parallel: it signals the test process itself.
func TestWithSignals_CancelsOnSignal(t *testing.T) {
	ctx, stop := shutdown.WithSignals(context.Background(), newTestLogger(t))
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by SIGTERM")
	}

	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

// envSecondSignalChild marks the child process of TestWithSignals_SecondSignalTerminates.
const envSecondSignalChild = "TTS_SHUTDOWN_SECOND_SIGNAL_CHILD"

// The child handles the first SIGTERM, then sends itself a second one. It
// only reaches the end of the test if the second signal was swallowed.
func TestWithSignals_SecondSignalTerminates(t *testing.T) {
	if os.Getenv(envSecondSignalChild) == "1" {
		ctx, stop := shutdown.WithSignals(context.Background(), newTestLogger(t))
		defer stop()

		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("context was not cancelled by the first SIGTERM")
		}

		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
		time.Sleep(5 * time.Second)

		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestWithSignals_SecondSignalTerminates$", "-test.count=1")
	cmd.Env = append(os.Environ(), envSecondSignalChild+"=1")

	runErr := cmd.Run()

	var exitErr *exec.ExitError
	require.True(t, errors.As(runErr, &exitErr), "child exited cleanly: %v", runErr)

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	require.True(t, status.Signaled(), "child was not killed by a signal: %v", runErr)
	require.Equal(t, syscall.SIGTERM, status.Signal())
}

func TestWithSignals_StopCancels(t *testing.T) {
	ctx, stop := shutdown.WithSignals(context.Background(), newTestLogger(t))

	require.NoError(t, ctx.Err())

	stop()
	stop()

	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWithSignals_ParentCancellation(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())

	ctx, stop := shutdown.WithSignals(parent, newTestLogger(t))
	defer stop()

	cancelParent()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context did not follow its parent")
	}
}
