package subprocess_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ember/internal/logging"
	"ember/internal/subprocess"
)

func TestRunCapturesStdoutLines(t *testing.T) {
	var lines []string
	res, err := subprocess.Run(context.Background(), logging.NewComponentLogger("test"), subprocess.Spec{
		Path: "/bin/sh",
		Args: []string{"-c", "echo one; echo two"},
	}, func(line string) { lines = append(lines, line) })

	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
	require.Equal(t, []string{"one", "two"}, lines)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	res, err := subprocess.Run(context.Background(), logging.NewComponentLogger("test"), subprocess.Spec{
		Path: "/bin/sh",
		Args: []string{"-c", "exit 7"},
	}, func(string) {})

	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestRunTimesOutAndKills(t *testing.T) {
	start := time.Now()
	res, err := subprocess.Run(context.Background(), logging.NewComponentLogger("test"), subprocess.Spec{
		Path:    "/bin/sh",
		Args:    []string{"-c", "trap '' TERM; sleep 30"},
		Timeout: 50 * time.Millisecond,
	}, func(string) {})

	require.NoError(t, err)
	require.True(t, res.TimedOut)
	// Should be killed well before the 30s sleep completes: timeout (50ms)
	// plus the grace window, with slack for scheduling.
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRunCapturesStderrTail(t *testing.T) {
	res, err := subprocess.Run(context.Background(), logging.NewComponentLogger("test"), subprocess.Spec{
		Path: "/bin/sh",
		Args: []string{"-c", "echo oops 1>&2; exit 1"},
	}, func(string) {})

	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
	require.Contains(t, res.StderrTail, "oops")
}

// TestRunFeedsLargeStdinWithoutHanging guards against a regression where
// stdin was wired up as a custom io.Reader that never signaled EOF for
// input larger than a single Read call.
func TestRunFeedsLargeStdinWithoutHanging(t *testing.T) {
	large := strings.Repeat("x", 5*64*1024)

	done := make(chan struct{})
	var res *subprocess.Result
	var err error
	go func() {
		defer close(done)
		res, err = subprocess.Run(context.Background(), logging.NewComponentLogger("test"), subprocess.Spec{
			Path:    "/bin/sh",
			Args:    []string{"-c", "wc -c"},
			Stdin:   large,
			Timeout: 5 * time.Second,
		}, func(string) {})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subprocess.Run did not return: stdin reader never reached EOF")
	}

	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	res, err := subprocess.Run(context.Background(), logging.NewComponentLogger("test"), subprocess.Spec{
		Path: "/bin/sh",
		Args: []string{"-c", "pwd"},
		Dir:  dir,
	}, func(line string) { lines = append(lines, line) })

	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Len(t, lines, 1)
	require.Equal(t, dir, lines[0])
}
