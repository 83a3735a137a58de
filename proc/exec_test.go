package proc

import (
	"bytes"
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookPath(t *testing.T) {
	r := ExecRunner{}
	require.NoError(t, r.LookPath("sh"))

	err := r.LookPath("definitely-not-a-real-tool-9ptool")
	require.Error(t, err)
	var missing *MissingToolError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "definitely-not-a-real-tool-9ptool", missing.Tool)
}

func TestStartReportsSpawnErrors(t *testing.T) {
	r := ExecRunner{}
	_, err := r.Start(context.Background(), Cmd{Path: "/no/such/binary"})
	require.ErrorIs(t, err, ErrSpawn)
}

func TestWaitReturnsExitCode(t *testing.T) {
	r := ExecRunner{}
	h, err := r.Start(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestWaitIsRepeatable(t *testing.T) {
	r := ExecRunner{}
	h, err := r.Start(context.Background(), Cmd{Path: "true"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := h.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
	}
}

func TestStdoutIsWired(t *testing.T) {
	var buf bytes.Buffer
	r := ExecRunner{}
	h, err := r.Start(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "echo hello"}, Stdout: &buf})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", buf.String())
}

func TestCancelingStartContextTerminatesProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := ExecRunner{}
	h, err := r.Start(ctx, Cmd{Path: "sleep", Args: []string{"60"}, NewProcessGroup: true})
	require.NoError(t, err)

	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	res, err := h.Wait(waitCtx)
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestGroupSignalStopsWholeGroup(t *testing.T) {
	r := ExecRunner{}
	// sh forks a child sleep into the same group
	h, err := r.Start(context.Background(), Cmd{
		Path:            "sh",
		Args:            []string{"-c", "sleep 60"},
		NewProcessGroup: true,
	})
	require.NoError(t, err)
	assert.Equal(t, h.PID(), h.PGID())

	require.NoError(t, h.Signal(syscall.SIGTERM))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode)

	// the group is gone, a second signal is a no-op
	require.NoError(t, h.Signal(syscall.SIGTERM))
}

func TestWaitHonorsContext(t *testing.T) {
	r := ExecRunner{}
	h, err := r.Start(context.Background(), Cmd{Path: "sleep", Args: []string{"60"}, NewProcessGroup: true})
	require.NoError(t, err)
	defer h.Signal(syscall.SIGKILL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
