// Package proc starts and supervises the child processes that make up a 9P
// development session: the exporter/server pair and the QEMU client. The
// Runner interface is the seam used by tests to substitute a recording
// implementation for real processes.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
)

var ErrSpawn = errors.New("spawn failed")

// MissingToolError reports a required external tool that could not be
// resolved on PATH.
type MissingToolError struct {
	Tool string
	Hint string
}

func (e *MissingToolError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s not found on PATH", e.Tool)
	}
	return fmt.Sprintf("%s not found on PATH. %s", e.Tool, e.Hint)
}

// Cmd describes a child process to start.
type Cmd struct {
	Path   string
	Args   []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// NewProcessGroup makes the child the leader of a fresh process group so
	// the whole group can be signaled through its Handle.
	NewProcessGroup bool

	// JoinProcessGroup places the child into an existing process group
	// (the PGID of an earlier NewProcessGroup child). Ignored when
	// NewProcessGroup is set.
	JoinProcessGroup int
}

// Result describes a finished process.
type Result struct {
	ExitCode int
	TimeMS   int64
}

// Handle is a started process (or process group).
type Handle interface {
	// Wait blocks until the process exits or ctx is canceled. Cancellation
	// is returned as ctx's error; a process that failed to run at all
	// returns ExitCode -1 and a non-nil error.
	Wait(ctx context.Context) (Result, error)

	// Signal delivers sig to the process, or to its whole group when the
	// process was started with NewProcessGroup. Signaling an already-dead
	// process or group is a no-op.
	Signal(sig syscall.Signal) error

	PID() int
	PGID() int
}

// Runner starts processes and resolves tool names.
type Runner interface {
	// LookPath reports whether name resolves to an executable.
	LookPath(name string) error

	// Start spawns the command. Canceling ctx after a successful start
	// terminates the process group.
	Start(ctx context.Context, cmd Cmd) (Handle, error)
}
