package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExecRunner runs real OS processes via os/exec.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

func (ExecRunner) LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return &MissingToolError{Tool: name}
	}
	return nil
}

func (ExecRunner) Start(ctx context.Context, c Cmd) (Handle, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if c.NewProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	} else if c.JoinProcessGroup > 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: c.JoinProcessGroup}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %s", ErrSpawn, c.Path, err)
	}

	h := &execHandle{
		cmd:        cmd,
		group:      c.NewProcessGroup,
		resultChan: make(chan waitResult, 1),
		exited:     make(chan struct{}),
	}
	h.pgid = cmd.Process.Pid
	if !c.NewProcessGroup {
		if c.JoinProcessGroup > 0 {
			h.pgid = c.JoinProcessGroup
		} else if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			h.pgid = pgid
		}
	}

	// wait on the process to finish and send the result
	go func() {
		exitCode := 0
		var resultErr error

		err := cmd.Wait()
		timeMS := time.Since(start).Milliseconds()
		close(h.exited)
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				resultErr = err
				exitCode = -1
			}
		}
		h.resultChan <- waitResult{res: Result{ExitCode: exitCode, TimeMS: timeMS}, err: resultErr}
	}()

	// terminate the process group if the start context is canceled
	go func() {
		select {
		case <-ctx.Done():
			h.Signal(syscall.SIGTERM)
		case <-h.exited:
		}
	}()

	return h, nil
}

type waitResult struct {
	res Result
	err error
}

type execHandle struct {
	cmd        *exec.Cmd
	group      bool
	pgid       int
	resultChan chan waitResult
	exited     chan struct{}
}

func (h *execHandle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{ExitCode: -1}, ctx.Err()
	case r := <-h.resultChan:
		h.resultChan <- r
		return r.res, r.err
	}
}

func (h *execHandle) Signal(sig syscall.Signal) error {
	var err error
	if h.group {
		err = syscall.Kill(-h.pgid, sig)
	} else {
		err = h.cmd.Process.Signal(sig)
	}
	if err == nil || errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return fmt.Errorf("signaling pid %d: %w", h.cmd.Process.Pid, err)
}

func (h *execHandle) PID() int  { return h.cmd.Process.Pid }
func (h *execHandle) PGID() int { return h.pgid }
