// Package qemu launches the QEMU machine that acts as the 9P client. The
// machine's serial port is wired to the server endpoint, and the
// isa-debug-exit device maps the Zephyr sample's pass/fail signal to the
// QEMU process's exit code, which is forwarded to the caller unmodified.
package qemu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/jrsharp/9ptool/endpoint"
	"github.com/jrsharp/9ptool/proc"
)

const Binary = "qemu-system-i386"

var ErrEndpointNotReady = errors.New("9P endpoint is not ready")

// KernelMissingError reports a missing boot image, with the build command
// that should have produced it.
type KernelMissingError struct {
	Path  string
	Board string
}

func (e *KernelMissingError) Error() string {
	return fmt.Sprintf("kernel not found: %s\nbuild first with: west build -b %s 9p4z/samples/9p_client", e.Path, e.Board)
}

// KernelPath returns the conventional location of the Zephyr boot image
// within a build directory.
func KernelPath(buildDir string) string {
	return filepath.Join(buildDir, "zephyr", "zephyr.elf")
}

// Spec describes one QEMU invocation.
type Spec struct {
	Kernel   string
	Board    string
	Endpoint *endpoint.Endpoint
	MemoryMB int
}

type Launcher struct {
	Runner proc.Runner
	Log    *zap.SugaredLogger

	// Stdin/Stdout/Stderr are wired to the QEMU process; with -nographic
	// they carry the machine's console. Default to the calling process's
	// streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Validate checks every precondition without spawning anything.
func (l *Launcher) Validate(spec Spec) error {
	if err := l.Runner.LookPath(Binary); err != nil {
		return &proc.MissingToolError{Tool: Binary, Hint: "install QEMU for x86 emulation"}
	}
	if _, err := os.Stat(spec.Kernel); err != nil {
		return &KernelMissingError{Path: spec.Kernel, Board: spec.Board}
	}
	if !spec.Endpoint.Ready() {
		return fmt.Errorf("%w: %s\nstart the server first with: 9ptool serve", ErrEndpointNotReady, spec.Endpoint)
	}
	return nil
}

// Run validates spec, launches QEMU in the foreground, and blocks until it
// exits or ctx is canceled. The machine's exit code is returned verbatim;
// cancellation is returned as ctx's error.
func (l *Launcher) Run(ctx context.Context, spec Spec) (int, error) {
	if err := l.Validate(spec); err != nil {
		return -1, err
	}

	args := []string{
		"-m", strconv.Itoa(spec.MemoryMB),
		"-cpu", "qemu32",
		"-device", "isa-debug-exit,iobase=0xf4,iosize=0x04",
		"-no-reboot",
		"-nographic",
		"-serial", spec.Endpoint.DialAddr(),
		"-kernel", spec.Kernel,
	}

	if l.Log != nil {
		l.Log.Debugf("running %s %v", Binary, args)
	}

	stdin, stdout, stderr := l.Stdin, l.Stdout, l.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	h, err := l.Runner.Start(ctx, proc.Cmd{
		Path:   Binary,
		Args:   args,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return -1, fmt.Errorf("starting %s: %w", Binary, err)
	}

	res, err := h.Wait(ctx)
	if err != nil {
		return -1, err
	}
	return res.ExitCode, nil
}
