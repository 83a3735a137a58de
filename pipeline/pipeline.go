// Package pipeline composes the two plan9port tools that together serve a
// directory over 9P: 9pex exports the directory as a 9P stream on stdout,
// and 9pserve multiplexes that stream onto a listening endpoint. The pair is
// joined by an OS pipe and placed in a single process group so one signal
// stops both.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jrsharp/9ptool/endpoint"
	"github.com/jrsharp/9ptool/proc"
)

const (
	ExporterTool = "9pex"
	ServerTool   = "9pserve"

	installHint = "Install plan9port (brew install plan9port)"
)

// DirError reports a serve directory that does not exist or is not a
// directory.
type DirError struct {
	Path string
}

func (e *DirError) Error() string {
	return fmt.Sprintf("directory not found: %s", e.Path)
}

type Options struct {
	// Dir is the directory to export.
	Dir string

	// Endpoint is where 9pserve listens.
	Endpoint *endpoint.Endpoint

	Runner proc.Runner
	Logger *zap.SugaredLogger

	// Stderr receives diagnostic output from both tools. Defaults to the
	// process's stderr.
	Stderr io.Writer
}

// Pipeline is a running 9pex|9pserve pair bound to an endpoint.
type Pipeline struct {
	log      *zap.SugaredLogger
	ep       *endpoint.Endpoint
	exporter proc.Handle
	server   proc.Handle

	stopOnce sync.Once
	stopErr  error
}

// CheckTools verifies that both pipeline tools resolve on PATH.
func CheckTools(runner proc.Runner) error {
	for _, tool := range []string{ExporterTool, ServerTool} {
		if err := runner.LookPath(tool); err != nil {
			return &proc.MissingToolError{Tool: tool, Hint: installHint}
		}
	}
	return nil
}

// Start validates preconditions, clears stale endpoint state, and spawns the
// exporter and server as one process group. If the server fails to spawn the
// already-started exporter is terminated; a pipeline never starts by halves.
// Canceling ctx after a successful start terminates the group.
func Start(ctx context.Context, opts Options) (*Pipeline, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	if err := CheckTools(opts.Runner); err != nil {
		return nil, err
	}
	info, err := os.Stat(opts.Dir)
	if err != nil || !info.IsDir() {
		return nil, &DirError{Path: opts.Dir}
	}
	if err := opts.Endpoint.ClearStale(); err != nil {
		return nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating pipe: %w", err)
	}

	log.Debugf("starting %s %s | %s %s", ExporterTool, opts.Dir, ServerTool, opts.Endpoint.ServeAddr())

	exporter, err := opts.Runner.Start(ctx, proc.Cmd{
		Path:            ExporterTool,
		Args:            []string{opts.Dir},
		Stdout:          pw,
		Stderr:          opts.Stderr,
		NewProcessGroup: true,
	})
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", ExporterTool, err)
	}

	server, err := opts.Runner.Start(ctx, proc.Cmd{
		Path:             ServerTool,
		Args:             []string{opts.Endpoint.ServeAddr()},
		Stdin:            pr,
		Stderr:           opts.Stderr,
		JoinProcessGroup: exporter.PGID(),
	})
	if err != nil {
		exporter.Signal(syscall.SIGTERM)
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", ServerTool, err)
	}

	// the children own the pipe ends now
	pr.Close()
	pw.Close()

	return &Pipeline{
		log:      log,
		ep:       opts.Endpoint,
		exporter: exporter,
		server:   server,
	}, nil
}

// Endpoint returns the endpoint the pipeline serves.
func (p *Pipeline) Endpoint() *endpoint.Endpoint { return p.ep }

// PGID returns the process group shared by both tools.
func (p *Pipeline) PGID() int { return p.exporter.PGID() }

// Wait blocks until either tool exits or ctx is canceled. A nonzero exit of
// either side is reported as an error; cancellation is returned as ctx's
// error.
func (p *Pipeline) Wait(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	wait := func(name string, h proc.Handle) func() error {
		return func() error {
			res, err := h.Wait(ctx)
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("%s exited with code %d", name, res.ExitCode)
			}
			return nil
		}
	}
	g.Go(wait(ExporterTool, p.exporter))
	g.Go(wait(ServerTool, p.server))
	return g.Wait()
}

// Stop terminates the pipeline's process group. It signals at most once;
// calling Stop again, or stopping a group that already exited, is a no-op.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		p.log.Debugf("stopping 9P server pipeline (pgid %d)", p.PGID())
		p.stopErr = p.exporter.Signal(syscall.SIGTERM)
	})
	return p.stopErr
}
