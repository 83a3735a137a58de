// Package session coordinates one end-to-end 9P development run: optionally
// start a server pipeline for a directory, wait for its endpoint to become
// ready, run the QEMU client against it, and tear down anything this session
// started no matter how the run ends.
package session

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jrsharp/9ptool/endpoint"
	"github.com/jrsharp/9ptool/pipeline"
	"github.com/jrsharp/9ptool/proc"
	"github.com/jrsharp/9ptool/qemu"
)

type State int

const (
	Idle State = iota
	ServiceStarting
	ServiceReady
	ConsumerRunning
	Completed
	Failed
	Interrupted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ServiceStarting:
		return "service-starting"
	case ServiceReady:
		return "service-ready"
	case ConsumerRunning:
		return "consumer-running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Params configures one run.
type Params struct {
	// ServeDir, when non-empty, makes the session start and own a server
	// pipeline exporting this directory. When empty an already-running
	// server at Endpoint is reused and nothing is torn down.
	ServeDir string

	Endpoint *endpoint.Endpoint
	BuildDir string
	Board    string
	MemoryMB int

	// ReadyTimeout bounds the wait for an owned pipeline's endpoint.
	ReadyTimeout time.Duration
}

// Outcome is the terminal result of a run. Interrupted carries no error:
// an operator cancel is a recognized ending, not a failure.
type Outcome struct {
	State    State
	ExitCode int
	Err      error
}

type Session struct {
	id     string
	log    *zap.SugaredLogger
	runner proc.Runner

	state State
	pipe  *pipeline.Pipeline
}

type Option func(s *Session)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) {
		s.log = l
	}
}

func New(runner proc.Runner, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString()[:8],
		runner: runner,
		log:    zap.NewNop().Sugar(),
		state:  Idle,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("session", s.id)
	return s
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Run drives the session to a terminal state. If the session owns a
// pipeline, its process group is signaled exactly once before Run returns,
// on every path out. A teardown failure on an already-failing path is
// appended to the original error, never substituted for it.
func (s *Session) Run(ctx context.Context, params Params) (out Outcome) {
	defer func() {
		if s.pipe == nil {
			return
		}
		if err := s.pipe.Stop(); err != nil {
			s.log.Warnf("stopping 9P server pipeline: %s", err)
			if out.State == Failed {
				out.Err = multierr.Append(out.Err, err)
			}
		}
	}()

	if params.ServeDir != "" {
		s.state = ServiceStarting
		dir, err := filepath.Abs(params.ServeDir)
		if err != nil {
			return s.fail(err)
		}
		s.log.Infof("starting 9P server for %s", dir)
		pipe, err := pipeline.Start(ctx, pipeline.Options{
			Dir:      dir,
			Endpoint: params.Endpoint,
			Runner:   s.runner,
			Logger:   s.log,
		})
		if err != nil {
			return s.fail(err)
		}
		s.pipe = pipe

		if err := params.Endpoint.WaitReady(ctx, params.ReadyTimeout); err != nil {
			if errors.Is(err, context.Canceled) {
				return s.interrupted()
			}
			return s.fail(err)
		}
		s.state = ServiceReady
		s.log.Infof("9P server ready at %s", params.Endpoint)
	}

	launcher := &qemu.Launcher{Runner: s.runner, Log: s.log}
	spec := qemu.Spec{
		Kernel:   qemu.KernelPath(params.BuildDir),
		Board:    params.Board,
		Endpoint: params.Endpoint,
		MemoryMB: params.MemoryMB,
	}
	if err := launcher.Validate(spec); err != nil {
		return s.fail(err)
	}

	s.state = ConsumerRunning
	s.log.Infof("running QEMU with 9P client at %s", params.Endpoint.DialAddr())
	code, err := launcher.Run(ctx, spec)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return s.interrupted()
		}
		return s.fail(err)
	}

	s.state = Completed
	return Outcome{State: Completed, ExitCode: code}
}

func (s *Session) fail(err error) Outcome {
	s.state = Failed
	return Outcome{State: Failed, ExitCode: 1, Err: err}
}

func (s *Session) interrupted() Outcome {
	s.state = Interrupted
	return Outcome{State: Interrupted, ExitCode: 130}
}
