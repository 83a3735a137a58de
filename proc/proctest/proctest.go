// Package proctest provides a recording proc.Runner for tests. Started
// processes run nowhere; tests drive their exits and inspect the commands
// and signals they received.
package proctest

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/jrsharp/9ptool/proc"
)

// Runner records every Start and LookPath call instead of spawning anything.
type Runner struct {
	mu        sync.Mutex
	missing   map[string]string
	failSpawn map[string]bool
	autoExit  map[string]int
	onStart   func(*Proc)
	procs     []*Proc
	nextPID   int
}

var _ proc.Runner = (*Runner)(nil)

func New() *Runner {
	return &Runner{
		missing:   map[string]string{},
		failSpawn: map[string]bool{},
		autoExit:  map[string]int{},
		nextPID:   1000,
	}
}

// SetMissing makes LookPath fail for the named tool.
func (r *Runner) SetMissing(tool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing[tool] = tool
}

// FailSpawn makes Start fail for commands with the given path.
func (r *Runner) FailSpawn(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSpawn[path] = true
}

// AutoExit makes processes with the given path exit immediately with code.
func (r *Runner) AutoExit(path string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoExit[path] = code
}

// OnStart registers a hook invoked for every started process, e.g. to mimic
// a server creating its socket file.
func (r *Runner) OnStart(f func(*Proc)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStart = f
}

func (r *Runner) LookPath(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.missing[name]; ok {
		return &proc.MissingToolError{Tool: name}
	}
	return nil
}

func (r *Runner) Start(ctx context.Context, cmd proc.Cmd) (proc.Handle, error) {
	r.mu.Lock()
	if r.failSpawn[cmd.Path] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: starting %s", proc.ErrSpawn, cmd.Path)
	}
	p := &Proc{
		Cmd:    cmd,
		runner: r,
		pid:    r.nextPID,
		done:   make(chan struct{}),
	}
	r.nextPID++
	p.pgid = p.pid
	if !cmd.NewProcessGroup && cmd.JoinProcessGroup > 0 {
		p.pgid = cmd.JoinProcessGroup
	}
	r.procs = append(r.procs, p)
	code, auto := r.autoExit[cmd.Path]
	hook := r.onStart
	r.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	if auto {
		p.Exit(code)
	}
	return p, nil
}

// Procs returns every started process, in start order.
func (r *Runner) Procs() []*Proc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Proc(nil), r.procs...)
}

// Proc returns the most recently started process with the given path, or nil.
func (r *Runner) Proc(path string) *Proc {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.procs) - 1; i >= 0; i-- {
		if r.procs[i].Cmd.Path == path {
			return r.procs[i]
		}
	}
	return nil
}

func (r *Runner) StartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// signalGroup finishes every live process in the group.
func (r *Runner) signalGroup(pgid int) {
	r.mu.Lock()
	members := append([]*Proc(nil), r.procs...)
	r.mu.Unlock()
	for _, p := range members {
		if p.pgid == pgid {
			p.finish(143)
		}
	}
}

// Proc is a fake started process.
type Proc struct {
	Cmd proc.Cmd

	runner  *Runner
	pid     int
	pgid    int
	mu      sync.Mutex
	signals []syscall.Signal
	code    int
	ended   bool
	done    chan struct{}
}

var _ proc.Handle = (*Proc)(nil)

// Exit completes the process with the given exit code.
func (p *Proc) Exit(code int) { p.finish(code) }

func (p *Proc) finish(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return
	}
	p.ended = true
	p.code = code
	close(p.done)
}

// Signals returns the signals delivered to this process, in order.
func (p *Proc) Signals() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

func (p *Proc) Wait(ctx context.Context) (proc.Result, error) {
	select {
	case <-ctx.Done():
		return proc.Result{ExitCode: -1}, ctx.Err()
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return proc.Result{ExitCode: p.code}, nil
	}
}

func (p *Proc) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if p.Cmd.NewProcessGroup {
		p.runner.signalGroup(p.pgid)
	} else {
		p.finish(143)
	}
	return nil
}

func (p *Proc) PID() int  { return p.pid }
func (p *Proc) PGID() int { return p.pgid }
