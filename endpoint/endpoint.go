// Package endpoint models the rendezvous address that the 9P server binds
// and the QEMU client dials: either a Unix domain socket path or a local TCP
// port. The server-side tools (9pserve) and the client side (QEMU's -serial
// flag) each parse their own address syntax, so the two renderings here must
// match those tools exactly.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Kind int

const (
	UnixSocket Kind = iota
	TCPPort
)

func (k Kind) String() string {
	switch k {
	case UnixSocket:
		return "unix"
	case TCPPort:
		return "tcp"
	}
	return "unknown"
}

var (
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrReadyTimeout    = errors.New("endpoint did not become ready")
)

// pollInterval is the interval at which WaitReady re-checks the endpoint.
const pollInterval = 100 * time.Millisecond

// dialProbeTimeout bounds the connect attempt used to probe a TCP endpoint.
const dialProbeTimeout = 250 * time.Millisecond

type Endpoint struct {
	kind Kind
	path string
	port int
}

// ResolveUnix builds a Unix-socket endpoint at the given path.
func ResolveUnix(path string) (*Endpoint, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty unix socket path", ErrInvalidEndpoint)
	}
	return &Endpoint{kind: UnixSocket, path: path}, nil
}

// ResolveTCP builds a TCP endpoint on the given local port.
func ResolveTCP(port int) (*Endpoint, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: tcp port %d out of range", ErrInvalidEndpoint, port)
	}
	return &Endpoint{kind: TCPPort, port: port}, nil
}

func (e *Endpoint) Kind() Kind { return e.kind }

// Path returns the socket path for Unix endpoints and "" otherwise.
func (e *Endpoint) Path() string { return e.path }

// Port returns the TCP port for TCP endpoints and 0 otherwise.
func (e *Endpoint) Port() int { return e.port }

func (e *Endpoint) String() string {
	if e.kind == UnixSocket {
		return e.path
	}
	return fmt.Sprintf("tcp port %d", e.port)
}

// ClearStale removes a leftover socket file from a previous server run.
// A missing file is success. TCP endpoints have no filesystem state to clear.
func (e *Endpoint) ClearStale() error {
	if e.kind != UnixSocket {
		return nil
	}
	err := os.Remove(e.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", e.path, err)
	}
	return nil
}

// Ready reports whether the endpoint is observably usable: for a Unix socket,
// the socket file exists (9pserve creates it when it binds); for TCP, a
// connect attempt succeeds.
func (e *Endpoint) Ready() bool {
	switch e.kind {
	case UnixSocket:
		_, err := os.Stat(e.path)
		return err == nil
	case TCPPort:
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", e.port), dialProbeTimeout)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
	return false
}

// WaitReady polls Ready until it holds, the timeout elapses, or ctx is
// canceled. Cancellation is returned as ctx's error so callers can tell an
// interrupt apart from a server that never came up.
func (e *Endpoint) WaitReady(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	notReady := errors.New("not ready yet")
	b := backoff.WithContext(backoff.NewConstantBackOff(pollInterval), waitCtx)
	err := backoff.Retry(func() error {
		if e.Ready() {
			return nil
		}
		return notReady
	}, b)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s (waited %s)", ErrReadyTimeout, e, timeout)
}

// ServeAddr renders the endpoint in 9pserve's dial-string syntax.
func (e *Endpoint) ServeAddr() string {
	if e.kind == UnixSocket {
		return "unix!" + e.path
	}
	return fmt.Sprintf("tcp!*!%d", e.port)
}

// DialAddr renders the endpoint in QEMU's -serial chardev syntax.
func (e *Endpoint) DialAddr() string {
	if e.kind == UnixSocket {
		return "unix:" + e.path
	}
	return fmt.Sprintf("tcp:localhost:%d", e.port)
}
