package endpoint

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalnet "github.com/jrsharp/9ptool/internal/net"
)

func TestResolveUnixRejectsEmptyPath(t *testing.T) {
	_, err := ResolveUnix("")
	require.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestResolveTCPRejectsBadPorts(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		_, err := ResolveTCP(port)
		assert.ErrorIs(t, err, ErrInvalidEndpoint, "port %d", port)
	}
}

func TestAddressForms(t *testing.T) {
	unix, err := ResolveUnix("/tmp/9p.sock")
	require.NoError(t, err)
	assert.Equal(t, "unix!/tmp/9p.sock", unix.ServeAddr())
	assert.Equal(t, "unix:/tmp/9p.sock", unix.DialAddr())

	tcp, err := ResolveTCP(5640)
	require.NoError(t, err)
	assert.Equal(t, "tcp!*!5640", tcp.ServeAddr())
	assert.Equal(t, "tcp:localhost:5640", tcp.DialAddr())
}

func TestClearStaleIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "9p.sock")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	ep, err := ResolveUnix(path)
	require.NoError(t, err)

	require.NoError(t, ep.ClearStale())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// second call has nothing to remove and still succeeds
	require.NoError(t, ep.ClearStale())
}

func TestClearStaleSkipsTCP(t *testing.T) {
	ep, err := ResolveTCP(5640)
	require.NoError(t, err)
	require.NoError(t, ep.ClearStale())
}

func TestReadyTracksSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "9p.sock")
	ep, err := ResolveUnix(path)
	require.NoError(t, err)

	assert.False(t, ep.Ready())
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.True(t, ep.Ready())
}

func TestReadyProbesTCP(t *testing.T) {
	port, err := internalnet.EphemeralTCPPort()
	require.NoError(t, err)

	ep, err := ResolveTCP(port)
	require.NoError(t, err)
	assert.False(t, ep.Ready())

	listener, err := net.Listen("tcp", ep.DialAddr()[len("tcp:"):])
	require.NoError(t, err)
	defer listener.Close()
	assert.True(t, ep.Ready())
}

func TestWaitReadySucceedsOnceSocketAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "9p.sock")
	ep, err := ResolveUnix(path)
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		os.WriteFile(path, nil, 0644)
	}()

	require.NoError(t, ep.WaitReady(context.Background(), 2*time.Second))
}

func TestWaitReadyTimesOut(t *testing.T) {
	ep, err := ResolveUnix(filepath.Join(t.TempDir(), "never.sock"))
	require.NoError(t, err)

	err = ep.WaitReady(context.Background(), 300*time.Millisecond)
	require.ErrorIs(t, err, ErrReadyTimeout)
}

func TestWaitReadyReportsCancellation(t *testing.T) {
	ep, err := ResolveUnix(filepath.Join(t.TempDir(), "never.sock"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err = ep.WaitReady(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
