// File: server/server_linux_test.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/adapters"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/handler"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/server"
)

const waitFor = 2 * time.Second

func lineEcho() handler.DataFunc {
	return func(conn api.Connection) (bool, error) {
		line, err := conn.ReadStringByDelimiter("\r\n", 0)
		if err != nil {
			return false, err
		}
		_, err = conn.WriteString(line + "\r\n")
		return true, err
	}
}

func startServer(t *testing.T, chain *handler.Chain, opts ...server.ServerOption) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Name = t.Name()
	cfg.ExecutorWorkers = 2
	opts = append([]server.ServerOption{server.WithLogger(logger.NilLogger{})}, opts...)
	srv, err := server.NewServer(cfg, chain, opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dial(t *testing.T, srv *server.Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	return conn
}

func TestServer_LineEcho(t *testing.T) {
	srv := startServer(t, handler.NewChain(lineEcho()))
	conn := dial(t, srv)

	_, err := conn.Write([]byte("first\r\nsec"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("ond\r\n"))
	require.NoError(t, err)

	got := make([]byte, len("first\r\nsecond\r\n"))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "first\r\nsecond\r\n", string(got))

	st := srv.Stats()
	assert.Equal(t, int64(1), st.Accepted)
	assert.Equal(t, int64(1), st.OpenConnections)
	assert.Equal(t, int64(15), st.Pool.ReceivedBytes)
	assert.Equal(t, int64(1), srv.GetControl().Stats()["handler.connect"])
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	var disconnected = make(chan struct{})
	chain := handler.NewChain(handler.DisconnectFunc(func(api.Connection) (bool, error) {
		close(disconnected)
		return true, nil
	}))
	srv := startServer(t, chain)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return srv.Stats().OpenConnections == 1 }, waitFor, time.Millisecond)

	require.NoError(t, srv.Close())
	select {
	case <-disconnected:
	case <-time.After(waitFor):
		t.Fatal("disconnect handler not called")
	}
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	assert.ErrorIs(t, srv.Start(), server.ErrServerClosed)
	assert.NoError(t, srv.Close())
}

func TestServer_ShutdownUnbindsControl(t *testing.T) {
	srv := startServer(t, handler.NewChain())
	ctrl := srv.Control()
	stats := ctrl.Stats()
	require.Contains(t, stats, "debug.pool."+t.Name())
	require.Contains(t, stats, "pool."+t.Name()+".accepted_per_sec")
	require.Equal(t, 1, ctrl.Hooks().Len())

	require.NoError(t, srv.Close())
	assert.Zero(t, ctrl.Hooks().Len())
	stats = ctrl.Stats()
	assert.NotContains(t, stats, "debug.pool."+t.Name())
	assert.NotContains(t, stats, "debug.watchdog."+t.Name())
	assert.NotContains(t, stats, "debug.executor.workers")
	assert.NotContains(t, stats, "pool."+t.Name()+".accepted_per_sec")
}

func TestServer_IdleTimeout(t *testing.T) {
	srv := startServer(t, handler.NewChain(), server.WithIdleTimeout(100*time.Millisecond))
	conn := dial(t, srv)

	start := time.Now()
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	require.Eventually(t, func() bool {
		return srv.GetControl().Stats()["handler.idle_timeout"] == int64(1)
	}, waitFor, time.Millisecond)
}

func TestServer_ResizeThroughControl(t *testing.T) {
	srv := startServer(t, handler.NewChain(), server.WithDispatcherSize(1))
	assert.Equal(t, 1, srv.Pool().Size())
	assert.Equal(t, 1, srv.GetControl().GetConfig()[adapters.KeyDispatcherSize])

	require.NoError(t, srv.GetControl().SetConfig(map[string]any{adapters.KeyDispatcherSize: 3}))
	assert.Equal(t, 3, srv.Pool().Size())
	assert.Len(t, srv.Stats().Pool.Dispatchers, 3)
}

func TestServer_StartTwice(t *testing.T) {
	srv := startServer(t, handler.NewChain())
	assert.ErrorIs(t, srv.Start(), server.ErrAlreadyRunning)
}

func TestNewServer_InvalidSize(t *testing.T) {
	_, err := server.NewServer(nil, nil, server.WithDispatcherSize(0))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestServer_AddrBeforeStart(t *testing.T) {
	srv, err := server.NewServer(nil, nil, server.WithLogger(logger.NilLogger{}))
	require.NoError(t, err)
	assert.Nil(t, srv.Addr())
	assert.Nil(t, srv.Pool())
	assert.NoError(t, srv.Close())
}
