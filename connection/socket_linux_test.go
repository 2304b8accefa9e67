// File: connection/socket_linux_test.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/connection"
	"github.com/momentics/hioload-nio/handler"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/reactor"
)

func newEpollPool(t *testing.T) *reactor.DispatcherPool {
	t.Helper()
	p, err := reactor.NewDispatcherPool("epoll", 2, reactor.WithPoolLogger(logger.NilLogger{}))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// readUntil polls the non-blocking socket s until want bytes arrived.
func readUntil(t *testing.T, s connection.Socket, want int) []byte {
	t.Helper()
	var got []byte
	buf := make([]byte, 256)
	require.Eventually(t, func() bool {
		n, err := s.Read(buf)
		if err != nil {
			return false
		}
		got = append(got, buf[:n]...)
		return len(got) >= want
	}, waitFor, time.Millisecond)
	return got
}

func TestSocketPair_EchoOverEpoll(t *testing.T) {
	a, b, err := connection.SocketPair()
	require.NoError(t, err)
	defer b.Close()

	c, err := connection.New(a, nil, handler.NewChain(lineEcho()), newEpollPool(t),
		connection.WithLogger(logger.NilLogger{}))
	require.NoError(t, err)
	defer c.Close()

	_, err = b.Write([]byte("ping\r"))
	require.NoError(t, err)
	_, err = b.Write([]byte("\npong\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "ping\r\npong\r\n", string(readUntil(t, b, 12)))
	assert.Equal(t, int64(12), c.ReceivedBytes())
}

func TestSocketPair_PeerCloseClosesConnection(t *testing.T) {
	a, b, err := connection.SocketPair()
	require.NoError(t, err)

	c, err := connection.New(a, nil, handler.NewChain(), newEpollPool(t),
		connection.WithLogger(logger.NilLogger{}))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return !c.IsOpen() }, waitFor, time.Millisecond)
}

func TestSocketPair_VectoredWrite(t *testing.T) {
	a, b, err := connection.SocketPair()
	require.NoError(t, err)
	defer b.Close()

	c, err := connection.New(a, nil, handler.NewChain(), newEpollPool(t),
		connection.WithLogger(logger.NilLogger{}), connection.WithAutoFlush(false))
	require.NoError(t, err)
	defer c.Close()

	for _, part := range []string{"al", "pha", "-", "beta"} {
		_, err := c.WriteString(part)
		require.NoError(t, err)
	}
	require.NoError(t, c.Flush())
	assert.Equal(t, "alpha-beta", string(readUntil(t, b, 10)))
}

func TestDetach_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	accepted, err := ln.Accept()
	require.NoError(t, err)
	remote := accepted.RemoteAddr()
	sock, err := connection.Detach(accepted)
	require.NoError(t, err)

	c, err := connection.New(sock, remote, handler.NewChain(lineEcho()), newEpollPool(t),
		connection.WithLogger(logger.NilLogger{}))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, remote, c.RemoteAddr())

	_, err = client.Write([]byte("over tcp\r\n"))
	require.NoError(t, err)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(waitFor)))
	got := make([]byte, 10)
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, "over tcp\r\n", string(got))
}

func TestDetach_Unsupported(t *testing.T) {
	p1, p2 := net.Pipe()
	defer p2.Close()
	_, err := connection.Detach(p1)
	assert.Error(t, err)
}
