// File: connection/blocking_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/connection"
	"github.com/momentics/hioload-nio/handler"
)

func TestBlocking_WaitsForRecord(t *testing.T) {
	nb, sock, _ := newConn(t, handler.NewChain())
	b := connection.NewBlocking(nb, waitFor)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sock.FeedString("HTTP/1.1 200")
		time.Sleep(20 * time.Millisecond)
		sock.FeedString(" OK\r\nrest")
	}()
	line, err := b.ReadStringByDelimiter("\r\n", 0)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK", line)

	rest, err := b.ReadBytesByLength(4)
	require.NoError(t, err)
	assert.Equal(t, "rest", string(rest))
}

func TestBlocking_ReadTimeout(t *testing.T) {
	nb, _, _ := newConn(t, handler.NewChain())
	b := connection.NewBlocking(nb, 30*time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, b.ReadTimeout())

	start := time.Now()
	_, err := b.ReadAvailable()
	assert.ErrorIs(t, err, api.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestBlocking_PeerCloseEndsWait(t *testing.T) {
	nb, sock, _ := newConn(t, handler.NewChain())
	b := connection.NewBlocking(nb, 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sock.FeedString("partial")
		sock.CloseRemote()
	}()
	_, err := b.ReadStringByDelimiter("\n", 0)
	assert.ErrorIs(t, err, api.ErrClosed)

	// bytes received before the close stay readable
	data, err := b.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, "partial", string(data))
}
