// File: connection/socket_linux.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking socket over a detached descriptor.

package connection

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
)

type rawSocket struct {
	fd        int
	closeOnce sync.Once
	closeErr  error
}

// NewSocket wraps fd and switches it to non-blocking mode. The socket owns fd.
func NewSocket(fd int) (Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, api.WrapError(api.ErrCodeIO, "set nonblock", err).WithContext("fd", fd)
	}
	return &rawSocket{fd: fd}, nil
}

// Detach takes the descriptor of a TCP or Unix connection out of the Go
// runtime poller. conn is closed; the returned socket owns a duplicate.
func Detach(conn net.Conn) (Socket, error) {
	fc, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, api.NewError(api.ErrCodeNotSupported, fmt.Sprintf("detach: %T has no descriptor", conn))
	}
	f, err := fc.File()
	if err != nil {
		return nil, api.WrapError(api.ErrCodeIO, "detach", err)
	}
	fd, err := unix.Dup(int(f.Fd()))
	_ = f.Close()
	_ = conn.Close()
	if err != nil {
		return nil, api.WrapError(api.ErrCodeIO, "detach: dup", err)
	}
	unix.CloseOnExec(fd)
	s, err := NewSocket(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// SocketPair returns two connected sockets, used by tests and in-process
// pipelines.
func SocketPair() (Socket, Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, api.WrapError(api.ErrCodeIO, "socketpair", err)
	}
	return &rawSocket{fd: fds[0]}, &rawSocket{fd: fds[1]}, nil
}

func (s *rawSocket) Fd() int { return s.fd }

func (s *rawSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *rawSocket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

// WriteBuffers writes several chunks with one sendmsg call.
func (s *rawSocket) WriteBuffers(bufs [][]byte) (int, error) {
	for {
		n, err := unix.SendmsgBuffers(s.fd, bufs, nil, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

func (s *rawSocket) Close() error {
	s.closeOnce.Do(func() { s.closeErr = unix.Close(s.fd) })
	return s.closeErr
}
