//go:build linux
// +build linux

// File: reactor/multiplexer_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based multiplexer. An eventfd registered next to the sockets
// interrupts a blocked epoll_wait.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const maxEpollEvents = 128

type epollMultiplexer struct {
	epfd   int
	wakeFd int

	mu      sync.Mutex // guards wakeBuf and closed
	wakeBuf [8]byte
	closed  bool

	raw []unix.EpollEvent // owned by the Wait caller
}

// NewMultiplexer constructs the epoll multiplexer.
func NewMultiplexer() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	m := &epollMultiplexer{
		epfd:   epfd,
		wakeFd: wakeFd,
		raw:    make([]unix.EpollEvent, maxEpollEvents),
	}
	binary.NativeEndian.PutUint64(m.wakeBuf[:], 1)
	return m, nil
}

func toEpoll(ops Op) uint32 {
	var ev uint32
	if ops&OpRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ops&OpWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (m *epollMultiplexer) Add(fd int, ops Op) error {
	ev := unix.EpollEvent{Events: toEpoll(ops), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (m *epollMultiplexer) Modify(fd int, ops Op) error {
	ev := unix.EpollEvent{Events: toEpoll(ops), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (m *epollMultiplexer) Remove(fd int) error {
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (m *epollMultiplexer) Wait(events []Event, timeout time.Duration) (int, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}
	raw := m.raw
	if len(events) < len(raw) {
		raw = raw[:len(events)]
	}
	n, err := unix.EpollWait(m.epfd, raw, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		ev := raw[i]
		if int(ev.Fd) == m.wakeFd {
			m.drainWake()
			continue
		}
		e := Event{Fd: int(ev.Fd)}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			e.Ops |= OpRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			e.Ops |= OpWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			e.Hangup = true
		}
		events[out] = e
		out++
	}
	return out, nil
}

func (m *epollMultiplexer) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(m.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (m *epollMultiplexer) Wake() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	_, err := unix.Write(m.wakeFd, m.wakeBuf[:])
	if errors.Is(err, unix.EAGAIN) {
		// counter saturated; a wakeup is already pending
		return nil
	}
	return err
}

func (m *epollMultiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	err := unix.Close(m.wakeFd)
	if cerr := unix.Close(m.epfd); err == nil {
		err = cerr
	}
	return err
}
