// File: connection/nonblocking.go
// Package connection binds sockets to dispatchers, the timeout watchdog and
// a handler chain.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A NonBlocking connection is registered with exactly one dispatcher for its
// whole life. The dispatcher goroutine reads into the receive queue and
// drains the send queue; handler callbacks run through the connection's
// serialized task queue, either inline or on the worker pool.

package connection

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/core/buffer"
	"github.com/momentics/hioload-nio/core/concurrency"
	"github.com/momentics/hioload-nio/core/watchdog"
	"github.com/momentics/hioload-nio/handler"
	"github.com/momentics/hioload-nio/internal/logger"
	"github.com/momentics/hioload-nio/reactor"
)

const (
	maxCachedIndexes = 16
	maxWriteVector   = 64
)

var (
	idPrefix = strconv.FormatInt(time.Now().UnixNano()&0xffffffff, 16)
	idSeq    atomic.Uint64
)

// bufferWriter is implemented by sockets that can write several chunks at once.
type bufferWriter interface {
	WriteBuffers(bufs [][]byte) (int, error)
}

// NonBlocking is a connection driven by a dispatcher.
type NonBlocking struct {
	id     string
	sock   Socket
	remote net.Addr
	chain  *handler.Chain
	execs  [handler.EventConnectionTimeout + 1]handler.Execution
	opts   options
	log    logger.LLogger

	handle *reactor.Handle
	reg    *watchdog.Registration
	tasks  *concurrency.SerializedTaskQueue

	readMu  sync.Mutex
	readQ   *buffer.Queue
	indexes map[string]*buffer.Index
	marked  bool
	mark    [][]byte // consumed since MarkReadPosition

	suspended atomic.Bool // SuspendReceiving
	throttled atomic.Bool // receive queue reached the threshold

	writeMu sync.Mutex
	writeQ  *buffer.Queue

	open      atomic.Bool
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	arrived   chan struct{}

	attachment  atomic.Value
	idleTimeout atomic.Int64
	connTimeout atomic.Int64
	received    atomic.Int64
	sent        atomic.Int64
}

// New registers sock with a dispatcher taken from dispatchers and runs the
// connect callbacks of chain. The connection owns sock from now on; it is
// closed on every error path.
func New(sock Socket, remote net.Addr, chain *handler.Chain, dispatchers *reactor.DispatcherPool, opts ...Option) (*NonBlocking, error) {
	if sock == nil || dispatchers == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "connection: socket and dispatcher pool are required")
	}
	if chain == nil {
		chain = handler.NewChain()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &NonBlocking{
		id:      idPrefix + "c" + strconv.FormatUint(idSeq.Add(1), 10),
		sock:    sock,
		remote:  remote,
		chain:   chain.Instance(),
		opts:    o,
		log:     o.log,
		tasks:   concurrency.NewSerializedTaskQueue(o.log),
		readQ:   buffer.NewQueue(),
		indexes: make(map[string]*buffer.Index),
		writeQ:  buffer.NewQueue(),
		closed:  make(chan struct{}),
		arrived: make(chan struct{}, 1),
	}
	for e := range c.execs {
		c.execs[e] = c.chain.ExecutionOf(handler.Event(e))
	}
	c.handle = reactor.NewHandle(sock, c)

	d, err := dispatchers.NextDispatcher()
	if err != nil {
		_ = sock.Close()
		return nil, err
	}

	c.open.Store(true)
	c.idleTimeout.Store(int64(o.idleTimeout))
	c.connTimeout.Store(int64(o.connectionTimeout))
	if o.watchdog != nil {
		c.reg = watchdog.Watch(o.watchdog, c)
		if o.idleTimeout > 0 {
			c.reg.SetIdleTimeout(o.idleTimeout)
		}
		if o.connectionTimeout > 0 {
			c.reg.SetConnectionTimeout(o.connectionTimeout)
		}
	}

	// data callbacks queue behind the connect callback
	c.perform(handler.EventConnect, c.onConnect)

	if err := d.Register(c.handle, reactor.OpRead); err != nil {
		d.CancelPreRegister()
		closedByHandler := !c.IsOpen()
		_ = c.Close()
		if closedByHandler {
			return c, nil
		}
		return nil, err
	}
	if !c.IsOpen() {
		d.Deregister(c.handle)
		return c, nil
	}

	c.writeMu.Lock()
	err = c.syncInterestLocked()
	c.writeMu.Unlock()
	if err != nil {
		c.log.Debug("[Connection %s] initial interest update: %v", c.id, err)
	}
	c.log.Debug("[Connection %s] registered on %s", c.id, d.Name())
	return c, nil
}

// ID implements api.Connection.
func (c *NonBlocking) ID() string { return c.id }

// RemoteAddr implements api.Connection.
func (c *NonBlocking) RemoteAddr() net.Addr { return c.remote }

// IsOpen implements api.Connection and watchdog.Target.
func (c *NonBlocking) IsOpen() bool { return c.open.Load() }

// Dispatcher returns the owning dispatcher.
func (c *NonBlocking) Dispatcher() *reactor.Dispatcher { return c.handle.Dispatcher() }

// Handle returns the dispatcher handle.
func (c *NonBlocking) Handle() *reactor.Handle { return c.handle }

// Chain returns the handler chain instance of this connection.
func (c *NonBlocking) Chain() *handler.Chain { return c.chain }

// Attachment implements api.Connection.
func (c *NonBlocking) Attachment() any {
	if p, ok := c.attachment.Load().(*any); ok {
		return *p
	}
	return nil
}

// SetAttachment implements api.Connection.
func (c *NonBlocking) SetAttachment(v any) { c.attachment.Store(&v) }

// SetIdleTimeout implements api.Connection. Without a watchdog the value is
// only recorded.
func (c *NonBlocking) SetIdleTimeout(d time.Duration) {
	c.idleTimeout.Store(int64(d))
	if c.reg != nil {
		c.reg.SetIdleTimeout(d)
	}
}

// SetConnectionTimeout implements api.Connection.
func (c *NonBlocking) SetConnectionTimeout(d time.Duration) {
	c.connTimeout.Store(int64(d))
	if c.reg != nil {
		c.reg.SetConnectionTimeout(d)
	}
}

// IdleTimeout returns the idle timeout, zero when disabled.
func (c *NonBlocking) IdleTimeout() time.Duration { return time.Duration(c.idleTimeout.Load()) }

// ConnectionTimeout returns the connection timeout, zero when disabled.
func (c *NonBlocking) ConnectionTimeout() time.Duration { return time.Duration(c.connTimeout.Load()) }

// ReceivedBytes returns the number of bytes read from the socket.
func (c *NonBlocking) ReceivedBytes() int64 { return c.received.Load() }

// SentBytes returns the number of bytes written to the socket.
func (c *NonBlocking) SentBytes() int64 { return c.sent.Load() }

// PendingWrite returns the number of queued, unsent bytes.
func (c *NonBlocking) PendingWrite() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeQ.Size()
}

func (c *NonBlocking) String() string {
	return fmt.Sprintf("%s(remote=%v open=%t)", c.id, c.remote, c.IsOpen())
}

// perform runs task in the execution mode the chain asks for event e.
func (c *NonBlocking) perform(e handler.Event, task func()) {
	if c.execs[e] == handler.Multithreaded {
		c.tasks.PerformMultiThreaded(task, c.opts.executor)
		return
	}
	c.tasks.PerformNonThreaded(task)
}

// callHandler dispatches e and closes the connection on a handler fault.
func (c *NonBlocking) callHandler(e handler.Event) (handled bool, err error) {
	handled, err = c.chain.Dispatch(e, c)
	if err != nil && !errors.Is(err, api.ErrBufferUnderflow) {
		c.log.Warn("[Connection %s] %s: %v", c.id, e, err)
		_ = c.Close()
	}
	return handled, err
}

func (c *NonBlocking) onConnect() {
	_, _ = c.callHandler(handler.EventConnect)
}

// onData calls the data handlers as long as they make progress.
func (c *NonBlocking) onData() {
	for {
		before := c.Available()
		if before == 0 {
			return
		}
		if _, err := c.callHandler(handler.EventData); err != nil {
			return
		}
		if c.Available() >= before {
			return
		}
	}
}

func (c *NonBlocking) onDisconnect() {
	_, _ = c.callHandler(handler.EventDisconnect)
}

// OnIdleTimeout implements watchdog.Target. The handlers run through the
// task queue; the connection closes itself when none of them handled it.
func (c *NonBlocking) OnIdleTimeout() bool {
	c.perform(handler.EventIdleTimeout, func() {
		if handled, _ := c.callHandler(handler.EventIdleTimeout); !handled {
			_ = c.Close()
		}
	})
	return true
}

// OnConnectionTimeout implements watchdog.Target.
func (c *NonBlocking) OnConnectionTimeout() bool {
	c.perform(handler.EventConnectionTimeout, func() {
		if handled, _ := c.callHandler(handler.EventConnectionTimeout); !handled {
			_ = c.Close()
		}
	})
	return true
}

// OnReadable implements reactor.EventHandler.
func (c *NonBlocking) OnReadable(h *reactor.Handle) error {
	d := h.Dispatcher()
	rb := d.ReadBuffer()

	received, eof, throttled := 0, false, false
	for i := 0; i < c.opts.maxReadsPerEvent && !throttled; i++ {
		buf := rb.Acquire()
		n, err := c.sock.Read(buf)
		chunk := rb.Extract(buf, n)
		if n > 0 {
			received += n
			hit, aerr := c.appendReceived(chunk)
			if aerr != nil {
				return aerr
			}
			throttled = hit
		}
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			return api.WrapError(api.ErrCodeIO, "read", err).WithContext("conn", c.id)
		}
		if n < len(buf) {
			break
		}
	}

	if throttled {
		c.log.Debug("[Connection %s] receive queue reached %d bytes, reads suspended", c.id, c.opts.maxReadBuffer)
		if err := c.updateInterest(); err != nil {
			c.log.Debug("[Connection %s] suspend reads: %v", c.id, err)
		}
	}
	if received > 0 {
		d.AddReceived(received)
		c.received.Add(int64(received))
		c.touch()
		c.signalArrival()
		c.perform(handler.EventData, c.onData)
	}
	if eof {
		c.log.Debug("[Connection %s] peer closed", c.id)
		_ = c.Close()
	}
	return nil
}

// appendReceived queues chunk and reports whether the receive queue just
// reached the read buffer threshold.
func (c *NonBlocking) appendReceived(chunk []byte) (bool, error) {
	if c.opts.codec != nil {
		plain, err := c.opts.codec.Decode(chunk)
		if err != nil {
			return false, api.WrapError(api.ErrCodeIO, "decode", err).WithContext("conn", c.id)
		}
		chunk = plain
	}
	if len(chunk) == 0 {
		return false, nil
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.readQ.Append(chunk)
	return c.throttleLocked(), nil
}

func (c *NonBlocking) throttleLocked() bool {
	limit := c.opts.maxReadBuffer
	return limit > 0 && c.readQ.Size() >= limit && c.throttled.CompareAndSwap(false, true)
}

// releaseThrottle asks for read readiness again once the application has
// consumed the receive queue below the threshold. Callers must not hold
// readMu.
func (c *NonBlocking) releaseThrottle() {
	if !c.throttled.Load() {
		return
	}
	c.readMu.Lock()
	released := c.readQ.Size() < c.opts.maxReadBuffer && c.throttled.CompareAndSwap(true, false)
	c.readMu.Unlock()
	if released {
		if err := c.updateInterest(); err != nil {
			c.log.Debug("[Connection %s] resume reads: %v", c.id, err)
		}
	}
}

// SuspendReceiving stops reading from the socket. Data already queued
// stays readable.
func (c *NonBlocking) SuspendReceiving() error {
	if !c.IsOpen() {
		return c.closedError("suspend receiving")
	}
	c.suspended.Store(true)
	return c.updateInterest()
}

// ResumeReceiving undoes SuspendReceiving. Reads stay off while the
// receive queue is over the read buffer threshold.
func (c *NonBlocking) ResumeReceiving() error {
	if !c.IsOpen() {
		return c.closedError("resume receiving")
	}
	c.suspended.Store(false)
	return c.updateInterest()
}

// IsReceivingSuspended reports whether SuspendReceiving is in effect.
func (c *NonBlocking) IsReceivingSuspended() bool { return c.suspended.Load() }

// MaxReadBufferThreshold returns the receive queue size at which reads
// pause, zero when unlimited.
func (c *NonBlocking) MaxReadBufferThreshold() int { return c.opts.maxReadBuffer }

// OnWritable implements reactor.EventHandler.
func (c *NonBlocking) OnWritable(h *reactor.Handle) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writePendingLocked(); err != nil {
		return api.WrapError(api.ErrCodeIO, "write", err).WithContext("conn", c.id)
	}
	return c.syncInterestLocked()
}

// OnDispatcherClosing implements reactor.EventHandler.
func (c *NonBlocking) OnDispatcherClosing(*reactor.Handle) {
	_ = c.Close()
}

// OnError implements reactor.EventHandler.
func (c *NonBlocking) OnError(_ *reactor.Handle, err error) {
	c.log.Debug("[Connection %s] closed by dispatcher: %v", c.id, err)
	_ = c.Close()
}

func (c *NonBlocking) touch() {
	if c.reg != nil {
		c.reg.Touch()
	}
}

func (c *NonBlocking) signalArrival() {
	select {
	case c.arrived <- struct{}{}:
	default:
	}
}

// Available implements api.Connection.
func (c *NonBlocking) Available() int {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.readQ.Size()
}

// index returns the cached scan state for delim.
func (c *NonBlocking) index(delim []byte) *buffer.Index {
	key := string(delim)
	if idx, ok := c.indexes[key]; ok {
		return idx
	}
	if len(c.indexes) >= maxCachedIndexes {
		clear(c.indexes)
	}
	idx := buffer.NewIndex(delim)
	c.indexes[key] = idx
	return idx
}

// consumedLocked invalidates the scan state of every delimiter but keep
// after chunks, followed by delim, left the receive queue. A read mark
// keeps them for ResetToReadMark.
func (c *NonBlocking) consumedLocked(keep *buffer.Index, chunks [][]byte, delim []byte) {
	for _, idx := range c.indexes {
		if idx != keep {
			idx.Reset()
		}
	}
	if c.marked {
		c.mark = append(c.mark, chunks...)
		if len(delim) > 0 {
			c.mark = append(c.mark, bytes.Clone(delim))
		}
	}
}

// MarkReadPosition remembers the current read position. Bytes consumed
// from now on can be pushed back with ResetToReadMark.
func (c *NonBlocking) MarkReadPosition() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.marked = true
	c.mark = nil
}

// ResetToReadMark puts everything consumed since MarkReadPosition back in
// front of the receive queue and removes the mark. It reports false when
// no mark is set.
func (c *NonBlocking) ResetToReadMark() bool {
	c.readMu.Lock()
	if !c.marked {
		c.readMu.Unlock()
		return false
	}
	c.readQ.AppendFirst(c.mark...)
	c.marked, c.mark = false, nil
	c.consumedLocked(nil, nil, nil)
	throttled := c.throttleLocked()
	c.readMu.Unlock()
	if throttled {
		if err := c.updateInterest(); err != nil {
			c.log.Debug("[Connection %s] suspend reads: %v", c.id, err)
		}
	}
	return true
}

// RemoveReadMark drops the read mark, if any.
func (c *NonBlocking) RemoveReadMark() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.marked, c.mark = false, nil
}

// ReadBytesByDelimiter implements api.Connection.
func (c *NonBlocking) ReadBytesByDelimiter(delim []byte, maxLen int) ([]byte, error) {
	if len(delim) == 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "empty delimiter")
	}
	defer c.releaseThrottle()
	c.readMu.Lock()
	defer c.readMu.Unlock()
	idx, err := buffer.FindMax(c.readQ, delim, c.index(delim), maxLen)
	if err != nil {
		return nil, err
	}
	if !idx.Found() {
		return nil, api.ErrBufferUnderflow
	}
	chunks, err := buffer.Extract(c.readQ, idx)
	if err != nil {
		return nil, err
	}
	c.consumedLocked(idx, chunks, delim)
	return buffer.Join(chunks), nil
}

// ReadStringByDelimiter implements api.Connection.
func (c *NonBlocking) ReadStringByDelimiter(delim string, maxLen int) (string, error) {
	b, err := c.ReadBytesByDelimiter([]byte(delim), maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadAvailableByDelimiter implements api.Connection.
func (c *NonBlocking) ReadAvailableByDelimiter(delim []byte) ([]byte, bool, error) {
	if len(delim) == 0 {
		return nil, false, api.NewError(api.ErrCodeInvalidArgument, "empty delimiter")
	}
	defer c.releaseThrottle()
	c.readMu.Lock()
	defer c.readMu.Unlock()
	idx, err := buffer.FindMax(c.readQ, delim, c.index(delim), 0)
	if err != nil {
		return nil, false, err
	}
	if idx.Found() {
		chunks, err := buffer.Extract(c.readQ, idx)
		if err != nil {
			return nil, false, err
		}
		c.consumedLocked(idx, chunks, delim)
		return buffer.Join(chunks), true, nil
	}
	chunks := buffer.ExtractAvailable(c.readQ, idx)
	if len(chunks) == 0 {
		return nil, false, api.ErrBufferUnderflow
	}
	c.consumedLocked(idx, chunks, nil)
	return buffer.Join(chunks), false, nil
}

// ReadBytesByLength implements api.Connection.
func (c *NonBlocking) ReadBytesByLength(n int) ([]byte, error) {
	defer c.releaseThrottle()
	c.readMu.Lock()
	defer c.readMu.Unlock()
	chunks, err := buffer.ExtractN(c.readQ, n)
	if err != nil {
		return nil, err
	}
	c.consumedLocked(nil, chunks, nil)
	return buffer.Join(chunks), nil
}

// ReadAvailable implements api.Connection.
func (c *NonBlocking) ReadAvailable() ([]byte, error) {
	defer c.releaseThrottle()
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.readQ.IsEmpty() {
		return nil, api.ErrBufferUnderflow
	}
	chunks := c.readQ.Drain()
	c.consumedLocked(nil, chunks, nil)
	return buffer.Join(chunks), nil
}

func (c *NonBlocking) closedError(op string) error {
	return fmt.Errorf("%s on connection %s: %w", op, c.id, api.ErrClosed)
}

// Write implements api.Connection. p is copied; with auto flush enabled the
// data is handed to the socket before Write returns.
func (c *NonBlocking) Write(p []byte) (int, error) {
	if !c.IsOpen() {
		return 0, c.closedError("write")
	}
	if len(p) == 0 {
		return 0, nil
	}
	var out []byte
	if c.opts.codec != nil {
		enc, err := c.opts.codec.Encode(p)
		if err != nil {
			return 0, api.WrapError(api.ErrCodeIO, "encode", err).WithContext("conn", c.id)
		}
		out = enc
	} else {
		out = append([]byte(nil), p...)
	}

	c.writeMu.Lock()
	if !c.IsOpen() {
		c.writeMu.Unlock()
		return 0, c.closedError("write")
	}
	c.writeQ.Append(out)
	c.writeMu.Unlock()

	if c.opts.autoFlush {
		if err := c.Flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// WriteString implements api.Connection.
func (c *NonBlocking) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// Flush implements api.Connection. Whatever the socket does not accept now
// is written by the dispatcher once the socket becomes writable.
func (c *NonBlocking) Flush() error {
	c.writeMu.Lock()
	if !c.IsOpen() {
		c.writeMu.Unlock()
		return c.closedError("flush")
	}
	err := c.writePendingLocked()
	if err == nil {
		err = c.syncInterestLocked()
		c.writeMu.Unlock()
		return err
	}
	c.writeMu.Unlock()

	_ = c.Close()
	return api.WrapError(api.ErrCodeIO, "flush", err).WithContext("conn", c.id)
}

// writePendingLocked writes queued chunks until the socket stops accepting.
func (c *NonBlocking) writePendingLocked() error {
	bw, vectored := c.sock.(bufferWriter)
	total := 0
	defer func() {
		if total > 0 {
			c.sent.Add(int64(total))
			if d := c.handle.Dispatcher(); d != nil {
				d.AddSent(total)
			}
			c.touch()
		}
	}()

	for !c.writeQ.IsEmpty() {
		var (
			n, want int
			err     error
		)
		if vectored && c.writeQ.Len() > 1 {
			bufs := make([][]byte, 0, min(c.writeQ.Len(), maxWriteVector))
			for i := 0; i < cap(bufs); i++ {
				bufs = append(bufs, c.writeQ.Chunk(i))
				want += len(bufs[i])
			}
			n, err = bw.WriteBuffers(bufs)
		} else {
			chunk := c.writeQ.Chunk(0)
			want = len(chunk)
			n, err = c.sock.Write(chunk)
		}
		if n > 0 {
			c.writeQ.Discard(n)
			total += n
		}
		if err != nil {
			return err
		}
		if n < want {
			return nil
		}
	}
	return nil
}

func (c *NonBlocking) updateInterest() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.syncInterestLocked()
}

// syncInterestLocked asks for read readiness unless receiving is suspended
// or throttled, and for write readiness while data is pending.
func (c *NonBlocking) syncInterestLocked() error {
	d := c.handle.Dispatcher()
	if d == nil || !c.handle.IsValid() {
		return nil
	}
	var ops reactor.Op
	if !c.suspended.Load() && !c.throttled.Load() {
		ops = reactor.OpRead
	}
	if !c.writeQ.IsEmpty() {
		ops |= reactor.OpWrite
	}
	err := d.UpdateInterestSet(c.handle, ops)
	if err != nil && !c.IsOpen() {
		return nil
	}
	return err
}

// Close implements api.Connection and watchdog.Target. Pending writes get
// one last attempt; the disconnect callbacks run once.
func (c *NonBlocking) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		if c.handle.IsValid() && !c.writeQ.IsEmpty() {
			if err := c.writePendingLocked(); err != nil {
				c.log.Debug("[Connection %s] flush on close: %v", c.id, err)
			}
		}
		c.open.Store(false)
		c.writeMu.Unlock()

		if c.reg != nil {
			c.reg.Cancel()
		}
		if d := c.handle.Dispatcher(); d != nil {
			d.Deregister(c.handle)
		}
		c.closeErr = c.handle.Close()
		close(c.closed)
		c.log.Debug("[Connection %s] closed", c.id)

		c.perform(handler.EventDisconnect, c.onDisconnect)
	})
	return c.closeErr
}

var (
	_ api.Connection       = (*NonBlocking)(nil)
	_ reactor.EventHandler = (*NonBlocking)(nil)
	_ watchdog.Target      = (*NonBlocking)(nil)
)
