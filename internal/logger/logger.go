// File: internal/logger/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Leveled logger shared by the reactor components, backed by bilog.

package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/zbh255/bilog"
)

const (
	OpenLogger  int64 = 1 << 10
	CloseLogger int64 = 1 << 11
)

// LLogger is the logging surface every component accepts.
type LLogger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// DefaultLogger is used by components constructed without an explicit logger.
var DefaultLogger LLogger

type LLoggerImpl struct {
	loggerOpen int64
	logging    bilog.Logger
}

// New wraps a bilog.Logger.
func New(l bilog.Logger) LLogger {
	return &LLoggerImpl{logging: l, loggerOpen: OpenLogger}
}

func (c *LLoggerImpl) Debug(format string, v ...interface{}) {
	if !c.ReadLoggerStatus() {
		return
	}
	c.logging.Debug(fmt.Sprintf(format, v...))
}

func (c *LLoggerImpl) Info(format string, v ...interface{}) {
	if !c.ReadLoggerStatus() {
		return
	}
	c.logging.Info(fmt.Sprintf(format, v...))
}

func (c *LLoggerImpl) Warn(format string, v ...interface{}) {
	if !c.ReadLoggerStatus() {
		return
	}
	c.logging.Trace(fmt.Sprintf(format, v...))
}

func (c *LLoggerImpl) Error(format string, v ...interface{}) {
	if !c.ReadLoggerStatus() {
		return
	}
	c.logging.ErrorFromString(fmt.Sprintf(format, v...))
}

func (c *LLoggerImpl) ReadLoggerStatus() bool {
	return atomic.LoadInt64(&c.loggerOpen) == OpenLogger
}

// SetOpenLogger switches the default logger on or off.
func SetOpenLogger(ok bool) {
	logger, typeOk := DefaultLogger.(*LLoggerImpl)
	if !typeOk {
		return
	}
	if ok {
		atomic.StoreInt64(&logger.loggerOpen, OpenLogger)
	} else {
		atomic.StoreInt64(&logger.loggerOpen, CloseLogger)
	}
}

// OrDefault returns l, or DefaultLogger when l is nil.
func OrDefault(l LLogger) LLogger {
	if l == nil {
		return DefaultLogger
	}
	return l
}

// NilLogger discards everything.
type NilLogger struct{}

func (NilLogger) Debug(format string, v ...interface{}) {}
func (NilLogger) Info(format string, v ...interface{})  {}
func (NilLogger) Warn(format string, v ...interface{})  {}
func (NilLogger) Error(format string, v ...interface{}) {}

func init() {
	bilogLogger := bilog.NewLogger(
		os.Stdout, bilog.PANIC,
		bilog.WithTimes(),
		bilog.WithCaller(1),
		bilog.WithLowBuffer(0),
		bilog.WithTopBuffer(0),
	)
	DefaultLogger = &LLoggerImpl{
		logging:    bilogLogger,
		loggerOpen: OpenLogger,
	}
}
