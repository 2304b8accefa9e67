// File: adapters/handler_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Pass-through handlers for a handler chain: they observe every event and
// never report it handled, so the application handlers behind them run.

package adapters

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/logger"
)

// LoggingHandler logs connection lifecycle events.
type LoggingHandler struct {
	log logger.LLogger
}

// NewLoggingHandler returns a handler logging at debug level.
func NewLoggingHandler(l logger.LLogger) *LoggingHandler {
	return &LoggingHandler{log: logger.OrDefault(l)}
}

func (h *LoggingHandler) OnConnect(conn api.Connection) (bool, error) {
	h.log.Debug("[Handler] connect %s from %v", conn.ID(), conn.RemoteAddr())
	return false, nil
}

func (h *LoggingHandler) OnData(conn api.Connection) (bool, error) {
	h.log.Debug("[Handler] data %s available=%d", conn.ID(), conn.Available())
	return false, nil
}

func (h *LoggingHandler) OnDisconnect(conn api.Connection) (bool, error) {
	h.log.Debug("[Handler] disconnect %s", conn.ID())
	return false, nil
}

func (h *LoggingHandler) OnIdleTimeout(conn api.Connection) (bool, error) {
	h.log.Info("[Handler] idle timeout %s", conn.ID())
	return false, nil
}

func (h *LoggingHandler) OnConnectionTimeout(conn api.Connection) (bool, error) {
	h.log.Info("[Handler] connection timeout %s", conn.ID())
	return false, nil
}

// MetricsHandler counts events as "handler.<event>" metrics.
type MetricsHandler struct {
	control api.Control
}

// NewMetricsHandler returns a handler feeding ctrl.
func NewMetricsHandler(ctrl api.Control) *MetricsHandler {
	return &MetricsHandler{control: ctrl}
}

func (h *MetricsHandler) OnConnect(api.Connection) (bool, error) {
	h.control.AddMetric("handler.connect", 1)
	h.control.AddMetric("handler.open_connections", 1)
	return false, nil
}

func (h *MetricsHandler) OnData(api.Connection) (bool, error) {
	h.control.AddMetric("handler.data", 1)
	return false, nil
}

func (h *MetricsHandler) OnDisconnect(api.Connection) (bool, error) {
	h.control.AddMetric("handler.disconnect", 1)
	h.control.AddMetric("handler.open_connections", -1)
	return false, nil
}

func (h *MetricsHandler) OnIdleTimeout(api.Connection) (bool, error) {
	h.control.AddMetric("handler.idle_timeout", 1)
	return false, nil
}

func (h *MetricsHandler) OnConnectionTimeout(api.Connection) (bool, error) {
	h.control.AddMetric("handler.connection_timeout", 1)
	return false, nil
}
