// File: client/client.go
// Package client dials outgoing connections and registers them with a
// client-side dispatcher pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"
	"net"
	"time"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/connection"
	"github.com/momentics/hioload-nio/handler"
	"github.com/momentics/hioload-nio/reactor"
)

// Dialer opens stream connections and hands them to a dispatcher pool.
type Dialer struct {
	// Network defaults to "tcp".
	Network string
	// Timeout bounds connection establishment, 0 means none beyond ctx.
	Timeout time.Duration
	// Dispatchers receives every dialed connection.
	Dispatchers *reactor.DispatcherPool
	// Options apply to every dialed connection.
	Options []connection.Option
}

// Dial connects to addr and registers the connection with d.Dispatchers.
// The connect callbacks of chain have run when Dial returns.
func (d *Dialer) Dial(ctx context.Context, addr string, chain *handler.Chain, opts ...connection.Option) (*connection.NonBlocking, error) {
	if d.Dispatchers == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "client: dispatcher pool is required")
	}
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeIO, "dial", err).WithContext("addr", addr)
	}
	remote := conn.RemoteAddr()
	sock, err := connection.Detach(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	all := make([]connection.Option, 0, len(d.Options)+len(opts))
	all = append(all, d.Options...)
	all = append(all, opts...)
	return connection.New(sock, remote, chain, d.Dispatchers, all...)
}

// DialBlocking is Dial with reads that wait up to readTimeout for data.
func (d *Dialer) DialBlocking(ctx context.Context, addr string, chain *handler.Chain, readTimeout time.Duration, opts ...connection.Option) (*connection.Blocking, error) {
	nb, err := d.Dial(ctx, addr, chain, opts...)
	if err != nil {
		return nil, err
	}
	return connection.NewBlocking(nb, readTimeout), nil
}

// Dial connects to a TCP addr using dispatchers.
func Dial(ctx context.Context, addr string, chain *handler.Chain, dispatchers *reactor.DispatcherPool, opts ...connection.Option) (*connection.NonBlocking, error) {
	d := Dialer{Dispatchers: dispatchers}
	return d.Dial(ctx, addr, chain, opts...)
}

// DialBlocking connects to a TCP addr and returns a blocking connection.
func DialBlocking(ctx context.Context, addr string, chain *handler.Chain, dispatchers *reactor.DispatcherPool, readTimeout time.Duration, opts ...connection.Option) (*connection.Blocking, error) {
	d := Dialer{Dispatchers: dispatchers}
	return d.DialBlocking(ctx, addr, chain, readTimeout, opts...)
}
