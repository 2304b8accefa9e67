// File: client/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool keeps reusable non-blocking connections per remote address. Dialing
// for an address goes through that address's circuit breaker.

package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/connection"
	"github.com/momentics/hioload-nio/handler"
	"github.com/momentics/hioload-nio/internal/logger"
)

const defaultMaxPerAddr = 8

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Dialer opens new connections. Dialer.Dispatchers is required.
	Dialer Dialer
	// Chain handles every pooled connection.
	Chain *handler.Chain
	// MaxPerAddr bounds the connections per address. Default 8.
	MaxPerAddr int32
	// Breaker enables a circuit breaker per address when set. Name is
	// replaced by the address.
	Breaker *gobreaker.Settings
	Logger  logger.LLogger
}

// AddrStats is a snapshot of one address pool.
type AddrStats struct {
	Addr              string
	Total             int32
	Idle              int32
	Acquired          int32
	AcquireCount      int64
	EmptyAcquireCount int64
	Created           int64
	Destroyed         int64
	BreakerState      gobreaker.State
	BreakerCounts     gobreaker.Counts
}

// Pool hands out connections per address.
type Pool struct {
	cfg PoolConfig
	log logger.LLogger

	mu     sync.Mutex
	addrs  map[string]*addrPool
	closed bool
}

type addrPool struct {
	addr      string
	pool      *puddle.Pool[*connection.NonBlocking]
	breaker   *gobreaker.CircuitBreaker[*connection.NonBlocking]
	created   atomic.Int64
	destroyed atomic.Int64
}

// Lease is an acquired connection. Exactly one of Release or Destroy must be
// called.
type Lease struct {
	res *puddle.Resource[*connection.NonBlocking]
}

// NewPool validates cfg and returns an empty pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Dialer.Dispatchers == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "client pool: dispatcher pool is required")
	}
	if cfg.MaxPerAddr <= 0 {
		cfg.MaxPerAddr = defaultMaxPerAddr
	}
	if cfg.Chain == nil {
		cfg.Chain = handler.NewChain()
	}
	return &Pool{
		cfg:   cfg,
		log:   logger.OrDefault(cfg.Logger),
		addrs: make(map[string]*addrPool),
	}, nil
}

func (p *Pool) get(addr string) (*addrPool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, api.NewError(api.ErrCodeClosed, "client pool closed")
	}
	if ap, ok := p.addrs[addr]; ok {
		return ap, nil
	}
	ap := &addrPool{addr: addr}
	if p.cfg.Breaker != nil {
		st := *p.cfg.Breaker
		st.Name = addr
		if st.OnStateChange == nil {
			st.OnStateChange = func(name string, from, to gobreaker.State) {
				p.log.Warn("[ClientPool] breaker %s: %s -> %s", name, from, to)
			}
		}
		ap.breaker = gobreaker.NewCircuitBreaker[*connection.NonBlocking](st)
	}
	pool, err := puddle.NewPool(&puddle.Config[*connection.NonBlocking]{
		Constructor: func(ctx context.Context) (*connection.NonBlocking, error) {
			c, err := p.dial(ctx, ap)
			if err == nil {
				ap.created.Add(1)
			}
			return c, err
		},
		Destructor: func(c *connection.NonBlocking) {
			ap.destroyed.Add(1)
			_ = c.Close()
		},
		MaxSize: p.cfg.MaxPerAddr,
	})
	if err != nil {
		return nil, err
	}
	ap.pool = pool
	p.addrs[addr] = ap
	return ap, nil
}

func (p *Pool) dial(ctx context.Context, ap *addrPool) (*connection.NonBlocking, error) {
	dial := func() (*connection.NonBlocking, error) {
		c, err := p.cfg.Dialer.Dial(ctx, ap.addr, p.cfg.Chain)
		if err != nil {
			return nil, err
		}
		if !c.IsOpen() {
			return nil, api.NewError(api.ErrCodeClosed, "connection closed during connect").
				WithContext("addr", ap.addr)
		}
		return c, nil
	}
	if ap.breaker == nil {
		return dial()
	}
	return ap.breaker.Execute(dial)
}

// Acquire returns an open connection to addr, dialing when no idle one is
// available. Idle connections closed by the peer are destroyed on the way.
func (p *Pool) Acquire(ctx context.Context, addr string) (*Lease, error) {
	ap, err := p.get(addr)
	if err != nil {
		return nil, err
	}
	for {
		res, err := ap.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if res.Value().IsOpen() {
			return &Lease{res: res}, nil
		}
		res.Destroy()
	}
}

// ReapIdle destroys idle connections unused for longer than maxIdle or
// already closed. It returns the number destroyed.
func (p *Pool) ReapIdle(maxIdle time.Duration) int {
	p.mu.Lock()
	aps := make([]*addrPool, 0, len(p.addrs))
	for _, ap := range p.addrs {
		aps = append(aps, ap)
	}
	p.mu.Unlock()

	reaped := 0
	for _, ap := range aps {
		for _, res := range ap.pool.AcquireAllIdle() {
			if !res.Value().IsOpen() || res.IdleDuration() > maxIdle {
				res.Destroy()
				reaped++
				continue
			}
			res.ReleaseUnused()
		}
	}
	return reaped
}

// Stats returns a snapshot per address.
func (p *Pool) Stats() map[string]AddrStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]AddrStats, len(p.addrs))
	for addr, ap := range p.addrs {
		s := ap.pool.Stat()
		st := AddrStats{
			Addr:              addr,
			Total:             s.TotalResources(),
			Idle:              s.IdleResources(),
			Acquired:          s.AcquiredResources(),
			AcquireCount:      s.AcquireCount(),
			EmptyAcquireCount: s.EmptyAcquireCount(),
			Created:           ap.created.Load(),
			Destroyed:         ap.destroyed.Load(),
		}
		if ap.breaker != nil {
			st.BreakerState = ap.breaker.State()
			st.BreakerCounts = ap.breaker.Counts()
		}
		out[addr] = st
	}
	return out
}

// Close closes idle connections and waits until leased ones are returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	aps := make([]*addrPool, 0, len(p.addrs))
	for _, ap := range p.addrs {
		aps = append(aps, ap)
	}
	p.mu.Unlock()
	for _, ap := range aps {
		ap.pool.Close()
	}
}

// Conn returns the leased connection.
func (l *Lease) Conn() *connection.NonBlocking { return l.res.Value() }

// Release returns the connection to the pool, or destroys it when closed.
func (l *Lease) Release() {
	if !l.res.Value().IsOpen() {
		l.res.Destroy()
		return
	}
	l.res.Release()
}

// Destroy closes the connection and removes it from the pool.
func (l *Lease) Destroy() { l.res.Destroy() }
