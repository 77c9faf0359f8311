package autoreplica

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned when acquiring from a disconnected pool
var ErrPoolClosed = errors.New("autoreplica: replica pool is closed")

// PoolTimeoutError is returned by ReplicaPool.Acquire when every connection
// slot stays busy for the whole checkout timeout
type PoolTimeoutError struct {
	Timeout time.Duration
}

func (e PoolTimeoutError) Error() string {
	return fmt.Sprintf("autoreplica: replica pool exhausted: no connection available within %s", e.Timeout)
}

const (
	defaultMaxOpen         = 5
	defaultCheckoutTimeout = 5 * time.Second
)

type poolConfig struct {
	maxOpen         int
	checkoutTimeout time.Duration
	log             *zap.Logger
}

// PoolOption is a configuration option for a ReplicaPool
type PoolOption func(*poolConfig)

// WithMaxOpen caps the number of replica connections the pool will hold open
func WithMaxOpen(n int) PoolOption {
	return func(cfg *poolConfig) {
		cfg.maxOpen = n
	}
}

// WithCheckoutTimeout bounds how long Acquire waits for a free connection slot
func WithCheckoutTimeout(d time.Duration) PoolOption {
	return func(cfg *poolConfig) {
		cfg.checkoutTimeout = d
	}
}

// WithPoolLogger sets the logger used for pool lifecycle events
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(cfg *poolConfig) {
		cfg.log = l
	}
}

// ReplicaPool hands out and reclaims replica connections opened through a
// delegate "database/sql/driver".Driver. Checkout is bounded: at most
// maxOpen connections exist at a time and Acquire waits up to the checkout
// timeout for a slot before failing with PoolTimeoutError.
type ReplicaPool struct {
	id  string
	drv driver.Driver
	dsn string

	maxOpen         int
	checkoutTimeout time.Duration
	log             *zap.Logger

	// slots holds one token per permitted open connection; a token is
	// held for the whole time a connection is checked out.
	slots chan struct{}

	mu     sync.Mutex
	idle   []driver.Conn
	closed bool
}

// NewPool builds a replica pool over a delegate driver and DSN
func NewPool(drv driver.Driver, dsn string, opts ...PoolOption) *ReplicaPool {
	cfg := poolConfig{
		maxOpen:         defaultMaxOpen,
		checkoutTimeout: defaultCheckoutTimeout,
		log:             zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxOpen <= 0 {
		cfg.maxOpen = defaultMaxOpen
	}
	if cfg.checkoutTimeout <= 0 {
		cfg.checkoutTimeout = defaultCheckoutTimeout
	}

	p := &ReplicaPool{
		id:              uuid.NewString(),
		drv:             drv,
		dsn:             dsn,
		maxOpen:         cfg.maxOpen,
		checkoutTimeout: cfg.checkoutTimeout,
		log:             cfg.log,
		slots:           make(chan struct{}, cfg.maxOpen),
	}
	for i := 0; i < cfg.maxOpen; i++ {
		p.slots <- struct{}{}
	}

	p.log.Debug("replica pool created",
		zap.String("pool", p.id),
		zap.String("dsn", sanitizeDSN(dsn)),
		zap.Int("max_open", p.maxOpen),
		zap.Duration("checkout_timeout", p.checkoutTimeout))
	return p
}

// NewReplicaPool resolves spec through the adapter registry and builds a
// pool for it. Pool size and checkout timeout from the spec apply first;
// explicit options override them.
func NewReplicaPool(spec *Spec, opts ...PoolOption) (*ReplicaPool, error) {
	drv, dsn, err := spec.resolve()
	if err != nil {
		return nil, err
	}

	var all []PoolOption
	if spec.MaxPoolSize > 0 {
		all = append(all, WithMaxOpen(spec.MaxPoolSize))
	}
	if spec.CheckoutTimeout > 0 {
		all = append(all, WithCheckoutTimeout(spec.CheckoutTimeout))
	}
	all = append(all, opts...)
	return NewPool(drv, dsn, all...), nil
}

// Acquire checks a connection out of the pool, reusing an idle connection
// when one exists and opening a new delegate connection otherwise. It
// blocks for a free slot up to the checkout timeout, honouring ctx
// cancellation, and fails with PoolTimeoutError on exhaustion.
func (p *ReplicaPool) Acquire(ctx context.Context) (driver.Conn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.checkoutTimeout)
	defer timer.Stop()
	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, PoolTimeoutError{Timeout: p.checkoutTimeout}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots <- struct{}{}
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.open(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	p.log.Debug("opened replica connection", zap.String("pool", p.id))
	return c, nil
}

func (p *ReplicaPool) open(ctx context.Context) (driver.Conn, error) {
	if dc, ok := p.drv.(driver.DriverContext); ok {
		connector, err := dc.OpenConnector(p.dsn)
		if err != nil {
			return nil, err
		}
		return connector.Connect(ctx)
	}
	return p.drv.Open(p.dsn)
}

// Release returns a checked-out connection to the pool. Connections
// released after Disconnect are closed instead of pooled.
func (p *ReplicaPool) Release(c driver.Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if err := c.Close(); err != nil {
			p.log.Warn("closing released replica connection", zap.String("pool", p.id), zap.Error(err))
		}
		p.slots <- struct{}{}
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
	p.slots <- struct{}{}
}

// Disconnect closes every idle connection and shuts the pool down; later
// acquires fail with ErrPoolClosed. Close errors are aggregated.
func (p *ReplicaPool) Disconnect() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs *multierror.Error
	for _, c := range idle {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	p.log.Debug("replica pool disconnected",
		zap.String("pool", p.id),
		zap.Int("closed", len(idle)))
	return errs.ErrorOrNil()
}

// PoolStats is a point-in-time snapshot of pool usage
type PoolStats struct {
	MaxOpen int
	Idle    int
	InUse   int
}

// Stats reports current pool usage
func (p *ReplicaPool) Stats() PoolStats {
	inUse := p.maxOpen - len(p.slots)
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		MaxOpen: p.maxOpen,
		Idle:    len(p.idle),
		InUse:   inUse,
	}
}
