package autoreplica

import (
	"context"
	"database/sql/driver"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type scopeKey struct{}

// scope is the routing state for one unit of work. It travels in the
// context.Context handed to the body of RunWithReplicaPool, so concurrent
// units of work never observe each other's routing.
type scope struct {
	id   string
	pool *ReplicaPool

	closed atomic.Bool

	// database/sql may drive connection methods from its own goroutines,
	// so the lazily acquired replica connection is guarded.
	mu   sync.Mutex
	conn driver.Conn
}

// scopeFrom extracts the live scope from ctx, if any. A released scope
// reachable through a retained context no longer routes.
func scopeFrom(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	if sc == nil || sc.closed.Load() {
		return nil
	}
	return sc
}

// replicaConn returns the scope's replica connection, checking one out of
// the pool on first use. A scope holds at most one replica connection for
// its whole duration.
func (s *scope) replicaConn(ctx context.Context) (driver.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = c
	return c, nil
}

// held reports the already checked-out replica connection without
// acquiring one.
func (s *scope) held() driver.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// release returns the replica connection to the pool and deactivates the
// scope. Safe to call more than once.
func (s *scope) release() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c != nil {
		s.pool.Release(c)
	}
}

// RunWithReplicaPool runs body with read routing to pool active. Every
// read-classified operation issued through a registered Driver with the
// context passed to body is served by a connection from pool; all other
// operations keep going to the primary.
//
// If ctx already carries an active scope the call is a passthrough: body
// runs directly and the outer scope stays in control. Otherwise the
// replica connection (if one was checked out) is returned to pool and the
// scope deactivated on every exit path, including panics and body errors;
// body errors propagate unchanged.
func RunWithReplicaPool(ctx context.Context, pool *ReplicaPool, body func(context.Context) error) error {
	if scopeFrom(ctx) != nil {
		return body(ctx)
	}
	sc := &scope{id: uuid.NewString(), pool: pool}
	pool.log.Debug("replica scope opened",
		zap.String("scope", sc.id),
		zap.String("pool", pool.id))
	defer func() {
		sc.release()
		pool.log.Debug("replica scope closed", zap.String("scope", sc.id))
	}()
	return body(context.WithValue(ctx, scopeKey{}, sc))
}

// RunWithReplicaAt resolves spec into a replica pool, runs body under
// RunWithReplicaPool, and fully tears the pool down before returning —
// success or failure. A spec that fails to resolve returns an
// InvalidSpecError before any routing state is touched.
func RunWithReplicaAt(ctx context.Context, spec *Spec, body func(context.Context) error) (err error) {
	pool, err := NewReplicaPool(spec)
	if err != nil {
		return err
	}
	defer func() {
		if derr := pool.Disconnect(); derr != nil && err == nil {
			err = derr
		}
	}()
	return RunWithReplicaPool(ctx, pool, body)
}
