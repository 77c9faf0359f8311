package autoreplica

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"go.uber.org/zap"
)

// ErrConnBeginTxUnsupported is provided when conn.BeginTx() is used but not
// supported by the delegate driver
var ErrConnBeginTxUnsupported = errors.New("autoreplica: delegate driver doesn't support BeginTx")

// conn is the split connection: a single "database/sql/driver".Conn surface
// over a lazily opened primary connection and, while the calling context
// carries an active scope, that scope's replica connection.
type conn struct {
	driver *Driver
	dsn    string

	primaryConn driver.Conn

	tx *tx
}

// The split connection advertises the primary's capability surface and
// downgrades per call when a delegate lacks an optional interface.
var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.Queryer            = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.Execer             = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
	_ driver.SessionResetter    = (*conn)(nil)
	_ driver.Validator          = (*conn)(nil)
	_ driver.NamedValueChecker  = (*conn)(nil)
)

// primary returns the primary delegate connection, opening it on first use
func (c *conn) primary(ctx context.Context) (driver.Conn, error) {
	if c.tx != nil {
		return c.tx.driverConn, nil
	}
	if c.primaryConn == nil {
		c.driver.log.Debug("opening primary connection", zap.String("dsn", sanitizeDSN(c.dsn)))
		pc, err := c.driver.delegate.Open(c.dsn)
		if err != nil {
			return nil, err
		}
		c.primaryConn = pc
	}
	return c.primaryConn, nil
}

// target picks the connection that serves the named operation: the scope's
// replica for read-classified operations under an active scope, the primary
// for everything else. An open transaction pins all operations to the
// transaction's connection. Pool checkout failures propagate unchanged.
func (c *conn) target(ctx context.Context, op string) (driver.Conn, error) {
	if c.tx != nil {
		return c.tx.driverConn, nil
	}
	if sc := scopeFrom(ctx); sc != nil && c.driver.classifier.IsRead(op) {
		rc, err := sc.replicaConn(ctx)
		if err != nil {
			return nil, err
		}
		c.driver.log.Debug("routing to replica",
			zap.String("op", op),
			zap.String("scope", sc.id))
		return rc, nil
	}
	return c.primary(ctx)
}

// Prepare returns a lazily prepared statement, not yet bound to an
// underlying connection
func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{conn: c, query: query}, nil
}

// PrepareContext returns a lazily prepared statement, not yet bound to an
// underlying connection
func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	// Check the context now (as the statement will be prepared lazily) and
	// return if it's expired
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return &stmt{conn: c, query: query}, nil
}

// Close closes the primary connection. The replica connection, if any, is
// owned by the scope's pool and reclaimed there.
func (c *conn) Close() error {
	if c.primaryConn != nil {
		c.driver.log.Debug("closing primary connection")
		return c.primaryConn.Close()
	}
	return nil
}

// Begin starts and returns a new transaction on the primary connection
func (c *conn) Begin() (driver.Tx, error) {
	if c.tx != nil {
		// already in a transaction
		return nil, driver.ErrBadConn
	}

	pc, err := c.primary(context.Background())
	if err != nil {
		return nil, err
	}
	dtx, err := pc.Begin()
	if err != nil {
		return nil, err
	}
	c.tx = &tx{conn: c, driverConn: pc, delegateTx: dtx}
	return c.tx, nil
}

// BeginTx starts and returns a new transaction. Transactions pin to the
// primary unless the Begin operation is read-classified, in which case an
// active scope routes them to the replica.
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.tx != nil {
		// already in a transaction
		return nil, driver.ErrBadConn
	}

	pc, err := c.target(ctx, OpBegin)
	if err != nil {
		return nil, err
	}
	if err := c.beginTx(ctx, pc, opts); err != nil {
		if errors.Is(err, ErrConnBeginTxUnsupported) &&
			opts.Isolation == driver.IsolationLevel(sql.LevelDefault) && !opts.ReadOnly {
			// no options in play, fall back to plain Begin()
			dtx, berr := pc.Begin()
			if berr != nil {
				return nil, berr
			}
			c.tx = &tx{conn: c, driverConn: pc, delegateTx: dtx}
			return c.tx, nil
		}
		return nil, err
	}
	return c.tx, nil
}

func (c *conn) beginTx(ctx context.Context, pc driver.Conn, opts driver.TxOptions) error {
	if b, ok := pc.(driver.ConnBeginTx); ok {
		dtx, err := b.BeginTx(ctx, opts)
		if err != nil {
			return err
		}
		c.tx = &tx{conn: c, driverConn: pc, delegateTx: dtx}
		return nil
	}
	return ErrConnBeginTxUnsupported
}

func (c *conn) closeTx() {
	c.tx = nil
}

// Exec attempts to fast-path conn.Exec()
func (c *conn) Exec(query string, args []driver.Value) (driver.Result, error) {
	t, err := c.target(context.Background(), OpExec)
	if err != nil {
		return nil, err
	}
	if e, ok := t.(driver.Execer); ok {
		return e.Exec(query, args)
	}
	return nil, driver.ErrSkip
}

// ExecContext attempts to fast-path conn.ExecContext()
func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	t, err := c.target(ctx, OpExec)
	if err != nil {
		return nil, err
	}
	if e, ok := t.(driver.ExecerContext); ok {
		return e.ExecContext(ctx, query, args)
	}
	return nil, driver.ErrSkip
}

// Query attempts to fast-path conn.Query()
func (c *conn) Query(query string, args []driver.Value) (driver.Rows, error) {
	t, err := c.target(context.Background(), OpQuery)
	if err != nil {
		return nil, err
	}
	if q, ok := t.(driver.Queryer); ok {
		return q.Query(query, args)
	}
	return nil, driver.ErrSkip
}

// QueryContext attempts to fast-path conn.QueryContext()
func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	t, err := c.target(ctx, OpQuery)
	if err != nil {
		return nil, err
	}
	if q, ok := t.(driver.QueryerContext); ok {
		return q.QueryContext(ctx, query, args)
	}
	return nil, driver.ErrSkip
}

// Ping verifies the connection that would serve the Ping operation, plus
// an already checked-out replica connection so it can be reconnected if
// necessary. It never forces a replica checkout.
func (c *conn) Ping(ctx context.Context) error {
	pc, err := c.target(ctx, OpPing)
	if err != nil {
		return err
	}
	if err := ping(ctx, pc); err != nil {
		return err
	}
	if sc := scopeFrom(ctx); sc != nil {
		if rc := sc.held(); rc != nil && rc != pc {
			return ping(ctx, rc)
		}
	}
	return nil
}

// ResetSession forwards to the primary connection when it supports it
func (c *conn) ResetSession(ctx context.Context) error {
	if c.primaryConn != nil {
		if r, ok := c.primaryConn.(driver.SessionResetter); ok {
			return r.ResetSession(ctx)
		}
	}
	return nil
}

// IsValid reflects the primary connection's validity: the split connection
// advertises itself as a drop-in for the primary even though some calls
// are redirected
func (c *conn) IsValid() bool {
	if c.primaryConn != nil {
		if v, ok := c.primaryConn.(driver.Validator); ok {
			return v.IsValid()
		}
	}
	return true
}

// CheckNamedValue forwards argument checking to the primary connection
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if c.primaryConn != nil {
		if ck, ok := c.primaryConn.(driver.NamedValueChecker); ok {
			return ck.CheckNamedValue(nv)
		}
	}
	return driver.ErrSkip
}

func ping(ctx context.Context, conn driver.Conn) error {
	if p, ok := conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
