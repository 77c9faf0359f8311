package autoreplica

import (
	"context"
	"database/sql/driver"
	"errors"

	"go.uber.org/zap"
)

// ErrNamedParametersNotSupported is provided when named parameters are used
// but unsupported by the delegate driver
var ErrNamedParametersNotSupported = errors.New("autoreplica: delegate driver does not support the use of named parameters")

// stmt is a lazily prepared statement. Binding is deferred to the first
// Exec or Query so the statement lands on whichever connection the routing
// decision selects at that moment. A statement bound to a replica
// connection must not be used after its scope exits.
type stmt struct {
	conn  *conn
	query string
	bound driver.Stmt
}

// Close closes the underlying statement
func (s *stmt) Close() error {
	if s.bound != nil {
		return s.bound.Close()
	}
	return nil
}

// NumInput returns the number of placeholder parameters if the statement
// has already been bound
func (s *stmt) NumInput() int {
	if s.bound != nil {
		return s.bound.NumInput()
	}
	return -1
}

func (s *stmt) bind(ctx context.Context, op string) error {
	if s.bound != nil {
		return nil
	}
	c, err := s.conn.target(ctx, op)
	if err != nil {
		return err
	}
	s.conn.driver.log.Debug("binding statement", zap.String("op", op))
	s.bound, err = prepareOn(ctx, c, s.query)
	return err
}

// Exec executes a statement that doesn't return rows
func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	if err := s.bind(context.Background(), OpExec); err != nil {
		return nil, err
	}
	return s.bound.Exec(args)
}

// Query executes a statement that may return rows
func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	if err := s.bind(context.Background(), OpQuery); err != nil {
		return nil, err
	}
	return s.bound.Query(args)
}

// ExecContext executes a statement that doesn't return rows
func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := s.bind(ctx, OpExec); err != nil {
		return nil, err
	}
	if e, ok := s.bound.(driver.StmtExecContext); ok {
		return e.ExecContext(ctx, args)
	}
	argValues, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	return s.bound.Exec(argValues)
}

// QueryContext executes a statement that may return rows
func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := s.bind(ctx, OpQuery); err != nil {
		return nil, err
	}
	if q, ok := s.bound.(driver.StmtQueryContext); ok {
		return q.QueryContext(ctx, args)
	}
	argValues, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	return s.bound.Query(argValues)
}

func prepareOn(ctx context.Context, conn driver.Conn, query string) (driver.Stmt, error) {
	if p, ok := conn.(driver.ConnPrepareContext); ok {
		return p.PrepareContext(ctx, query)
	}
	return conn.Prepare(query)
}

func namedValuesToValues(named []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(named))
	for i, n := range named {
		if n.Name != "" {
			return nil, ErrNamedParametersNotSupported
		}
		values[i] = n.Value
	}
	return values, nil
}
