package sqldrivertest

import (
	"context"
	"database/sql/driver"
)

type conn struct {
	driver *Driver
}

var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
)

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	c.driver.record("Prepare", query)
	return &stmt{conn: c, query: query}, nil
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return c.Prepare(query)
}

func (c *conn) Close() error {
	c.driver.record("Close", "")
	return nil
}

func (c *conn) Begin() (driver.Tx, error) {
	c.driver.record("Begin", "")
	return &tx{conn: c}, nil
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return c.Begin()
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.driver.record("Query", query)
	return c.driver.queryRows(query)
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.driver.record("Exec", query)
	return c.driver.execute(query)
}

func (c *conn) Ping(ctx context.Context) error {
	c.driver.record("Ping", "")
	return nil
}

type tx struct {
	conn *conn
}

func (t *tx) Commit() error {
	t.conn.driver.record("Commit", "")
	return nil
}

func (t *tx) Rollback() error {
	t.conn.driver.record("Rollback", "")
	return nil
}
