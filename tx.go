package autoreplica

import (
	"database/sql/driver"
)

// tx wraps a delegate transaction and unpins the connection when it ends
type tx struct {
	conn       *conn
	driverConn driver.Conn
	delegateTx driver.Tx
}

func (t *tx) Commit() error {
	err := t.delegateTx.Commit()
	t.conn.closeTx()
	return err
}

func (t *tx) Rollback() error {
	err := t.delegateTx.Rollback()
	t.conn.closeTx()
	return err
}
