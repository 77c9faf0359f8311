package sqldrivertest

import (
	"database/sql/driver"
	"io"
)

type stmt struct {
	conn  *conn
	query string
}

func (s *stmt) Close() error {
	return nil
}

func (s *stmt) NumInput() int {
	return -1
}

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.driver.record("Exec", s.query)
	return s.conn.driver.execute(s.query)
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	s.conn.driver.record("Query", s.query)
	return s.conn.driver.queryRows(s.query)
}

type rows struct {
	columns []string
	values  [][]driver.Value
}

func (r *rows) Close() error {
	return nil
}

func (r *rows) Columns() []string {
	return r.columns
}

func (r *rows) Next(dest []driver.Value) error {
	if len(r.values) == 0 {
		return io.EOF
	}
	copy(dest, r.values[0])
	r.values = r.values[1:]
	return nil
}
