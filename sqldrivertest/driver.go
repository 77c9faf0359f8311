// Package sqldrivertest provides a recording, in-memory key/value
// implementation of "database/sql/driver".Driver for routing tests.
//
// Every operation is recorded with the driver's backend label, so a test
// can assert which backend served which statement. The statement language
// is deliberately tiny: "SET <key> <value...>", "GET <key>", "DEL <key>".
// Each Driver owns one store shared by all of its connections; seeding
// primary and replica drivers with diverging values lets a test observe
// stale reads end to end.
package sqldrivertest

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
)

// Driver is a mock implementation of "database/sql/driver".Driver
type Driver struct {
	// Backend labels every recorded operation, e.g. "primary" or "replica".
	Backend string
	// Recorder receives every operation; may be shared between drivers.
	Recorder *Recorder

	// OpenErr, QueryErr and ExecErr inject failures when non-nil.
	OpenErr  error
	QueryErr error
	ExecErr  error

	mu    sync.Mutex
	store map[string]string
	opens int
}

// Open opens a new mock connection
func (d *Driver) Open(name string) (driver.Conn, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.mu.Lock()
	d.opens++
	d.mu.Unlock()
	d.record("Open", name)
	return &conn{driver: d}, nil
}

// Opens reports how many connections have been opened
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Seed stores a value directly, bypassing the statement path
func (d *Driver) Seed(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		d.store = map[string]string{}
	}
	d.store[key] = value
}

// Lookup reads a value directly, bypassing the statement path
func (d *Driver) Lookup(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.store[key]
	return v, ok
}

func (d *Driver) delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.store, key)
}

func (d *Driver) record(op, query string) {
	d.Recorder.record(Entry{Backend: d.Backend, Op: op, Query: query})
}

func (d *Driver) execute(query string) (driver.Result, error) {
	if d.ExecErr != nil {
		return nil, d.ExecErr
	}
	f := strings.Fields(query)
	switch {
	case len(f) >= 3 && strings.EqualFold(f[0], "SET"):
		d.Seed(f[1], strings.Join(f[2:], " "))
		return result{rowsAffected: 1}, nil
	case len(f) == 2 && strings.EqualFold(f[0], "DEL"):
		d.delete(f[1])
		return result{rowsAffected: 1}, nil
	}
	return nil, fmt.Errorf("sqldrivertest: unsupported statement: %q", query)
}

func (d *Driver) queryRows(query string) (driver.Rows, error) {
	if d.QueryErr != nil {
		return nil, d.QueryErr
	}
	f := strings.Fields(query)
	if len(f) == 2 && strings.EqualFold(f[0], "GET") {
		r := &rows{columns: []string{"value"}}
		if v, ok := d.Lookup(f[1]); ok {
			r.values = [][]driver.Value{{v}}
		}
		return r, nil
	}
	return nil, fmt.Errorf("sqldrivertest: unsupported query: %q", query)
}

type result struct {
	rowsAffected int64
}

func (r result) LastInsertId() (int64, error) {
	return -1, nil
}

func (r result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}
