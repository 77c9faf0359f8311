package autoreplica

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"slices"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Driver is a "database/sql/driver".Driver implementation that routes
// read-classified operations to the replica pool of the calling context's
// active scope and everything else to the wrapped primary driver.
//
// A Driver holds no per-call mutable state: the routing decision lives
// entirely in the context passed to each operation, so one instance is
// safe to share across goroutines without locking. With no active scope
// it behaves as an identity proxy over the primary driver.
type Driver struct {
	delegate   driver.Driver
	classifier Classifier
	log        *zap.Logger
}

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)

// New wraps a primary delegate "database/sql/driver".Driver with a
// replica-routing driver
func New(delegate driver.Driver, opts ...Option) *Driver {
	d := &Driver{delegate: delegate}
	for _, o := range opts {
		o(d)
	}

	// defaults
	if d.classifier == nil {
		d.classifier = DefaultClassifier()
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

// Register wraps delegate with New and registers the result with
// database/sql under name. Unlike sql.Register it is idempotent: a name
// that is already taken is left alone, which is harmless because every
// installed instance is an equivalent stateless proxy.
func Register(name string, delegate driver.Driver, opts ...Option) *Driver {
	d := New(delegate, opts...)
	if !slices.Contains(sql.Drivers(), name) {
		sql.Register(name, d)
	}
	return d
}

// Open implements "database/sql/driver".Driver.Open. The DSN is the
// primary driver's own DSN, passed through unchanged; the primary
// connection is established lazily on first use.
func (d *Driver) Open(name string) (driver.Conn, error) {
	return &conn{driver: d, dsn: name}, nil
}

// OpenConnector implements "database/sql/driver".DriverContext
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	return &connector{driver: d, dsn: name}, nil
}

// Parent returns the wrapped primary driver
func (d *Driver) Parent() driver.Driver {
	return d.delegate
}

// DisconnectAll disconnects the replica pool of the calling context's
// active scope, if any, then forwards teardown to the primary driver when
// it supports it. Used on full shutdown paths; errors are aggregated.
func (d *Driver) DisconnectAll(ctx context.Context) error {
	var errs *multierror.Error
	if sc := scopeFrom(ctx); sc != nil {
		errs = multierror.Append(errs, sc.pool.Disconnect())
	}
	if closer, ok := d.delegate.(io.Closer); ok {
		errs = multierror.Append(errs, closer.Close())
	}
	return errs.ErrorOrNil()
}

type connector struct {
	driver *Driver
	dsn    string
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c *connector) Driver() driver.Driver {
	return c.driver
}
