package autoreplica

import (
	"database/sql/driver"
	"errors"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
)

// AdapterFunc turns a Spec into a delegate driver and the DSN to open it with
type AdapterFunc func(*Spec) (driver.Driver, string, error)

var (
	adapterMu sync.RWMutex
	adapters  = make(map[string]AdapterFunc)
)

// RegisterAdapter makes an adapter available under the given name for
// Spec resolution. Safe for concurrent use; a later registration for the
// same name replaces the earlier one.
func RegisterAdapter(name string, build AdapterFunc) {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	adapters[name] = build
}

func lookupAdapter(name string) (AdapterFunc, bool) {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	build, ok := adapters[name]
	return build, ok
}

func init() {
	RegisterAdapter("mysql", mysqlAdapter)
	RegisterAdapter("postgres", postgresAdapter)
	RegisterAdapter("postgresql", postgresAdapter)
}

var errAdapterHostRequired = errors.New("host is required")

func mysqlAdapter(spec *Spec) (driver.Driver, string, error) {
	if spec.Host == "" {
		return nil, "", errAdapterHostRequired
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = spec.Host
	if spec.Port > 0 {
		cfg.Addr = net.JoinHostPort(spec.Host, strconv.Itoa(spec.Port))
	}
	cfg.User = spec.Username
	cfg.Passwd = spec.Password
	cfg.DBName = spec.Database
	if len(spec.Params) > 0 {
		cfg.Params = make(map[string]string, len(spec.Params))
		for k, v := range spec.Params {
			cfg.Params[k] = v
		}
	}
	return &mysql.MySQLDriver{}, cfg.FormatDSN(), nil
}

func postgresAdapter(spec *Spec) (driver.Driver, string, error) {
	if spec.Host == "" {
		return nil, "", errAdapterHostRequired
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   spec.Host,
		Path:   "/" + spec.Database,
	}
	if spec.Port > 0 {
		u.Host = net.JoinHostPort(spec.Host, strconv.Itoa(spec.Port))
	}
	if spec.Username != "" {
		u.User = url.User(spec.Username)
		if spec.Password != "" {
			u.User = url.UserPassword(spec.Username, spec.Password)
		}
	}
	if len(spec.Params) > 0 {
		q := url.Values{}
		for k, v := range spec.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return stdlib.GetDefaultDriver(), u.String(), nil
}
