package autoreplica

import (
	"database/sql/driver"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// InvalidSpecError indicates that a connection spec or URL cannot be
// resolved into a replica pool
type InvalidSpecError struct {
	Reason string
	Err    error
}

func (e InvalidSpecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("autoreplica: invalid connection spec: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("autoreplica: invalid connection spec: %s", e.Reason)
}

func (e InvalidSpecError) Unwrap() error { return e.Err }

// Spec is a structured replica connection specification. The Adapter field
// selects the registered adapter that turns the rest of the spec into a
// delegate driver and DSN; everything else is passed through to it.
type Spec struct {
	Adapter  string
	Host     string
	Port     int
	Username string
	Password string
	Database string

	// MaxPoolSize caps open replica connections; zero means the pool default.
	MaxPoolSize int
	// CheckoutTimeout bounds pool checkout; zero means the pool default.
	CheckoutTimeout time.Duration

	// Params are adapter-specific connection parameters forwarded verbatim.
	Params map[string]string
}

// ParseURL parses a connection URL of the form
//
//	scheme://[user[:pass]@]host[:port]/database[?param=value...]
//
// into a Spec. The scheme names the adapter. The query parameters "pool"
// (max pool size) and "checkout_timeout" (a Go duration) configure the
// replica pool; any other parameter lands in Spec.Params.
func ParseURL(raw string) (*Spec, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, InvalidSpecError{Reason: "malformed URL", Err: err}
	}
	if u.Scheme == "" {
		return nil, InvalidSpecError{Reason: fmt.Sprintf("missing adapter scheme in %q", sanitizeDSN(raw))}
	}
	if u.Hostname() == "" {
		return nil, InvalidSpecError{Reason: fmt.Sprintf("missing host in %q", sanitizeDSN(raw))}
	}

	spec := &Spec{
		Adapter:  u.Scheme,
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		spec.Username = u.User.Username()
		spec.Password, _ = u.User.Password()
	}
	if ps := u.Port(); ps != "" {
		port, err := strconv.Atoi(ps)
		if err != nil {
			return nil, InvalidSpecError{Reason: "invalid port", Err: err}
		}
		spec.Port = port
	}

	for key, vals := range u.Query() {
		v := vals[len(vals)-1]
		switch key {
		case "pool":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, InvalidSpecError{Reason: "invalid pool size", Err: err}
			}
			spec.MaxPoolSize = n
		case "checkout_timeout":
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, InvalidSpecError{Reason: "invalid checkout timeout", Err: err}
			}
			spec.CheckoutTimeout = d
		default:
			if spec.Params == nil {
				spec.Params = map[string]string{}
			}
			spec.Params[key] = v
		}
	}
	return spec, nil
}

// resolve maps the spec to a delegate driver and DSN via the adapter
// registry. All failures surface as InvalidSpecError.
func (s *Spec) resolve() (driver.Driver, string, error) {
	if s == nil {
		return nil, "", InvalidSpecError{Reason: "nil spec"}
	}
	if s.Adapter == "" {
		return nil, "", InvalidSpecError{Reason: "adapter is required"}
	}
	build, ok := lookupAdapter(s.Adapter)
	if !ok {
		return nil, "", InvalidSpecError{Reason: fmt.Sprintf("unknown adapter %q", s.Adapter)}
	}
	drv, dsn, err := build(s)
	if err != nil {
		return nil, "", InvalidSpecError{Reason: fmt.Sprintf("adapter %q rejected spec", s.Adapter), Err: err}
	}
	return drv, dsn, nil
}

// credentials are scrubbed before any DSN reaches a log line
var (
	dsnCredentials = regexp.MustCompile(`([A-Za-z0-9_.+-]+):([^@/\s]+)@`)
	dsnPassword    = regexp.MustCompile(`(?i)(password|passwd|pwd|pass)=[^;&\s]+`)
)

func sanitizeDSN(dsn string) string {
	out := dsnCredentials.ReplaceAllString(dsn, "$1:[redacted]@")
	return dsnPassword.ReplaceAllString(out, "$1=[redacted]")
}
