package autoreplica

import "strings"

// Operation names presented to a Classifier. They cover the statement
// surface of "database/sql/driver" as seen by the routing connection.
const (
	// OpQuery is a statement execution that returns rows (conn.Query,
	// conn.QueryContext and stmt.Query variants).
	OpQuery = "Query"
	// OpExec is a statement execution that doesn't return rows.
	OpExec = "Exec"
	// OpPrepare is statement preparation.
	OpPrepare = "Prepare"
	// OpBegin is the start of a transaction.
	OpBegin = "Begin"
	// OpPing is a connectivity check.
	OpPing = "Ping"
)

// Classifier decides whether a named connection operation is read-only
// and therefore eligible for replica routing.
//
// The set of read operations depends on the delegate driver's statement
// surface, so it is supplied as configuration rather than hardcoded.
// Anything a Classifier doesn't recognise is treated as a write and stays
// on the primary connection.
type Classifier interface {
	IsRead(op string) bool
}

type readSet map[string]struct{}

func (s readSet) IsRead(op string) bool {
	_, ok := s[op]
	return ok
}

// ReadOps builds a Classifier from an enumerated set of read operation names.
func ReadOps(ops ...string) Classifier {
	s := make(readSet, len(ops))
	for _, op := range ops {
		s[op] = struct{}{}
	}
	return s
}

type readPrefixes []string

func (p readPrefixes) IsRead(op string) bool {
	for _, prefix := range p {
		if strings.HasPrefix(op, prefix) {
			return true
		}
	}
	return false
}

// ReadPrefixes builds a Classifier that treats every operation starting
// with one of the given prefixes as a read.
func ReadPrefixes(prefixes ...string) Classifier {
	return readPrefixes(prefixes)
}

// DefaultClassifier routes row-returning queries to the replica and
// everything else to the primary.
func DefaultClassifier() Classifier {
	return ReadOps(OpQuery)
}
