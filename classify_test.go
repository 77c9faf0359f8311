package autoreplica

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClassifierReadsOnlyQueries(t *testing.T) {
	c := DefaultClassifier()

	assert.True(t, c.IsRead(OpQuery))
	for _, op := range []string{OpExec, OpPrepare, OpBegin, OpPing} {
		assert.False(t, c.IsRead(op), "%s must not be read-classified by default", op)
	}
}

func TestUnknownOperationsAreWrites(t *testing.T) {
	c := DefaultClassifier()

	// the conservative default: anything unrecognised stays on the primary
	for _, op := range []string{"Vacuum", "Copy", "", "query"} {
		assert.False(t, c.IsRead(op), "%q must fall through to the primary", op)
	}
}

func TestReadOps(t *testing.T) {
	c := ReadOps(OpQuery, OpBegin)

	assert.True(t, c.IsRead(OpQuery))
	assert.True(t, c.IsRead(OpBegin))
	assert.False(t, c.IsRead(OpExec))
}

func TestReadPrefixes(t *testing.T) {
	c := ReadPrefixes("Select", "Query")

	assert.True(t, c.IsRead("Query"))
	assert.True(t, c.IsRead("SelectAll"))
	assert.True(t, c.IsRead("SelectValue"))
	assert.False(t, c.IsRead("Exec"))
	assert.False(t, c.IsRead("Insert"))
}
