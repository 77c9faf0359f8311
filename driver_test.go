package autoreplica_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	autoreplica "github.com/WeTransfer/activerecord-autoreplica"
	"github.com/WeTransfer/activerecord-autoreplica/sqldrivertest"
)

type queryer interface {
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

type preparer interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// sql.Register is global, so every cluster gets a unique driver name
var driverSeq atomic.Int64

type testCluster struct {
	rec     *sqldrivertest.Recorder
	primary *sqldrivertest.Driver
	replica *sqldrivertest.Driver
	pool    *autoreplica.ReplicaPool
	db      *sql.DB
}

func newTestCluster(t *testing.T, opts ...autoreplica.Option) *testCluster {
	t.Helper()

	rec := &sqldrivertest.Recorder{}
	primary := &sqldrivertest.Driver{Backend: "primary", Recorder: rec}
	replica := &sqldrivertest.Driver{Backend: "replica", Recorder: rec}

	opts = append([]autoreplica.Option{autoreplica.WithLogger(zaptest.NewLogger(t))}, opts...)
	name := fmt.Sprintf("autoreplica-%s-%d", t.Name(), driverSeq.Add(1))
	autoreplica.Register(name, primary, opts...)

	db, err := sql.Open(name, "primary-dsn")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Set connection limits for determinism
	db.SetMaxOpenConns(1)

	pool := autoreplica.NewPool(replica, "replica-dsn",
		autoreplica.WithPoolLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = pool.Disconnect() })

	return &testCluster{rec: rec, primary: primary, replica: replica, pool: pool, db: db}
}

func getValue(ctx context.Context, db queryer, key string) (string, error) {
	rows, err := db.QueryContext(ctx, "GET "+key)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", sql.ErrNoRows
	}
	var v string
	if err := rows.Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func TestQueryOutsideScopeHitsPrimary(t *testing.T) {
	tc := newTestCluster(t)
	tc.primary.Seed("k", "from-primary")
	tc.replica.Seed("k", "from-replica")

	v, err := getValue(context.Background(), tc.db, "k")
	require.NoError(t, err)
	assert.Equal(t, "from-primary", v)
	assert.Equal(t, []string{"primary"}, tc.rec.Backends("Query"))
}

func TestQueryInsideScopeHitsReplica(t *testing.T) {
	tc := newTestCluster(t)
	tc.primary.Seed("k", "from-primary")
	tc.replica.Seed("k", "from-replica")

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		v, err := getValue(ctx, tc.db, "k")
		require.NoError(t, err)
		assert.Equal(t, "from-replica", v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"replica"}, tc.rec.Backends("Query"))
}

func TestExecInsideScopeHitsPrimary(t *testing.T) {
	tc := newTestCluster(t)

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		_, err := tc.db.ExecContext(ctx, "SET k written")
		return err
	})
	require.NoError(t, err)

	v, ok := tc.primary.Lookup("k")
	require.True(t, ok, "write must land on the primary store")
	assert.Equal(t, "written", v)
	_, ok = tc.replica.Lookup("k")
	assert.False(t, ok, "write must not land on the replica store")
	assert.Equal(t, []string{"primary"}, tc.rec.Backends("Exec"))
}

func TestUnclassifiedOperationsStayOnPrimary(t *testing.T) {
	tc := newTestCluster(t)

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		// Ping is not read-classified by default
		if err := tc.db.PingContext(ctx); err != nil {
			return err
		}
		// neither is Exec, even through a prepared statement
		stmt, err := tc.db.PrepareContext(ctx, "SET k v")
		if err != nil {
			return err
		}
		defer stmt.Close()
		_, err = stmt.ExecContext(ctx)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"primary"}, tc.rec.Backends("Ping"))
	assert.Equal(t, []string{"primary"}, tc.rec.Backends("Exec"))
	assert.Equal(t, []string{"primary"}, tc.rec.Backends("Prepare"))
}

func TestPreparedQueryInsideScopeBindsToReplica(t *testing.T) {
	tc := newTestCluster(t)
	tc.replica.Seed("k", "from-replica")

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		stmt, err := tc.db.PrepareContext(ctx, "GET k")
		if err != nil {
			return err
		}
		defer stmt.Close()

		var v string
		if err := stmt.QueryRowContext(ctx).Scan(&v); err != nil {
			return err
		}
		assert.Equal(t, "from-replica", v)
		return nil
	})
	require.NoError(t, err)

	// the statement binds lazily, on first use, to the routed connection
	assert.Equal(t, []string{"replica"}, tc.rec.Backends("Prepare"))
	assert.Equal(t, []string{"replica"}, tc.rec.Backends("Query"))
}

func TestTransactionPinsToPrimary(t *testing.T) {
	tc := newTestCluster(t)
	tc.primary.Seed("k", "from-primary")
	tc.replica.Seed("k", "from-replica")

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		tx, err := tc.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		v, err := getValue(ctx, tx, "k")
		require.NoError(t, err)
		assert.Equal(t, "from-primary", v, "reads inside a transaction stay on its connection")
		if err := tx.Rollback(); err != nil {
			return err
		}

		// the pin is gone once the transaction ends
		v, err = getValue(ctx, tc.db, "k")
		require.NoError(t, err)
		assert.Equal(t, "from-replica", v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, tc.rec.Backends("Begin"))
	assert.Equal(t, []string{"primary", "replica"}, tc.rec.Backends("Query"))
}

func TestReadOnlyTransactionDefaultsToPrimary(t *testing.T) {
	tc := newTestCluster(t)

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		tx, err := tc.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return err
		}
		return tx.Rollback()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, tc.rec.Backends("Begin"))
}

func TestReadClassifiedBeginRoutesToReplica(t *testing.T) {
	tc := newTestCluster(t, autoreplica.WithClassifier(
		autoreplica.ReadOps(autoreplica.OpQuery, autoreplica.OpBegin)))
	tc.replica.Seed("k", "from-replica")

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		tx, err := tc.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return err
		}
		v, err := getValue(ctx, tx, "k")
		require.NoError(t, err)
		assert.Equal(t, "from-replica", v)
		return tx.Rollback()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"replica"}, tc.rec.Backends("Begin"))
}

func TestReplicaErrorsPropagateUnchanged(t *testing.T) {
	tc := newTestCluster(t)
	boom := errors.New("replica exploded")
	tc.replica.QueryErr = boom

	err := autoreplica.RunWithReplicaPool(context.Background(), tc.pool, func(ctx context.Context) error {
		_, err := getValue(ctx, tc.db, "k")
		return err
	})
	require.ErrorIs(t, err, boom)
}

func TestStaleReplicaScenario(t *testing.T) {
	tc := newTestCluster(t)
	ctx := context.Background()

	// create a record on the primary, outside any scope
	_, err := tc.db.ExecContext(ctx, "SET r1 alice")
	require.NoError(t, err)

	// the replica doesn't have it yet: an in-scope read misses
	err = autoreplica.RunWithReplicaPool(ctx, tc.pool, func(ctx context.Context) error {
		_, err := getValue(ctx, tc.db, "r1")
		assert.ErrorIs(t, err, sql.ErrNoRows)
		return nil
	})
	require.NoError(t, err)

	// outside the scope it reads fine from the primary
	v, err := getValue(ctx, tc.db, "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	// a divergent replica copy wins inside a new scope
	tc.replica.Seed("r1", "bob")
	err = autoreplica.RunWithReplicaPool(ctx, tc.pool, func(ctx context.Context) error {
		v, err := getValue(ctx, tc.db, "r1")
		require.NoError(t, err)
		assert.Equal(t, "bob", v)
		return nil
	})
	require.NoError(t, err)

	// and the primary's copy is untouched
	v, err = getValue(ctx, tc.db, "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)
}

func TestDisconnectAllTearsDownScopePool(t *testing.T) {
	rec := &sqldrivertest.Recorder{}
	primary := &sqldrivertest.Driver{Backend: "primary", Recorder: rec}
	replica := &sqldrivertest.Driver{Backend: "replica", Recorder: rec}
	d := autoreplica.New(primary)
	pool := autoreplica.NewPool(replica, "replica-dsn")

	err := autoreplica.RunWithReplicaPool(context.Background(), pool, func(ctx context.Context) error {
		return d.DisconnectAll(ctx)
	})
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, autoreplica.ErrPoolClosed)
}

func TestParentReturnsDelegate(t *testing.T) {
	primary := &sqldrivertest.Driver{Backend: "primary"}
	d := autoreplica.New(primary)
	assert.Same(t, primary, d.Parent())
}
