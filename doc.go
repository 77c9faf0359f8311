/*
Package autoreplica provides context-scoped read routing for "database/sql": inside an opted-in unit of work, read queries are served by a replica
connection pool while writes, DDL and transactions keep going to the primary connection — without any change to how the database is queried.

Goal

To let a caller delimit a unit of work during which reads come from a designated replica, visible only to that unit of work: concurrently running
units of work with no active scope are entirely unaffected.

Basics

autoreplica is an implementation of "database/sql/driver".Driver. It provides no database facilities of its own and wraps a delegate driver that
supplies the concrete primary connections:

	autoreplica.Register("mysqlreplica", &mysql.MySQLDriver{}) // idempotent; safe to call from multiple init paths
	db, _ := sql.Open("mysqlreplica", primaryDSN)              // behaves exactly like the plain mysql driver

	// all reads issued with the ctx given to the body go to the replica
	err := autoreplica.RunWithReplicaAt(ctx, spec, func(ctx context.Context) error {
		return db.QueryRowContext(ctx, "SELECT ...").Scan(&v)
	})

Scopes

RunWithReplicaPool (or RunWithReplicaAt, which first resolves a connection spec into a pool) installs the replica pool in the context handed to its
body. The scope holds at most one replica connection, checked out of the pool lazily on the first read and returned when the scope exits — on normal
return, error or panic alike. Body errors propagate unchanged. Nested scope calls on the same context are passthroughs: the outermost scope stays in
control, so reentrant code never swaps pools or double-releases a connection.

Routing

Each connection operation is classified by name against a configurable Classifier:

	if inTransaction {
		transaction's connection
	} else if scopeActive && classifier.IsRead(op) {
		replica
	} else {
		primary
	}

The default classifier treats only row-returning queries (OpQuery) as reads. Unclassified or unknown operations always land on the primary — the
conservative default — so a growing delegate driver surface can never silently read from a stale replica. The classification set is configuration,
not a constant: supply WithClassifier(ReadOps(...)) or WithClassifier(ReadPrefixes(...)) to mirror the delegate's statement surface.

Failure

Pool checkout failures (exhaustion, timeouts, closed pools) and delegate errors propagate to the caller unchanged; there is no fallback from replica
to primary, which would hide a replica outage. A spec that fails to resolve reports InvalidSpecError before any routing state is touched.

Connection Pooling

Package "database/sql" pools autoreplica connections above the driver, so each pooled item may hold a lazily opened primary delegate connection.
Replica connections are pooled separately by ReplicaPool, one checkout per active scope. A statement prepared inside a scope binds to the scope's
replica connection on first use and must not be used after the scope exits.
*/
package autoreplica
