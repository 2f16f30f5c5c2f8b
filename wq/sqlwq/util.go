// Package sqlwq implements wq.Claimer against a bun-backed SQL table,
// generalizing the teacher queue library's hand-written, per-table
// sql/puller.go (Pull/ExtendLock/Complete/Return/Kill over a single "jobs"
// table) into one engine configured per queue by a RowConfig - exactly the
// shape Design Note §9 asks for: "a single generic over the row type with
// per-queue SQL fragments for table names, columns, and ordering."
//
// Every store in this module (sqloutbox, sqlinbox, sqlscheduler's timer and
// job-run tables) is a thin RowConfig plus its own Enqueue/read methods
// built on top of the Claim/Ack/Abandon/Fail/ReapExpired/ExtendLock
// functions here.
package sqlwq

import "database/sql"

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}
