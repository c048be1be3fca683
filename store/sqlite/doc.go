// Package sqlite implements the store on database/sql with the pure-Go
// modernc.org/sqlite driver. Single-file persistence for embedded and
// standalone deployments: WAL journaling, one write connection serializing
// the atomic sections, and integer-nanosecond timestamps so retry gates
// and cutoffs compare in SQL.
package sqlite
