// Package store persists the task metadata record set: tasks, branches, stage
// runs, artifact records and the dispatch_items table used by the dispatch
// package.
//
// SQLite (modernc.org/sqlite) is the default backend; Postgres is reached
// through the pgx database/sql driver. Queries are written once with "?"
// placeholders and rebound per dialect. Typed operations live on Queries,
// which both Store and Tx embed, so the orchestrator can group every write of
// one transition into a single transaction with WithTx.
//
// Lookups return (nil, nil) when a record does not exist.
package store
