// Package store persists orchestration state in SQLite and exposes helpers
// for driving entity lifecycles.
//
// The Store manages database connections, schema initialization, and the
// semantic transitions the run controller and review state machine rely on:
// episode status changes, pipeline runs and their append-only error records,
// artifact fingerprints with per-stage completion snapshots, keyword weights,
// discovered tweets, candidate drafts, publish intents, the append-only audit
// log, and the local API usage ledger.
//
// Multi-row transitions (draft supersede, rejection cascades, scheduling with
// publish-intent creation, atomic quota reservation) are implemented here as
// single transactions so callers cannot observe partial state.
//
// Treat this package as the single source of truth for persistence semantics;
// when you add new statuses or fields, update schema.sql and bump
// schemaVersion.
package store
