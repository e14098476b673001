// Package services defines shared utilities consumed by the pipeline run
// controller, the review state machine, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp episode IDs, stage names, run IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent retry/abort policy decisions.
//
// Use these helpers when wiring new orchestration logic so operational
// behaviour (error handling, observability, retries) stays uniform across the
// pipeline.
package services
