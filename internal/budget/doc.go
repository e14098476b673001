// Package budget plans how discovery spends its API quota. The planner works
// on a read snapshot of the usage ledger and never mutates counters; the
// atomic decrement happens in the ledger at call time.
package budget
