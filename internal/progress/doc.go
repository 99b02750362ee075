// Package progress provides the event primitives, non-blocking hub, and emitter
// interface that render workers use to report conversion progress. Events are
// batched on a background goroutine and fanned out to sinks such as
// Prometheus metrics, per-site summaries or structured logs. Events never
// drive correctness; run statistics are owned by the aggregator.
package progress
