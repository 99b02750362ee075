// Package sinks implements progress consumers: Prometheus collectors, an
// in-memory per-site summary, and structured logging.
package sinks
