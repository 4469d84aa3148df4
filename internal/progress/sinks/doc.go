// Package sinks implements concrete status event consumers: structured logs,
// Prometheus metrics, a repository-backed history, and Pub/Sub fan-out. Each
// sink satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
