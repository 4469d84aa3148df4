// Package progress carries the status events the scheduler emits about each
// thread (new thread, downloads, polls, archival, 404). A non-blocking Hub
// batches them on a background goroutine and fans them out to pluggable sinks
// such as logs, Prometheus metrics, Postgres or Pub/Sub.
package progress
