// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces used to report glossarization progress. Pass runners
// emit events as they work through a portal; the hub batches them on a
// background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics or the live status board.
package progress
