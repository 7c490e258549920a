// Package metrics collects scheduling metrics off the request path.
//
// Scheduler outcomes are sent as events on a buffered channel with
// non-blocking semantics; a dedicated goroutine folds them into counters.
// Tracked per credential: selection counts; globally: admissions, rejections
// by reason, retries, completed requests. Snapshot produces a JSON-friendly
// view for the ops endpoint and drains cleanly on shutdown.
package metrics
