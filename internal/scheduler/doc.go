// Package scheduler orchestrates credential selection for proxy requests.
//
// For each request it gates on the rate limiter and quota ledger, asks the
// visibility resolver for candidates, filters out cooling-down credentials
// and deterministically picks the least recently used one. On upstream
// failure the caller reports back and the scheduler rotates to the next
// candidate, excluding already-tried ones, up to the configured retry bound.
//
// No method blocks on I/O beyond the store; decisions are computed from
// in-memory state and return immediately. Timeout and cancellation of the
// actual upstream call belong to the caller.
package scheduler
