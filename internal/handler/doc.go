// Package handler implements the ops HTTP API: pool statistics, per-user
// quota status, pool-config inspection and atomic replacement, and
// credential maintenance actions. The request-serving path is a library
// call, not HTTP; these endpoints exist for the control panel and for
// diagnostics.
package handler
