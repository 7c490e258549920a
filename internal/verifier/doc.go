// Package verifier periodically re-checks pooled credentials against an
// external verification service and flips their active flag on change. The
// check itself (token refresh, probe call) is behind the Checker interface;
// this package only owns the loop.
package verifier
