// Package quota implements the per-user, per-model-group consumption ledger.
//
// Each entry combines a one-time reward balance (credited on credential
// upload, never reset) with a daily allowance that rolls over lazily at the
// configured UTC hour. Consumption depletes the reward balance first.
package quota
