// Package ratelimit implements continuously-refilled token buckets per user
// and provider namespace. Refill is spread over the minute rather than reset
// at fixed windows, so bursts at minute boundaries are not possible.
package ratelimit
