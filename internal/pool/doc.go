// Package pool holds the operator-tunable pool configuration and the
// visibility rules that decide which credentials a user may draw from.
//
// The configuration is modeled as an immutable snapshot behind an atomic
// pointer: scheduling reads it once per decision and can never observe a
// half-applied update. Pool modes are a closed enumeration consumed by the
// Resolver; new sharing policies are added as a variant plus a resolver
// branch, not as booleans threaded through callers.
package pool
