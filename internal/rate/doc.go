// Package rate implements the fixed-window request limiter shared by every goGuard
// instance through a durable counter store.
//
// # Window semantics
//
// Each (class, identity) pair owns one counter row. A hit either creates the row with
// count 1, resets a row whose window has expired, or increments it. All three cases are
// one atomic store call ([CounterStore.HitCounter]); implementations must never read and
// write in separate round trips. Rejected hits saturate the count at limit+1 so the
// stored value never decreases inside a window.
//
// Keys are "<class>:<identity>" where identity is one of:
//   - user:<subject id>    a verified token subject
//   - tok:<sha256 prefix>  an unverified bearer token
//   - ip:<address>         network origin fallback
//
// # Failure semantics
//
// The limiter fails open. A store error yields an allowed, degraded [Decision] and is
// reported to the configured failure hook.
//
// # What this package must NOT do
//
//   - Emit audit events or log directly; the engine owns those side effects.
//   - Be imported outside the goGuard module.
package rate
