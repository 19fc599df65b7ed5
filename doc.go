// Package goGuard is a per-request security checkpoint for multi-tenant HTTP services.
// It verifies HMAC-signed tokens against a rotating set of signing secrets, reloads the
// subject from the store on every request, applies role gates and class-based rate
// limits, and records every decision in a risk-scored audit trail.
//
// The same Engine also issues single-use CSRF tokens and enforces the password policy.
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Engine], [Builder], [Config] and value
// types such as [Outcome] and [ErrorResponse]. The components it wires live in sibling
// packages (jwt, secrets, csrf, audit, password) and in internal/rate. Storage is
// pluggable through [Store]: store/postgres is the durable implementation,
// store/redis can replace the counter and CSRF parts, and store/memory serves tests.
//
// # Request path
//
// [Engine.Authorize] runs the authenticator stages in order and stops at the first
// failure:
//
//	header -> token -> subject -> role gate -> rate limit
//
// Every rejection other than a missing header is audited. The returned [Outcome]
// carries the status code the host should write: 401, 403 or 429 with a retry hint.
//
// # Failure policy
//
// Rate limiting fails open when the counter store is unreachable and records a
// storage_failure audit entry. CSRF validation fails closed. Audit write failures are
// logged and counted but never fail the request.
package goGuard
