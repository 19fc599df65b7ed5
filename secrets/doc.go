// Package secrets owns the lifecycle of token signing secrets: generation, time- and
// size-based rotation, and the multi-secret view used by verification.
//
// # Lifecycle
//
// A [Manager] is constructed once at process start and initialized with [Manager.Init]
// before it is handed to any caller. Init fails with [ErrNoActiveSecret] when the store
// holds no usable secret and no bootstrap secret is configured; that condition is fatal
// for the process.
//
// Rotation creates a new primary secret when the current one is older than the rotation
// interval, deactivates secrets past their lifetime, and evicts the oldest active
// secrets beyond the configured cap. Superseded secrets stay in [Manager.ActiveSecrets]
// until they expire or are evicted, so tokens signed under them keep verifying.
//
// # Architecture boundaries
//
// This package persists secrets through the caller-supplied [Store]. It does not sign or
// parse tokens; that belongs to the jwt package.
//
// # What this package must NOT do
//
//   - Delete secret rows (deactivation only).
//   - Log secret material.
//   - Import goGuard or any sibling package.
package secrets
