// Package jwt issues and verifies bearer tokens signed with HS256 under a rotating set
// of secrets.
//
// Tokens carry the signing secret's id in the kid header. Verification tries that
// secret first and then falls back to every active secret newest first, so tokens keep
// working after a newer secret becomes primary. An unknown kid triggers one throttled
// reload of the key source before the token is rejected.
//
// # What this package must NOT do
//
//   - Load users or tenants (claims are re-validated by the caller).
//   - Persist anything.
package jwt
