// Package csrf issues single-use anti-forgery tokens.
//
// Only the SHA-256 digest of a token is persisted; the raw value is returned once by
// [Manager.Issue]. [Manager.Validate] consumes a token with one atomic store call, so a
// second validation of the same value always fails.
package csrf
