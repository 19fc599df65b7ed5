// Package internal holds helpers private to goGuard: random token generation and the
// digests under which opaque tokens are stored. The rate sub-package implements the
// fixed-window limiter.
package internal
