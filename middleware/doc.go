// Package middleware adapts goGuard.Engine to net/http.
//
// # Guards
//
//   - [Guard] runs Engine.Authorize for a role gate and limit class.
//   - [RequireAdmin] and [RequireMasterAdmin] are Guard with the built-in gates.
//   - [CSRF] consumes a single-use token on state-changing methods.
//
// Rejections are written as the JSON body from Engine.ErrorResponse with the matching
// status code and, for rate-limit rejections, a Retry-After header.
//
// This package only translates HTTP semantics into Engine calls. Token parsing, subject
// checks and rate limiting all happen in the Engine.
package middleware
