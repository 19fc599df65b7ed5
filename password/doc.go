// Package password implements Argon2id hashing and a configurable password policy.
//
// # Hashing
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so callers
// can re-hash on the next successful login.
//
// # Policy
//
// [Policy.Validate] is a pure function of the candidate, identity hints and the
// previous hashes. Every failing rule contributes one message to [Result.Errors];
// the candidate is valid iff no rule fails. Strength is banded from the entropy
// estimate and is always weak for an invalid candidate.
//
// # What this package must NOT do
//
//   - Load password history itself. Callers supply previous hashes.
//   - Import any other goGuard package.
//   - Log plaintext passwords.
package password
