// Package audit records security-relevant events as append-only, risk-scored entries.
//
// # Scoring
//
// Every [EventType] has a base score and a family in a static table. Context flags
// ([FlagRepeatedFailures], [FlagAdminAction], [FlagSensitiveData],
// [FlagExternalAccess]) are written into the entry details at record time, so
// [Score] and [SeverityFor] are pure functions of (type, details) and an entry's
// score never changes after it is written. Scores are clamped to 0..10.
//
// # Failure semantics
//
// [Recorder.Record] never returns an error. Store failures are reported through the
// logger and the optional write-error hook only.
//
// # What this package must NOT do
//
//   - Decide which events to emit; callers own that.
//   - Update or delete individual entries. Only [Recorder.Cleanup] removes rows.
//   - Import goGuard or any sibling package.
package audit
