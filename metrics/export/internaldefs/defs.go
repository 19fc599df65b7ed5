package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for entries lost to a full async audit buffer.
const AuditDroppedName = "goguard_audit_dropped_total"

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricAuthSuccess, Name: "goguard_auth_success_total", Help: "Requests that passed every authenticator stage."},
	{ID: goGuard.MetricAuthMissingHeader, Name: "goguard_auth_missing_header_total", Help: "Requests without a usable bearer header."},
	{ID: goGuard.MetricAuthTokenExpired, Name: "goguard_auth_token_expired_total", Help: "Requests carrying an expired token."},
	{ID: goGuard.MetricAuthTokenRejected, Name: "goguard_auth_token_rejected_total", Help: "Requests carrying a malformed, forged or not yet valid token."},
	{ID: goGuard.MetricAuthSubjectInactive, Name: "goguard_auth_subject_inactive_total", Help: "Requests for unknown, inactive or mismatched subjects."},
	{ID: goGuard.MetricAuthForbidden, Name: "goguard_auth_forbidden_total", Help: "Requests rejected by a role gate."},
	{ID: goGuard.MetricTokenIssued, Name: "goguard_token_issued_total", Help: "Tokens signed."},
	{ID: goGuard.MetricRateLimitAllowed, Name: "goguard_rate_limit_allowed_total", Help: "Rate-limit checks that admitted the request."},
	{ID: goGuard.MetricRateLimitRejected, Name: "goguard_rate_limit_rejected_total", Help: "Rate-limit checks that rejected the request."},
	{ID: goGuard.MetricRateLimitFailOpen, Name: "goguard_rate_limit_fail_open_total", Help: "Rate-limit checks admitted because the counter store failed."},
	{ID: goGuard.MetricCSRFIssued, Name: "goguard_csrf_issued_total", Help: "CSRF tokens issued."},
	{ID: goGuard.MetricCSRFValidated, Name: "goguard_csrf_validated_total", Help: "CSRF tokens consumed successfully."},
	{ID: goGuard.MetricCSRFRejected, Name: "goguard_csrf_rejected_total", Help: "CSRF validations that failed."},
	{ID: goGuard.MetricPasswordAccepted, Name: "goguard_password_accepted_total", Help: "Password candidates that met the policy."},
	{ID: goGuard.MetricPasswordRejected, Name: "goguard_password_rejected_total", Help: "Password candidates that failed the policy."},
	{ID: goGuard.MetricAuditWriteFailure, Name: "goguard_audit_write_failure_total", Help: "Audit entries the store failed to persist."},
	{ID: goGuard.MetricSecretRotation, Name: "goguard_secret_rotation_total", Help: "Signing secret rotations that changed the active set."},
	{ID: goGuard.MetricSecretReload, Name: "goguard_secret_reload_total", Help: "Successful signing secret reloads."},
	{ID: goGuard.MetricMaintenanceFailure, Name: "goguard_maintenance_failure_total", Help: "Maintenance passes with at least one failed step."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricAuthenticateLatency, Name: "goguard_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket in instrument names that cannot carry labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-padding short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals exporters expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
