package audit

import (
	"encoding/json"
	"strconv"
)

// EventType is the closed enumeration of auditable events.
type EventType string

// Family groups event types for tagging.
type Family string

const (
	FamilyAuthentication  Family = "authentication"
	FamilyAuthorization   Family = "authorization"
	FamilyDataAccess      Family = "data-access"
	FamilySecurity        Family = "security"
	FamilyAPI             Family = "api"
	FamilyFileOperations  Family = "file-operations"
	FamilyOrderManagement Family = "order-management"
	FamilyFinancial       Family = "financial"
)

const (
	LoginSuccess           EventType = "login_success"
	LoginFailed            EventType = "login_failed"
	Logout                 EventType = "logout"
	TokenRefresh           EventType = "token_refresh"
	TokenExpired           EventType = "token_expired"
	TokenInvalid           EventType = "token_invalid"
	PasswordChanged        EventType = "password_changed"
	PasswordResetRequested EventType = "password_reset_requested"
	AccountLocked          EventType = "account_locked"
	MFAFailed              EventType = "mfa_failed"

	AccessDenied               EventType = "access_denied"
	PrivilegeEscalationAttempt EventType = "privilege_escalation_attempt"
	RoleChanged                EventType = "role_changed"

	DataRead            EventType = "data_read"
	DataExport          EventType = "data_export"
	SensitiveDataAccess EventType = "sensitive_data_access"
	BulkDataAccess      EventType = "bulk_data_access"

	CSRFViolation      EventType = "csrf_violation"
	RateLimitExceeded  EventType = "rate_limit_exceeded"
	SuspiciousActivity EventType = "suspicious_activity"
	MaliciousInput     EventType = "malicious_input"
	SignatureInvalid   EventType = "signature_invalid"
	SecretRotated      EventType = "secret_rotated"
	StorageFailure     EventType = "storage_failure"

	APIRequest              EventType = "api_request"
	APIKeyUsed              EventType = "api_key_used"
	APIError                EventType = "api_error"
	WebhookReceived         EventType = "webhook_received"
	WebhookSignatureInvalid EventType = "webhook_signature_invalid"

	FileUpload   EventType = "file_upload"
	FileDownload EventType = "file_download"
	FileDeleted  EventType = "file_deleted"

	OrderCreated    EventType = "order_created"
	OrderUpdated    EventType = "order_updated"
	OrderCancelled  EventType = "order_cancelled"
	BulkOrderImport EventType = "bulk_order_import"

	CreditAdjusted   EventType = "credit_adjusted"
	PaymentProcessed EventType = "payment_processed"
	RefundIssued     EventType = "refund_issued"
	InvoiceGenerated EventType = "invoice_generated"
)

// Definition is one row of the event table.
type Definition struct {
	BaseScore int
	Family    Family
}

var catalog = map[EventType]Definition{
	LoginSuccess:           {1, FamilyAuthentication},
	LoginFailed:            {3, FamilyAuthentication},
	Logout:                 {1, FamilyAuthentication},
	TokenRefresh:           {1, FamilyAuthentication},
	TokenExpired:           {2, FamilyAuthentication},
	TokenInvalid:           {5, FamilyAuthentication},
	PasswordChanged:        {4, FamilyAuthentication},
	PasswordResetRequested: {3, FamilyAuthentication},
	AccountLocked:          {6, FamilyAuthentication},
	MFAFailed:              {5, FamilyAuthentication},

	AccessDenied:               {5, FamilyAuthorization},
	PrivilegeEscalationAttempt: {9, FamilyAuthorization},
	RoleChanged:                {6, FamilyAuthorization},

	DataRead:            {1, FamilyDataAccess},
	DataExport:          {4, FamilyDataAccess},
	SensitiveDataAccess: {5, FamilyDataAccess},
	BulkDataAccess:      {6, FamilyDataAccess},

	CSRFViolation:      {7, FamilySecurity},
	RateLimitExceeded:  {4, FamilySecurity},
	SuspiciousActivity: {8, FamilySecurity},
	MaliciousInput:     {8, FamilySecurity},
	SignatureInvalid:   {7, FamilySecurity},
	SecretRotated:      {3, FamilySecurity},
	StorageFailure:     {4, FamilySecurity},

	APIRequest:              {1, FamilyAPI},
	APIKeyUsed:              {2, FamilyAPI},
	APIError:                {2, FamilyAPI},
	WebhookReceived:         {2, FamilyAPI},
	WebhookSignatureInvalid: {7, FamilyAPI},

	FileUpload:   {2, FamilyFileOperations},
	FileDownload: {2, FamilyFileOperations},
	FileDeleted:  {4, FamilyFileOperations},

	OrderCreated:    {1, FamilyOrderManagement},
	OrderUpdated:    {1, FamilyOrderManagement},
	OrderCancelled:  {2, FamilyOrderManagement},
	BulkOrderImport: {3, FamilyOrderManagement},

	CreditAdjusted:   {6, FamilyFinancial},
	PaymentProcessed: {4, FamilyFinancial},
	RefundIssued:     {5, FamilyFinancial},
	InvoiceGenerated: {2, FamilyFinancial},
}

// Lookup returns the table row for t.
func Lookup(t EventType) (Definition, bool) {
	d, ok := catalog[t]
	return d, ok
}

// Known reports whether t is part of the enumeration.
func Known(t EventType) bool {
	_, ok := catalog[t]
	return ok
}

// Context flags stored in Entry.Details.
const (
	FlagRepeatedFailures = "repeated_failures"
	FlagAdminAction      = "admin_action"
	FlagSensitiveData    = "sensitive_data"
	FlagExternalAccess   = "external_access"
)

// repeatedFailureThreshold is the failed_attempts value that implies repeated_failures.
const repeatedFailureThreshold = 3

type flagRule struct {
	name   string
	weight int
}

// flagRules is ordered; tags are emitted in this order.
var flagRules = []flagRule{
	{FlagRepeatedFailures, 2},
	{FlagAdminAction, 2},
	{FlagSensitiveData, 3},
	{FlagExternalAccess, 1},
}

// Severity is derived from the risk score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	minScore = 0
	maxScore = 10
)

// Score computes the clamped risk score of t given details. Unknown types score 0.
func Score(t EventType, details map[string]any) int {
	def, ok := catalog[t]
	if !ok {
		return minScore
	}
	score := def.BaseScore
	for _, rule := range flagRules {
		if flagSet(details, rule.name) {
			score += rule.weight
		}
	}
	switch {
	case score > maxScore:
		return maxScore
	case score < minScore:
		return minScore
	}
	return score
}

// SeverityFor thresholds a score: >=8 critical, >=6 high, >=4 medium, otherwise low.
func SeverityFor(score int) Severity {
	switch {
	case score >= 8:
		return SeverityCritical
	case score >= 6:
		return SeverityHigh
	case score >= 4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Tags returns the event family followed by every set flag.
func Tags(t EventType, details map[string]any) []string {
	var tags []string
	if def, ok := catalog[t]; ok {
		tags = append(tags, string(def.Family))
	}
	for _, rule := range flagRules {
		if flagSet(details, rule.name) {
			tags = append(tags, rule.name)
		}
	}
	return tags
}

func flagSet(details map[string]any, name string) bool {
	if details == nil {
		return false
	}
	if truthy(details[name]) {
		return true
	}
	if name == FlagRepeatedFailures {
		n, ok := number(details["failed_attempts"])
		return ok && n >= repeatedFailureThreshold
	}
	return false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		return err == nil && parsed
	}
	return false
}

// number accepts the numeric shapes produced by Go callers and by JSON decoding.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
