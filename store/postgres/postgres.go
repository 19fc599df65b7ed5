// Package postgres implements goGuard.Store on PostgreSQL through pgx.
//
// Every method runs a single statement, so rate-limit counters and CSRF consumption stay
// atomic across any number of stateless instances sharing one database.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/secrets"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool the store uses. A pgx.Tx also satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate creates every table and index the store needs. It is safe to run repeatedly.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate goguard schema: %w", err)
	}
	return nil
}

const defaultSubjectQuery = `SELECT u.id, u.tenant_id, u.email, u.name, u.role, u.active, COALESCE(t.active, false)
FROM users u
LEFT JOIN tenants t ON t.id = u.tenant_id
WHERE u.id = $1`

// Store is the PostgreSQL store.
type Store struct {
	db           DB
	subjectQuery string
}

var (
	_ goGuard.Store  = (*Store)(nil)
	_ secrets.Locker = (*Store)(nil)
)

// Option customizes a Store.
type Option func(*Store)

// WithSubjectQuery replaces the query LoadSubject runs. It receives the user id as $1 and
// must return id, tenant_id, email, name, role, user active and tenant active, in that
// order.
func WithSubjectQuery(query string) Option {
	return func(s *Store) {
		if query != "" {
			s.subjectQuery = query
		}
	}
}

// New returns a store backed by db.
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, subjectQuery: defaultSubjectQuery}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

/*
====================================
SECRETS
====================================
*/

func (s *Store) ListSecrets(ctx context.Context) ([]secrets.Secret, error) {
	rows, err := s.db.Query(ctx, `SELECT id, material, active, created_at, expires_at, description
FROM goguard_signing_secrets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var out []secrets.Secret
	for rows.Next() {
		var sec secrets.Secret
		if err := rows.Scan(&sec.ID, &sec.Material, &sec.Active, &sec.CreatedAt, &sec.ExpiresAt, &sec.Description); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	return out, nil
}

func (s *Store) InsertSecret(ctx context.Context, sec secrets.Secret) error {
	_, err := s.db.Exec(ctx, `INSERT INTO goguard_signing_secrets (id, material, active, created_at, expires_at, description)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`,
		sec.ID, sec.Material, sec.Active, sec.CreatedAt, sec.ExpiresAt, sec.Description)
	if err != nil {
		return fmt.Errorf("insert secret: %w", err)
	}
	return nil
}

func (s *Store) DeactivateSecrets(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `UPDATE goguard_signing_secrets SET active = false WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deactivate secrets: %w", err)
	}
	return nil
}

// rotationLockKey is the advisory lock id guarding secret rotation ("goguard" in ASCII).
const rotationLockKey int64 = 0x676f6775617264

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithRotationLock runs fn while holding a transaction-scoped advisory lock, so one
// rotation pass runs at a time across every instance. fn uses its own connections; the
// pool needs at least two. When db cannot begin transactions fn runs unguarded.
func (s *Store) WithRotationLock(ctx context.Context, fn func(context.Context) error) error {
	b, ok := s.db.(beginner)
	if !ok {
		return fn(ctx)
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotation lock: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, rotationLockKey); err != nil {
		return fmt.Errorf("acquire rotation lock: %w", err)
	}
	return fn(ctx)
}

/*
====================================
RATE LIMIT COUNTERS
====================================
*/

// Every SET expression reads the pre-update row, so the three CASEs agree on whether the
// window rolled over.
const hitCounterSQL = `INSERT INTO goguard_rate_counters AS c (key, count, window_start, expires_at)
VALUES ($1, 1, $2, $3)
ON CONFLICT (key) DO UPDATE SET
    count = CASE
        WHEN c.expires_at <= $2 THEN 1
        WHEN c.count > $4 THEN c.count
        ELSE c.count + 1
    END,
    window_start = CASE WHEN c.expires_at <= $2 THEN $2 ELSE c.window_start END,
    expires_at = CASE WHEN c.expires_at <= $2 THEN $3 ELSE c.expires_at END
RETURNING count, expires_at`

func (s *Store) HitCounter(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, time.Time, error) {
	var (
		count     int
		expiresAt time.Time
	)
	err := s.db.QueryRow(ctx, hitCounterSQL, key, now, now.Add(window), limit).Scan(&count, &expiresAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("hit counter: %w", err)
	}
	return count, expiresAt, nil
}

func (s *Store) DeleteExpiredCounters(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM goguard_rate_counters WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

/*
====================================
CSRF
====================================
*/

func (s *Store) InsertCSRFToken(ctx context.Context, rec csrf.Record) error {
	_, err := s.db.Exec(ctx, `INSERT INTO goguard_csrf_tokens (token_hash, user_id, session_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`,
		rec.TokenHash, rec.UserID, rec.SessionID, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert csrf token: %w", err)
	}
	return nil
}

func (s *Store) ConsumeCSRFToken(ctx context.Context, tokenHash, userID, sessionID string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM goguard_csrf_tokens
WHERE token_hash = $1
  AND expires_at > $2
  AND ($3 = '' OR user_id = $3)
  AND ($4 = '' OR session_id = $4)`,
		tokenHash, now, userID, sessionID)
	if err != nil {
		return false, fmt.Errorf("consume csrf token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteExpiredCSRFTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM goguard_csrf_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired csrf tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

/*
====================================
AUDIT
====================================
*/

const auditColumns = `id, event_type, severity, user_id, tenant_id, session_id, ip_address, user_agent,
request_id, resource, action, details, risk_score, tags, created_at`

func (s *Store) InsertAuditEntry(ctx context.Context, e audit.Entry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO goguard_audit_entries (`+auditColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, string(e.Type), string(e.Severity), e.UserID, e.TenantID, e.SessionID, e.IP, e.UserAgent,
		e.RequestID, e.Resource, e.Action, details, e.RiskScore, tags, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// auditWhere renders f as a WHERE clause with positional arguments.
func auditWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", types)
	}
	if len(f.Severities) > 0 {
		sev := make([]string, len(f.Severities))
		for i, v := range f.Severities {
			sev[i] = string(v)
		}
		add("severity = ANY($%d)", sev)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.IP != "" {
		add("ip_address = $%d", f.IP)
	}
	if f.Resource != "" {
		add("resource = $%d", f.Resource)
	}
	if len(f.Tags) > 0 {
		add("tags @> $%d", f.Tags)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) QueryAuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM goguard_audit_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM goguard_audit_entries%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		auditColumns, where, n+1, n+2)
	rows, err := s.db.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0, f.Limit)
	for rows.Next() {
		var (
			e        audit.Entry
			typ, sev string
		)
		if err := rows.Scan(&e.ID, &typ, &sev, &e.UserID, &e.TenantID, &e.SessionID, &e.IP, &e.UserAgent,
			&e.RequestID, &e.Resource, &e.Action, &e.Details, &e.RiskScore, &e.Tags, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Type = audit.EventType(typ)
		e.Severity = audit.Severity(sev)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	return entries, total, nil
}

func (s *Store) SummarizeAudit(ctx context.Context, since time.Time, topN int) (audit.Summary, error) {
	var sum audit.Summary
	err := s.db.QueryRow(ctx, `SELECT
    COUNT(*),
    COUNT(*) FILTER (WHERE severity = $2),
    COUNT(*) FILTER (WHERE severity = $3),
    COUNT(*) FILTER (WHERE event_type = $4),
    COUNT(*) FILTER (WHERE event_type = $5)
FROM goguard_audit_entries WHERE created_at >= $1`,
		since, string(audit.SeverityCritical), string(audit.SeverityHigh),
		string(audit.LoginFailed), string(audit.SuspiciousActivity),
	).Scan(&sum.Total, &sum.Critical, &sum.High, &sum.FailedLogins, &sum.SuspiciousActivity)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("summarize audit entries: %w", err)
	}

	sum.TopEventTypes, err = s.topCounts(ctx, "event_type", since, topN)
	if err != nil {
		return audit.Summary{}, err
	}
	sum.TopIPs, err = s.topCounts(ctx, "ip_address", since, topN)
	if err != nil {
		return audit.Summary{}, err
	}
	return sum, nil
}

// topCounts groups by column, which is always a constant chosen by SummarizeAudit.
func (s *Store) topCounts(ctx context.Context, column string, since time.Time, n int) ([]audit.Count, error) {
	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*) AS n FROM goguard_audit_entries
WHERE created_at >= $1 AND %[1]s <> ''
GROUP BY %[1]s ORDER BY n DESC, %[1]s ASC LIMIT $2`, column)
	rows, err := s.db.Query(ctx, query, since, n)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", column, err)
	}
	defer rows.Close()

	out := []audit.Count{}
	for rows.Next() {
		var c audit.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("scan top %s: %w", column, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM goguard_audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

/*
====================================
SUBJECTS AND PASSWORD HISTORY
====================================
*/

func (s *Store) LoadSubject(ctx context.Context, userID string) (goGuard.Subject, error) {
	var sub goGuard.Subject
	err := s.db.QueryRow(ctx, s.subjectQuery, userID).Scan(
		&sub.UserID, &sub.TenantID, &sub.Email, &sub.Name, &sub.Role, &sub.Active, &sub.TenantActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return goGuard.Subject{}, goGuard.ErrSubjectNotFound
	}
	if err != nil {
		return goGuard.Subject{}, fmt.Errorf("load subject: %w", err)
	}
	return sub, nil
}

func (s *Store) PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT password_hash FROM goguard_password_history
WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("password history: %w", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("password history: %w", err)
	}
	return hashes, nil
}

func (s *Store) AppendPasswordHistory(ctx context.Context, userID, hash string, at time.Time) error {
	_, err := s.db.Exec(ctx, `INSERT INTO goguard_password_history (user_id, password_hash, created_at) VALUES ($1, $2, $3)`,
		userID, hash, at)
	if err != nil {
		return fmt.Errorf("append password history: %w", err)
	}
	return nil
}
