// Package memory is an in-process implementation of goGuard.Store for tests, local
// development and single-instance deployments. All state is lost on restart.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/audit"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/secrets"
)

type counter struct {
	count     int
	expiresAt time.Time
}

type historyRow struct {
	hash string
	at   time.Time
}

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex
	// rotation serializes secret rotation between engines sharing the store.
	rotation sync.Mutex

	secrets  []secrets.Secret
	counters map[string]counter
	csrf     map[string]csrf.Record
	audit    []audit.Entry
	subjects map[string]goGuard.Subject
	history  map[string][]historyRow

	// fail, when set, is returned by every operation. Tests use it to simulate outages.
	fail error
}

var (
	_ goGuard.Store  = (*Store)(nil)
	_ secrets.Locker = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		counters: make(map[string]counter),
		csrf:     make(map[string]csrf.Record),
		subjects: make(map[string]goGuard.Subject),
		history:  make(map[string][]historyRow),
	}
}

// PutSubject inserts or replaces a subject.
func (s *Store) PutSubject(sub goGuard.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[sub.UserID] = sub
}

// SetFailure makes every subsequent operation return err. Pass nil to recover.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// AuditEntries returns a copy of every stored audit entry in insertion order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

/*
====================================
SECRETS
====================================
*/

func (s *Store) ListSecrets(_ context.Context) ([]secrets.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]secrets.Secret, len(s.secrets))
	for i, sec := range s.secrets {
		sec.Material = slices.Clone(sec.Material)
		out[i] = sec
	}
	return out, nil
}

func (s *Store) InsertSecret(_ context.Context, secret secrets.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for _, existing := range s.secrets {
		if existing.ID == secret.ID {
			return nil
		}
	}
	secret.Material = slices.Clone(secret.Material)
	s.secrets = append(s.secrets, secret)
	return nil
}

func (s *Store) DeactivateSecrets(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for i := range s.secrets {
		if slices.Contains(ids, s.secrets[i].ID) {
			s.secrets[i].Active = false
		}
	}
	return nil
}

func (s *Store) WithRotationLock(ctx context.Context, fn func(context.Context) error) error {
	s.rotation.Lock()
	defer s.rotation.Unlock()
	return fn(ctx)
}

/*
====================================
RATE LIMIT COUNTERS
====================================
*/

func (s *Store) HitCounter(_ context.Context, key string, limit int, window time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, time.Time{}, s.fail
	}
	c, ok := s.counters[key]
	switch {
	case !ok || !c.expiresAt.After(now):
		c = counter{count: 1, expiresAt: now.Add(window)}
	case c.count > limit:
	default:
		c.count++
	}
	s.counters[key] = c
	return c.count, c.expiresAt, nil
}

func (s *Store) DeleteExpiredCounters(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var n int64
	for key, c := range s.counters {
		if !c.expiresAt.After(now) {
			delete(s.counters, key)
			n++
		}
	}
	return n, nil
}

/*
====================================
CSRF
====================================
*/

func (s *Store) InsertCSRFToken(_ context.Context, rec csrf.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.csrf[rec.TokenHash] = rec
	return nil
}

func (s *Store) ConsumeCSRFToken(_ context.Context, tokenHash, userID, sessionID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	rec, ok := s.csrf[tokenHash]
	if !ok || !rec.ExpiresAt.After(now) {
		return false, nil
	}
	if userID != "" && rec.UserID != userID {
		return false, nil
	}
	if sessionID != "" && rec.SessionID != sessionID {
		return false, nil
	}
	delete(s.csrf, tokenHash)
	return true, nil
}

func (s *Store) DeleteExpiredCSRFTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var n int64
	for hash, rec := range s.csrf {
		if !rec.ExpiresAt.After(now) {
			delete(s.csrf, hash)
			n++
		}
	}
	return n, nil
}

/*
====================================
AUDIT
====================================
*/

func (s *Store) InsertAuditEntry(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	entry.Details = maps.Clone(entry.Details)
	entry.Tags = slices.Clone(entry.Tags)
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) QueryAuditEntries(_ context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, 0, s.fail
	}
	var matched []audit.Entry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if f.Matches(s.audit[i]) {
			matched = append(matched, s.audit[i])
		}
	}
	slices.SortStableFunc(matched, func(a, b audit.Entry) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	total := len(matched)
	if f.Offset >= total {
		return []audit.Entry{}, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return slices.Clone(matched[f.Offset:end]), total, nil
}

func (s *Store) SummarizeAudit(_ context.Context, since time.Time, topN int) (audit.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return audit.Summary{}, s.fail
	}
	var sum audit.Summary
	types := make(map[string]int64)
	ips := make(map[string]int64)
	for _, e := range s.audit {
		if e.Timestamp.Before(since) {
			continue
		}
		sum.Total++
		switch e.Severity {
		case audit.SeverityCritical:
			sum.Critical++
		case audit.SeverityHigh:
			sum.High++
		}
		switch e.Type {
		case audit.LoginFailed:
			sum.FailedLogins++
		case audit.SuspiciousActivity:
			sum.SuspiciousActivity++
		}
		types[string(e.Type)]++
		if e.IP != "" {
			ips[e.IP]++
		}
	}
	sum.TopEventTypes = audit.SortCounts(types, topN)
	sum.TopIPs = audit.SortCounts(ips, topN)
	return sum, nil
}

func (s *Store) DeleteAuditEntriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	kept := s.audit[:0]
	var n int64
	for _, e := range s.audit {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return n, nil
}

/*
====================================
SUBJECTS AND PASSWORD HISTORY
====================================
*/

func (s *Store) LoadSubject(_ context.Context, userID string) (goGuard.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return goGuard.Subject{}, s.fail
	}
	sub, ok := s.subjects[userID]
	if !ok {
		return goGuard.Subject{}, goGuard.ErrSubjectNotFound
	}
	return sub, nil
}

func (s *Store) PasswordHistory(_ context.Context, userID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	rows := s.history[userID]
	out := make([]string, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i].hash)
	}
	return out, nil
}

func (s *Store) AppendPasswordHistory(_ context.Context, userID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.history[userID] = append(s.history[userID], historyRow{hash: hash, at: at})
	return nil
}
