package audit

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	// DefaultQueryLimit is applied when Filter.Limit is zero.
	DefaultQueryLimit = 50
	// MaxQueryLimit caps Filter.Limit.
	MaxQueryLimit = 500
	// summaryTopN is the number of rows in each top-N list of a Summary.
	summaryTopN = 10
)

// ErrInvalidTimeframe is returned for timeframes outside 1h, 24h, 7d and 30d.
var ErrInvalidTimeframe = errors.New("invalid audit timeframe")

// Filter selects entries. Zero-valued fields do not constrain the result; every tag in
// Tags must be present on a matching entry.
type Filter struct {
	Types      []EventType
	Severities []Severity
	UserID     string
	TenantID   string
	IP         string
	Resource   string
	Tags       []string
	From       time.Time
	To         time.Time
	Offset     int
	Limit      int
}

// Normalize applies the default and maximum limit and clamps a negative offset.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether e satisfies every constraint in f. Offset and Limit are
// ignored. From is inclusive, To is exclusive.
func (f Filter) Matches(e Entry) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, e.Severity) {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.IP != "" && e.IP != f.IP {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(e.Tags, tag) {
			return false
		}
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Page is one slice of a query result, newest entries first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	HasMore bool    `json:"hasMore"`
}

// Timeframe is a SecurityMetrics lookback window.
type Timeframe string

const (
	LastHour  Timeframe = "1h"
	LastDay   Timeframe = "24h"
	LastWeek  Timeframe = "7d"
	LastMonth Timeframe = "30d"
)

// Duration returns the lookback length of tf.
func (tf Timeframe) Duration() (time.Duration, error) {
	switch tf {
	case LastHour:
		return time.Hour, nil
	case LastDay:
		return 24 * time.Hour, nil
	case LastWeek:
		return 7 * 24 * time.Hour, nil
	case LastMonth:
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, string(tf))
}

// Count is one row of a top-N list.
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Summary aggregates entries since a cutoff.
type Summary struct {
	Timeframe          Timeframe `json:"timeframe"`
	Since              time.Time `json:"since"`
	Total              int64     `json:"totalEvents"`
	Critical           int64     `json:"criticalEvents"`
	High               int64     `json:"highEvents"`
	FailedLogins       int64     `json:"failedLogins"`
	SuspiciousActivity int64     `json:"suspiciousActivities"`
	TopEventTypes      []Count   `json:"topEventTypes"`
	TopIPs             []Count   `json:"topIPs"`
}

// SortCounts orders counts by descending count, then ascending key, and truncates to n.
func SortCounts(counts map[string]int64, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, v := range counts {
		out = append(out, Count{Key: k, Count: v})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
