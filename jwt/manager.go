package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/secrets"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed is returned for tokens that cannot be decoded.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired is returned for tokens past their exp claim.
	ErrExpired = errors.New("token expired")
	// ErrNotYetValid is returned for tokens whose nbf or iat lies in the future.
	ErrNotYetValid = errors.New("token not yet valid")
	// ErrSignatureInvalid is returned when no active secret verifies the signature.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrInvalidPurpose is returned when issuing for an unknown purpose.
	ErrInvalidPurpose = errors.New("invalid token purpose")
)

// Purpose selects the lifetime of an issued token.
type Purpose string

const (
	PurposeLogin   Purpose = "login"
	PurposeRefresh Purpose = "refresh"
	PurposeAPI     Purpose = "api"
	PurposeAdmin   Purpose = "admin"
)

// KeySource supplies signing and verification secrets.
type KeySource interface {
	PrimarySecret() (secrets.Secret, error)
	ActiveSecrets() []secrets.Secret
	Lookup(id string) (secrets.Secret, bool)
}

// reloader is implemented by key sources that can refresh their view on a kid miss.
type reloader interface {
	ReloadIfStale(ctx context.Context) bool
}

// Config holds per-purpose lifetimes and validation settings.
type Config struct {
	TTL              map[Purpose]time.Duration
	RefreshThreshold time.Duration
	Issuer           string
	Leeway           time.Duration
	MaxFutureIAT     time.Duration
}

// DefaultConfig returns login=8h, refresh=24h, api=1h, admin=4h and a 15 minute
// refresh threshold.
func DefaultConfig() Config {
	return Config{
		TTL: map[Purpose]time.Duration{
			PurposeLogin:   8 * time.Hour,
			PurposeRefresh: 24 * time.Hour,
			PurposeAPI:     time.Hour,
			PurposeAdmin:   4 * time.Hour,
		},
		RefreshThreshold: 15 * time.Minute,
		MaxFutureIAT:     time.Minute,
	}
}

// Claims is the decoded bearer token payload.
type Claims struct {
	UserID   string  `json:"uid"`
	TenantID string  `json:"tid"`
	Email    string  `json:"email,omitempty"`
	Role     string  `json:"role"`
	Purpose  Purpose `json:"pur"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 tokens against a rotating secret set.
type Manager struct {
	config Config
	keys   KeySource
	now    func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock used for issuance and validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates cfg and returns a Manager bound to keys.
func NewManager(cfg Config, keys KeySource, opts ...Option) (*Manager, error) {
	if keys == nil {
		return nil, errors.New("key source required")
	}
	if len(cfg.TTL) == 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	for purpose, ttl := range cfg.TTL {
		if ttl <= 0 {
			return nil, fmt.Errorf("invalid TTL for purpose %q", purpose)
		}
	}
	if cfg.RefreshThreshold < 0 {
		return nil, errors.New("invalid refresh threshold")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	ttl := make(map[Purpose]time.Duration, len(cfg.TTL))
	for k, v := range cfg.TTL {
		ttl[k] = v
	}
	cfg.TTL = ttl

	m := &Manager{config: cfg, keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the lifetime configured for purpose.
func (j *Manager) TTL(purpose Purpose) (time.Duration, bool) {
	ttl, ok := j.config.TTL[purpose]
	return ttl, ok
}

// Issue signs claims with the primary secret. Registered time claims are set from
// the purpose's lifetime; any caller-provided values are overwritten.
func (j *Manager) Issue(claims Claims, purpose Purpose) (string, time.Time, error) {
	ttl, ok := j.config.TTL[purpose]
	if !ok {
		return "", time.Time{}, ErrInvalidPurpose
	}
	primary, err := j.keys.PrimarySecret()
	if err != nil {
		return "", time.Time{}, err
	}

	now := j.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims.Purpose = purpose
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.Subject = claims.UserID
	claims.Issuer = j.config.Issuer
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = primary.ID

	signed, err := token.SignedString(primary.Material)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses tokenStr, trying the secret named by its kid first and then every
// active secret newest first. Rejections map onto ErrMalformed, ErrExpired,
// ErrNotYetValid and ErrSignatureInvalid.
func (j *Manager) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformed
	}

	kid, err := j.peekKeyID(tokenStr)
	if err != nil {
		return nil, err
	}

	candidates := j.candidates(kid)
	if kid != "" && !containsID(candidates, kid) {
		if r, ok := j.keys.(reloader); ok && r.ReloadIfStale(ctx) {
			candidates = j.candidates(kid)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrSignatureInvalid
	}

	for _, secret := range candidates {
		claims, err := j.parseWith(tokenStr, secret.Material)
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, ErrSignatureInvalid) {
			continue
		}
		return nil, err
	}
	return nil, ErrSignatureInvalid
}

// NeedsRefresh reports whether claims expire within the refresh threshold.
func (j *Manager) NeedsRefresh(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Time.Sub(j.now()) < j.config.RefreshThreshold
}

func (j *Manager) peekKeyID(tokenStr string) (string, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return "", ErrMalformed
	}
	kid, _ := token.Header["kid"].(string)
	return kid, nil
}

func (j *Manager) candidates(kid string) []secrets.Secret {
	active := j.keys.ActiveSecrets()
	if kid == "" {
		return active
	}
	preferred, ok := j.keys.Lookup(kid)
	if !ok {
		return active
	}
	out := make([]secrets.Secret, 0, len(active))
	out = append(out, preferred)
	for _, s := range active {
		if s.ID != kid {
			out = append(out, s)
		}
	}
	return out
}

func containsID(list []secrets.Secret, id string) bool {
	for _, s := range list {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (j *Manager) parseWith(tokenStr string, key []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}

	now := j.now()
	// exp is checked again so that every expiry surfaces as ErrExpired.
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time.Add(j.config.Leeway)) {
		return nil, ErrExpired
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(now.Add(j.config.MaxFutureIAT)) {
			return nil, ErrNotYetValid
		}
	}
	if claims.UserID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	default:
		return ErrMalformed
	}
}
