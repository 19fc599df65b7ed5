package goGuard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/secrets"
)

// MinSigningSecretLength is the minimum length of the bootstrap signing secret.
const MinSigningSecretLength = 32

// Config is the complete engine configuration. Populate it with DefaultConfig or
// LoadConfig and treat it as immutable after Build.
type Config struct {
	Token       TokenConfig       `mapstructure:"token"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	CSRF        CSRFConfig        `mapstructure:"csrf"`
	Password    PasswordConfig    `mapstructure:"password"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Security    SecurityConfig    `mapstructure:"security"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds per-purpose token lifetimes.
type TokenConfig struct {
	Issuer           string        `mapstructure:"issuer"`
	LoginTTL         time.Duration `mapstructure:"login_ttl" validate:"gt=0"`
	RefreshTTL       time.Duration `mapstructure:"refresh_ttl" validate:"gt=0"`
	APITTL           time.Duration `mapstructure:"api_ttl" validate:"gt=0"`
	AdminTTL         time.Duration `mapstructure:"admin_ttl" validate:"gt=0"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold" validate:"gte=0"`
	Leeway           time.Duration `mapstructure:"leeway" validate:"gte=0"`
	MaxFutureIAT     time.Duration `mapstructure:"max_future_iat" validate:"gte=0"`
}

/*
====================================
SECRETS CONFIG
====================================
*/

// SecretsConfig controls the signing secret lifecycle. SigningSecret seeds the store
// when it holds no usable secret.
type SecretsConfig struct {
	SigningSecret    string        `mapstructure:"signing_secret" validate:"required,min=32"`
	RotationInterval time.Duration `mapstructure:"rotation_interval" validate:"gt=0"`
	SecretLifetime   time.Duration `mapstructure:"secret_lifetime" validate:"gt=0"`
	MaxActive        int           `mapstructure:"max_active" validate:"gte=1"`
	ReloadInterval   time.Duration `mapstructure:"reload_interval" validate:"gte=0"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule is the ceiling and window of one limit class.
type RateRule struct {
	Limit  int           `mapstructure:"limit" validate:"gte=1"`
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
}

// RateLimitConfig is the static class table.
type RateLimitConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Auth    RateRule `mapstructure:"auth"`
	API     RateRule `mapstructure:"api"`
	Upload  RateRule `mapstructure:"upload"`
	Webhook RateRule `mapstructure:"webhook"`
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig controls anti-forgery tokens.
type CSRFConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the policy toggles and argon2id cost parameters.
type PasswordConfig struct {
	MinLength              int           `mapstructure:"min_length" validate:"gte=16"`
	MaxLength              int           `mapstructure:"max_length" validate:"gtefield=MinLength"`
	RequireUppercase       bool          `mapstructure:"require_uppercase"`
	RequireLowercase       bool          `mapstructure:"require_lowercase"`
	RequireDigit           bool          `mapstructure:"require_digit"`
	RequireSpecial         bool          `mapstructure:"require_special"`
	RejectCommon           bool          `mapstructure:"reject_common"`
	RejectPersonalInfo     bool          `mapstructure:"reject_personal_info"`
	RejectSequential       bool          `mapstructure:"reject_sequential"`
	RejectRepeated         bool          `mapstructure:"reject_repeated"`
	RejectKeyboardPatterns bool          `mapstructure:"reject_keyboard_patterns"`
	RejectHistory          bool          `mapstructure:"reject_history"`
	HistorySize            int           `mapstructure:"history_size" validate:"gte=0"`
	MinEntropy             float64       `mapstructure:"min_entropy" validate:"gte=0"`
	MinUniqueChars         int           `mapstructure:"min_unique_chars" validate:"gte=0"`
	MaxAge                 time.Duration `mapstructure:"max_age" validate:"gte=0"`

	Memory      uint32 `mapstructure:"memory" validate:"gte=8192"`
	Time        uint32 `mapstructure:"time" validate:"gte=1"`
	Parallelism uint8  `mapstructure:"parallelism" validate:"gte=1"`
	SaltLength  uint32 `mapstructure:"salt_length" validate:"gte=16"`
	KeyLength   uint32 `mapstructure:"key_length" validate:"gte=16"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls audit writes and retention.
type AuditConfig struct {
	Async         bool          `mapstructure:"async"`
	BufferSize    int           `mapstructure:"buffer_size" validate:"gte=1"`
	DropIfFull    bool          `mapstructure:"drop_if_full"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	RetentionDays int           `mapstructure:"retention_days" validate:"gte=1"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// SecurityConfig holds cross-cutting switches.
type SecurityConfig struct {
	// DevelopmentMode adds underlying causes to error responses.
	DevelopmentMode bool `mapstructure:"development_mode"`
}

// MaintenanceConfig drives StartMaintenance.
type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

/*
====================================
STORE CONFIG
====================================
*/

// DatabaseConfig is consumed by store/postgres.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int32         `mapstructure:"max_connections" validate:"gte=2"`
	MinConnections  int32         `mapstructure:"min_connections" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig is consumed by store/redis. An empty Addr disables Redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. SigningSecret is empty and must be set.
func DefaultConfig() Config {
	hash := password.DefaultHashConfig()
	policy := password.DefaultPolicy()
	rules := rate.DefaultRules()
	return Config{
		Token: TokenConfig{
			Issuer:           "goguard",
			LoginTTL:         8 * time.Hour,
			RefreshTTL:       24 * time.Hour,
			APITTL:           time.Hour,
			AdminTTL:         4 * time.Hour,
			RefreshThreshold: 15 * time.Minute,
			MaxFutureIAT:     time.Minute,
		},
		Secrets: SecretsConfig{
			RotationInterval: 30 * 24 * time.Hour,
			SecretLifetime:   90 * 24 * time.Hour,
			MaxActive:        3,
			ReloadInterval:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Auth:    RateRule(rules[rate.ClassAuth]),
			API:     RateRule(rules[rate.ClassAPI]),
			Upload:  RateRule(rules[rate.ClassUpload]),
			Webhook: RateRule(rules[rate.ClassWebhook]),
		},
		CSRF: CSRFConfig{
			TokenTTL: 30 * time.Minute,
		},
		Password: PasswordConfig{
			MinLength:              policy.MinLength,
			MaxLength:              policy.MaxLength,
			RequireUppercase:       policy.RequireUppercase,
			RequireLowercase:       policy.RequireLowercase,
			RequireDigit:           policy.RequireDigit,
			RequireSpecial:         policy.RequireSpecial,
			RejectCommon:           policy.RejectCommon,
			RejectPersonalInfo:     policy.RejectPersonalInfo,
			RejectSequential:       policy.RejectSequential,
			RejectRepeated:         policy.RejectRepeated,
			RejectKeyboardPatterns: policy.RejectKeyboardPatterns,
			RejectHistory:          policy.RejectHistory,
			HistorySize:            5,
			MinEntropy:             policy.MinEntropy,
			MinUniqueChars:         policy.MinUniqueChars,
			MaxAge:                 policy.MaxAge,
			Memory:                 hash.Memory,
			Time:                   hash.Time,
			Parallelism:            hash.Parallelism,
			SaltLength:             hash.SaltLength,
			KeyLength:              hash.KeyLength,
		},
		Audit: AuditConfig{
			Async:         false,
			BufferSize:    1024,
			DropIfFull:    true,
			WriteTimeout:  5 * time.Second,
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Maintenance: MaintenanceConfig{
			Interval: time.Hour,
			Timeout:  time.Minute,
		},
		Database: DatabaseConfig{
			MaxConnections:  10,
			MinConnections:  1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			KeyPrefix: "goguard",
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// weakSecrets are rejected as signing secrets regardless of length. Compared
// case-insensitively after trimming.
var weakSecrets = []string{
	"your-secret-key-change-in-production",
	"your-super-secret-jwt-key-change-this",
	"change-this-secret-in-production-please",
	"development-secret-key-change-in-production",
	"please-change-this-jwt-secret-key-now",
	"0123456789abcdef0123456789abcdef",
	"abcdefghijklmnopqrstuvwxyz123456",
	"secretsecretsecretsecretsecretsecret",
	"passwordpasswordpasswordpassword",
	"changemechangemechangemechangeme",
}

// ValidateSigningSecret checks length and the deny-list.
func ValidateSigningSecret(secret string) error {
	if len(secret) < MinSigningSecretLength {
		return fmt.Errorf("signing secret must be at least %d characters", MinSigningSecretLength)
	}
	normalized := strings.ToLower(strings.TrimSpace(secret))
	for _, weak := range weakSecrets {
		if normalized == weak {
			return errors.New("signing secret is a known weak value")
		}
	}
	if strings.Count(normalized, normalized[:1]) == len(normalized) {
		return errors.New("signing secret is a single repeated character")
	}
	return nil
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if err := ValidateSigningSecret(c.Secrets.SigningSecret); err != nil {
		return err
	}
	if c.Token.Leeway > 2*time.Minute {
		return errors.New("token leeway must be <= 2m")
	}
	if c.Secrets.RotationInterval >= c.Secrets.SecretLifetime {
		return errors.New("secrets rotation interval must be shorter than secret lifetime")
	}
	if c.Secrets.MaxActive < 1 {
		return errors.New("secrets max active must be >= 1")
	}
	for name, rule := range map[string]RateRule{
		"auth": c.RateLimit.Auth, "api": c.RateLimit.API,
		"upload": c.RateLimit.Upload, "webhook": c.RateLimit.Webhook,
	} {
		if rule.Limit < 1 || rule.Window <= 0 {
			return fmt.Errorf("rate limit class %s must have limit >= 1 and window > 0", name)
		}
	}
	if c.CSRF.TokenTTL <= 0 {
		return errors.New("csrf token ttl must be > 0")
	}
	if c.Password.MinLength < 16 {
		return errors.New("password min length must be >= 16")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("password max length must be >= min length")
	}
	if c.Audit.WriteTimeout <= 0 {
		return errors.New("audit write timeout must be > 0")
	}
	if c.Audit.RetentionDays < 1 {
		return errors.New("audit retention must be >= 1 day")
	}
	if c.Maintenance.Interval <= 0 {
		return errors.New("maintenance interval must be > 0")
	}
	if c.Maintenance.Timeout <= 0 {
		return errors.New("maintenance timeout must be > 0")
	}
	return nil
}

func (c Config) tokenConfig() jwt.Config {
	return jwt.Config{
		TTL: map[jwt.Purpose]time.Duration{
			jwt.PurposeLogin:   c.Token.LoginTTL,
			jwt.PurposeRefresh: c.Token.RefreshTTL,
			jwt.PurposeAPI:     c.Token.APITTL,
			jwt.PurposeAdmin:   c.Token.AdminTTL,
		},
		RefreshThreshold: c.Token.RefreshThreshold,
		Issuer:           c.Token.Issuer,
		Leeway:           c.Token.Leeway,
		MaxFutureIAT:     c.Token.MaxFutureIAT,
	}
}

func (c Config) secretsConfig() secrets.Config {
	cfg := secrets.DefaultConfig()
	cfg.RotationInterval = c.Secrets.RotationInterval
	cfg.SecretLifetime = c.Secrets.SecretLifetime
	cfg.MaxActive = c.Secrets.MaxActive
	cfg.ReloadInterval = c.Secrets.ReloadInterval
	cfg.Bootstrap = []byte(c.Secrets.SigningSecret)
	return cfg
}

func (c Config) rateRules() map[rate.Class]rate.Rule {
	return map[rate.Class]rate.Rule{
		rate.ClassAuth:    rate.Rule(c.RateLimit.Auth),
		rate.ClassAPI:     rate.Rule(c.RateLimit.API),
		rate.ClassUpload:  rate.Rule(c.RateLimit.Upload),
		rate.ClassWebhook: rate.Rule(c.RateLimit.Webhook),
	}
}

func (c Config) passwordPolicy() password.Policy {
	p := c.Password
	return password.Policy{
		MinLength:              p.MinLength,
		MaxLength:              p.MaxLength,
		RequireUppercase:       p.RequireUppercase,
		RequireLowercase:       p.RequireLowercase,
		RequireDigit:           p.RequireDigit,
		RequireSpecial:         p.RequireSpecial,
		RejectCommon:           p.RejectCommon,
		RejectPersonalInfo:     p.RejectPersonalInfo,
		RejectSequential:       p.RejectSequential,
		SequenceLength:         3,
		RejectRepeated:         p.RejectRepeated,
		MaxRepeated:            2,
		RejectKeyboardPatterns: p.RejectKeyboardPatterns,
		RejectHistory:          p.RejectHistory,
		MinEntropy:             p.MinEntropy,
		MinUniqueChars:         p.MinUniqueChars,
		MaxAge:                 p.MaxAge,
	}
}

func (c Config) hashConfig() password.HashConfig {
	return password.HashConfig{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}
