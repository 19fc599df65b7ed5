package goGuard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// GOGUARD_SECRETS_SIGNING_SECRET or GOGUARD_RATE_LIMIT_API_LIMIT.
const EnvPrefix = "GOGUARD"

// LoadConfig builds a Config from DefaultConfig, an optional YAML file at path and
// GOGUARD_* environment variables, in increasing precedence. The result is validated
// both structurally and with Config.Validate.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validateStruct(cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateStruct(cfg Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("config validator: %w", err)
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		// Secret values are never echoed.
		messages = append(messages, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("token.issuer", d.Token.Issuer)
	v.SetDefault("token.login_ttl", d.Token.LoginTTL)
	v.SetDefault("token.refresh_ttl", d.Token.RefreshTTL)
	v.SetDefault("token.api_ttl", d.Token.APITTL)
	v.SetDefault("token.admin_ttl", d.Token.AdminTTL)
	v.SetDefault("token.refresh_threshold", d.Token.RefreshThreshold)
	v.SetDefault("token.leeway", d.Token.Leeway)
	v.SetDefault("token.max_future_iat", d.Token.MaxFutureIAT)

	v.SetDefault("secrets.signing_secret", d.Secrets.SigningSecret)
	v.SetDefault("secrets.rotation_interval", d.Secrets.RotationInterval)
	v.SetDefault("secrets.secret_lifetime", d.Secrets.SecretLifetime)
	v.SetDefault("secrets.max_active", d.Secrets.MaxActive)
	v.SetDefault("secrets.reload_interval", d.Secrets.ReloadInterval)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	for name, rule := range map[string]RateRule{
		"auth": d.RateLimit.Auth, "api": d.RateLimit.API,
		"upload": d.RateLimit.Upload, "webhook": d.RateLimit.Webhook,
	} {
		v.SetDefault("rate_limit."+name+".limit", rule.Limit)
		v.SetDefault("rate_limit."+name+".window", rule.Window)
	}

	v.SetDefault("csrf.token_ttl", d.CSRF.TokenTTL)

	p := d.Password
	v.SetDefault("password.min_length", p.MinLength)
	v.SetDefault("password.max_length", p.MaxLength)
	v.SetDefault("password.require_uppercase", p.RequireUppercase)
	v.SetDefault("password.require_lowercase", p.RequireLowercase)
	v.SetDefault("password.require_digit", p.RequireDigit)
	v.SetDefault("password.require_special", p.RequireSpecial)
	v.SetDefault("password.reject_common", p.RejectCommon)
	v.SetDefault("password.reject_personal_info", p.RejectPersonalInfo)
	v.SetDefault("password.reject_sequential", p.RejectSequential)
	v.SetDefault("password.reject_repeated", p.RejectRepeated)
	v.SetDefault("password.reject_keyboard_patterns", p.RejectKeyboardPatterns)
	v.SetDefault("password.reject_history", p.RejectHistory)
	v.SetDefault("password.history_size", p.HistorySize)
	v.SetDefault("password.min_entropy", p.MinEntropy)
	v.SetDefault("password.min_unique_chars", p.MinUniqueChars)
	v.SetDefault("password.max_age", p.MaxAge)
	v.SetDefault("password.memory", p.Memory)
	v.SetDefault("password.time", p.Time)
	v.SetDefault("password.parallelism", p.Parallelism)
	v.SetDefault("password.salt_length", p.SaltLength)
	v.SetDefault("password.key_length", p.KeyLength)

	v.SetDefault("audit.async", d.Audit.Async)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)
	v.SetDefault("audit.write_timeout", d.Audit.WriteTimeout)
	v.SetDefault("audit.retention_days", d.Audit.RetentionDays)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("security.development_mode", d.Security.DevelopmentMode)

	v.SetDefault("maintenance.interval", d.Maintenance.Interval)
	v.SetDefault("maintenance.timeout", d.Maintenance.Timeout)

	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.min_connections", d.Database.MinConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
}
