package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sections that only one command needs. Pass them to Load as skip to leave them unvalidated.
const (
	SectionBot       = "Bot"
	SectionFunnel    = "Funnel"
	SectionCollector = "Collector"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
// An empty path selects ./configs/<APP_ENV>.yaml. Sections listed in skip are not validated.
func Load(path string, skip ...string) (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load env files: %w", err)
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if path == "" {
		path = fmt.Sprintf("./configs/%s.yaml", env)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	if err := Validate(&cfg, skip...); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

// Validate checks cfg, ignoring the named sections.
func Validate(cfg *Config, skip ...string) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.StructExcept(cfg, skip...); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// ParseRule returns the limit and window of rule.
func ParseRule(rule RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	return rule.Limit, window, nil
}

func setDefaults(v *viper.Viper) {
	timing := DefaultTiming()

	defaults := map[string]any{
		"logger.level":        "info",
		"logger.format":       "json",
		"logger.file":         "",
		"logger.max_size_mb":  100,
		"logger.max_backups":  3,
		"logger.max_age_days": 28,
		"logger.compress":     false,

		"sentry.enabled":            false,
		"sentry.dsn":                "",
		"sentry.traces_sample_rate": 0.0,

		"bot.token":          "",
		"bot.mode":           "polling",
		"bot.timeout":        10 * time.Second,
		"bot.webhook_url":    "",
		"bot.webhook_listen": ":8443",

		"server.port":             ":8080",
		"server.read_timeout":     10 * time.Second,
		"server.write_timeout":    10 * time.Second,
		"server.shutdown_timeout": 15 * time.Second,

		"redis.addr":              "localhost:6379",
		"redis.password":          "",
		"redis.db":                0,
		"redis.pool_size":         10,
		"redis.min_idle_conns":    2,
		"redis.pool_timeout":      4 * time.Second,
		"redis.idle_timeout":      5 * time.Minute,
		"redis.max_retries":       3,
		"redis.min_retry_backoff": 8 * time.Millisecond,
		"redis.max_retry_backoff": 512 * time.Millisecond,

		"funnel.timing.pre_boot":              timing.PreBoot,
		"funnel.timing.transition":            timing.Transition,
		"funnel.timing.calibration2_thinking": timing.Calibration2Thinking,
		"funnel.timing.final_thinking":        timing.FinalThinking,
		"funnel.timing.media_threshold":       timing.MediaThreshold,
		"funnel.timing.effect_calibration2":   timing.EffectCalibration2,
		"funnel.timing.effect_cognition2":     timing.EffectCognition2,
		"funnel.timing.effect_commitment":     timing.EffectCommitment,
		"funnel.timing.effect_contact":        timing.EffectContact,
		"funnel.timing.effect_final_thinking": timing.EffectFinalThinking,
		"funnel.scheduling_url":               "",
		"funnel.community_url":                "",
		"funnel.transition_media_url":         "",
		"funnel.user_agent":                   "clearity-telegram",
		"funnel.edit_interval":                time.Second,

		"script.path":            "",
		"script.reload_debounce": 250 * time.Millisecond,

		"submission.endpoint":        "",
		"submission.mode":            "async",
		"submission.timeout":         10 * time.Second,
		"submission.max_retries":     3,
		"submission.initial_backoff": 200 * time.Millisecond,
		"submission.max_backoff":     5 * time.Second,

		"analytics.log":              true,
		"analytics.prometheus":       true,
		"analytics.posthog_key":      "",
		"analytics.posthog_endpoint": "",

		"rate_limit.enabled":         true,
		"rate_limit.backend":         "memory",
		"rate_limit.per_chat.limit":  30,
		"rate_limit.per_chat.window": "1m",
		"rate_limit.commands.limit":  5,
		"rate_limit.commands.window": "1m",
		"rate_limit.whitelist":       []int64{},

		"idempotency.enabled": false,
		"idempotency.ttl":     24 * time.Hour,

		"sessions.storage":          "memory",
		"sessions.ttl":              24 * time.Hour,
		"sessions.cleanup_interval": 10 * time.Minute,

		"collector.database_dsn":      "",
		"collector.max_open_conns":    10,
		"collector.max_idle_conns":    5,
		"collector.conn_max_lifetime": 30 * time.Minute,
		"collector.migrate":           true,

		"jobs.concurrency": 4,
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
