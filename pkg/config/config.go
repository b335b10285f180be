// Package config provides configuration loading and validation utilities.
package config

import (
	"time"

	"github.com/Proton-105/clearity-bot/pkg/redis"
)

// Config holds runtime configuration for the Clearity bot and collector.
type Config struct {
	AppEnv      string            `mapstructure:"app_env"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Bot         BotConfig         `mapstructure:"bot"`
	Server      ServerConfig      `mapstructure:"server"`
	Redis       redis.Config      `mapstructure:"redis"`
	Funnel      FunnelConfig      `mapstructure:"funnel"`
	Script      ScriptConfig      `mapstructure:"script"`
	Submission  SubmissionConfig  `mapstructure:"submission"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

// LoggerConfig controls the slog handler.
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	// File enables a rotating log file next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate" validate:"gte=0,lte=1"`
}

// BotConfig configures the Telegram transport.
type BotConfig struct {
	Token         string        `mapstructure:"token" validate:"required"`
	Mode          string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	Timeout       time.Duration `mapstructure:"timeout"`
	WebhookURL    string        `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
	WebhookListen string        `mapstructure:"webhook_listen"`
}

// ServerConfig configures the HTTP server that exposes health, metrics and the collector.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FunnelConfig holds the funnel timings, links and rendering pace.
type FunnelConfig struct {
	Timing             TimingConfig `mapstructure:"timing"`
	SchedulingURL      string       `mapstructure:"scheduling_url" validate:"required,url"`
	CommunityURL       string       `mapstructure:"community_url" validate:"omitempty,url"`
	TransitionMediaURL string       `mapstructure:"transition_media_url" validate:"omitempty,url"`
	UserAgent          string       `mapstructure:"user_agent"`
	// EditInterval is the minimum gap between animation frames sent to Telegram.
	EditInterval time.Duration `mapstructure:"edit_interval"`
}

// TimingConfig has the field layout of funnel.Timing and converts to it directly.
type TimingConfig struct {
	PreBoot              time.Duration `mapstructure:"pre_boot"`
	Transition           time.Duration `mapstructure:"transition"`
	Calibration2Thinking time.Duration `mapstructure:"calibration2_thinking"`
	FinalThinking        time.Duration `mapstructure:"final_thinking"`

	MediaThreshold time.Duration `mapstructure:"media_threshold"`

	EffectCalibration2  time.Duration `mapstructure:"effect_calibration2"`
	EffectCognition2    time.Duration `mapstructure:"effect_cognition2"`
	EffectCommitment    time.Duration `mapstructure:"effect_commitment"`
	EffectContact       time.Duration `mapstructure:"effect_contact"`
	EffectFinalThinking time.Duration `mapstructure:"effect_final_thinking"`
}

// DefaultTiming returns the reference pacing: three thinking lines at 1.5s plus a 0.5s settle.
func DefaultTiming() TimingConfig {
	thinking := 3*1500*time.Millisecond + 500*time.Millisecond

	return TimingConfig{
		PreBoot:              thinking,
		Transition:           4 * time.Second,
		Calibration2Thinking: thinking,
		FinalThinking:        thinking,
		MediaThreshold:       3 * time.Second,
		EffectCalibration2:   2 * time.Second,
		EffectCognition2:     2 * time.Second,
		EffectCommitment:     2 * time.Second,
		EffectContact:        1500 * time.Millisecond,
		EffectFinalThinking:  1500 * time.Millisecond,
	}
}

// ScriptConfig points at the optional copy override file.
type ScriptConfig struct {
	Path           string        `mapstructure:"path"`
	ReloadDebounce time.Duration `mapstructure:"reload_debounce"`
}

// SubmissionConfig configures delivery to the collector endpoint.
type SubmissionConfig struct {
	Endpoint       string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Mode           string        `mapstructure:"mode" validate:"oneof=async queue"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// AnalyticsConfig selects analytics backends.
type AnalyticsConfig struct {
	Log             bool   `mapstructure:"log"`
	Prometheus      bool   `mapstructure:"prometheus"`
	PostHogKey      string `mapstructure:"posthog_key"`
	PostHogEndpoint string `mapstructure:"posthog_endpoint" validate:"omitempty,url"`
}

// RateLimitRule is a limit per window, e.g. 30 per "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit" validate:"gte=0"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig configures per-chat throttling of updates.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Backend   string        `mapstructure:"backend" validate:"oneof=memory redis adaptive"`
	PerChat   RateLimitRule `mapstructure:"per_chat"`
	Commands  RateLimitRule `mapstructure:"commands"`
	Whitelist []int64       `mapstructure:"whitelist"`
}

// IdempotencyConfig configures deduplication of redelivered updates.
type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// SessionsConfig configures session snapshots and idle cleanup.
type SessionsConfig struct {
	Storage         string        `mapstructure:"storage" validate:"oneof=memory redis"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CollectorConfig configures the response collector service.
type CollectorConfig struct {
	DatabaseDSN     string        `mapstructure:"database_dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// JobsConfig configures the asynq worker used for queued submissions.
type JobsConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`
}
