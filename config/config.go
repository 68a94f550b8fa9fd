// Package config loads the roster YAML configuration. Secrets may be
// supplied through ROSTER_* environment variables, which take precedence
// over the file.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/task"
)

const (
	// EnvPrefix is prepended to every environment variable name.
	EnvPrefix = "ROSTER_"

	defaultIdentityTimeout = 30 * time.Second
	defaultStorePath       = "roster.db"
	defaultListenAddr      = ":8080"
	defaultAdminRole       = "admin"
	defaultRolesClaim      = "roles"
	defaultJobName         = "rosterctl"
	defaultAuditMaxLen     = 10000
	defaultHistoryMaxRuns  = 100

	defaultUpdateGroupDelay      = 300 * time.Millisecond
	defaultCreateUserDelay       = 500 * time.Millisecond
	defaultUpdateUserDelay       = 300 * time.Millisecond
	defaultDeleteUserDelay       = 500 * time.Millisecond
	defaultResendInvitationDelay = 500 * time.Millisecond
	defaultRetryAttempts         = 1
	defaultRetryDelay            = 200 * time.Millisecond
)

// Config represents the complete application configuration.
type Config struct {
	Identity     IdentityConfig     `yaml:"identity"`
	Mail         MailConfig         `yaml:"mail"`
	Store        StoreConfig        `yaml:"store"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Audit        AuditConfig        `yaml:"audit"`
	Auth         AuthConfig         `yaml:"auth"`
	Server       ServerConfig       `yaml:"server"`
	Expiry       ExpiryConfig       `yaml:"expiry"`
	History      HistoryConfig      `yaml:"history"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      logging.Config     `yaml:"logging"`
}

// IdentityConfig holds the identity provider API settings.
type IdentityConfig struct {
	BaseURL string `yaml:"base_url" env:"IDENTITY_BASE_URL, overwrite"`
	// TokenURL enables the OAuth2 client credentials flow when set.
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id" env:"IDENTITY_CLIENT_ID, overwrite"`
	ClientSecret string        `yaml:"client_secret" env:"IDENTITY_CLIENT_SECRET, overwrite"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
}

// MailConfig holds the invitation email settings. Without an API key the
// identity provider delivers invitations itself.
type MailConfig struct {
	APIKey  string `yaml:"api_key" env:"MAIL_API_KEY, overwrite"`
	From    string `yaml:"from"`
	Subject string `yaml:"subject"`
}

// Enabled returns true if invitations are sent through the mail client.
func (m MailConfig) Enabled() bool {
	return m.APIKey != ""
}

// StoreConfig holds the SQLite store settings.
type StoreConfig struct {
	Path string `yaml:"path" env:"STORE_PATH, overwrite"`
}

// OrchestratorConfig holds the per-kind pacing and retry policy.
type OrchestratorConfig struct {
	Pacing PacingConfig `yaml:"pacing"`
	Retry  RetryConfig  `yaml:"retry"`
}

// PacingConfig is the minimum delay after each rate-limited call. A zero
// delay means the default; set Disabled to turn pacing off entirely.
type PacingConfig struct {
	Disabled         bool          `yaml:"disabled"`
	UpdateGroup      time.Duration `yaml:"update_group"`
	CreateUser       time.Duration `yaml:"create_user"`
	UpdateUser       time.Duration `yaml:"update_user"`
	DeleteUser       time.Duration `yaml:"delete_user"`
	ResendInvitation time.Duration `yaml:"resend_invitation"`
}

func (p PacingConfig) delays() []time.Duration {
	return []time.Duration{p.UpdateGroup, p.CreateUser, p.UpdateUser, p.DeleteUser, p.ResendInvitation}
}

// RetryConfig controls retries of safe-to-retry steps.
type RetryConfig struct {
	Attempts uint          `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// AuditConfig holds the reversal audit settings. Without a Redis URL
// reversals are only logged.
type AuditConfig struct {
	RedisURL string `yaml:"redis_url" env:"AUDIT_REDIS_URL, overwrite"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// AuthConfig holds the OIDC settings for the HTTP API.
type AuthConfig struct {
	IssuerURL string `yaml:"issuer_url"`
	ClientID  string `yaml:"client_id"`
	// AdminRole must appear in RolesClaim for a request to be authorized.
	AdminRole  string `yaml:"admin_role"`
	RolesClaim string `yaml:"roles_claim"`
	// Disabled turns authorization off, for local development only.
	Disabled bool `yaml:"disabled"`
}

// ServerConfig holds HTTP server listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR, overwrite"`
	// TLSCertFile and TLSKeyFile enable HTTPS. The pair is re-read when
	// either file changes.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// ExpiryConfig schedules the expired account sweep. An empty schedule
// disables it.
type ExpiryConfig struct {
	Schedule string `yaml:"schedule"`
}

// HistoryConfig controls the record of batch imports and sweeps. Runs are
// kept in memory when Dir is empty.
type HistoryConfig struct {
	Dir     string `yaml:"dir"`
	MaxRuns int    `yaml:"max_runs"`
}

// MonitoringConfig holds metrics settings for the CLI's push mode.
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoriametrics_url"`
	// MetricsPrefix is prepended to the roster_* metric names. Empty by default.
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"jobname"`
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	if c.Identity.BaseURL == "" {
		return errors.New("identity base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Identity.BaseURL); err != nil {
		return fmt.Errorf("invalid identity base_url: %w", err)
	}
	if c.Identity.TokenURL != "" && (c.Identity.ClientID == "" || c.Identity.ClientSecret == "") {
		return errors.New("identity client_id and client_secret are required with token_url")
	}
	if c.Identity.Timeout <= 0 {
		return errors.New("identity timeout must be positive")
	}
	if c.Mail.Enabled() && c.Mail.From == "" {
		return errors.New("mail from is required when mail is enabled")
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	for _, d := range c.Orchestrator.Pacing.delays() {
		if d < 0 {
			return errors.New("pacing delays must not be negative")
		}
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server tls_cert_file and tls_key_file must be set together")
	}
	if c.History.MaxRuns < 0 {
		return errors.New("history max_runs must not be negative")
	}
	if c.Orchestrator.Retry.Delay < 0 {
		return errors.New("retry delay must not be negative")
	}
	if !c.Auth.Disabled {
		if c.Auth.IssuerURL == "" {
			return errors.New("auth issuer_url is required unless auth is disabled")
		}
		if c.Auth.ClientID == "" {
			return errors.New("auth client_id is required unless auth is disabled")
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = defaultIdentityTimeout
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if !c.Orchestrator.Pacing.Disabled {
		c.Orchestrator.Pacing.setDefaults()
	}
	if c.Orchestrator.Retry.Attempts == 0 {
		c.Orchestrator.Retry.Attempts = defaultRetryAttempts
	}
	if c.Orchestrator.Retry.Delay == 0 {
		c.Orchestrator.Retry.Delay = defaultRetryDelay
	}
	if c.Audit.MaxLen == 0 {
		c.Audit.MaxLen = defaultAuditMaxLen
	}
	if c.History.MaxRuns == 0 {
		c.History.MaxRuns = defaultHistoryMaxRuns
	}
	if c.Auth.AdminRole == "" {
		c.Auth.AdminRole = defaultAdminRole
	}
	if c.Auth.RolesClaim == "" {
		c.Auth.RolesClaim = defaultRolesClaim
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

func (p *PacingConfig) setDefaults() {
	if p.UpdateGroup == 0 {
		p.UpdateGroup = defaultUpdateGroupDelay
	}
	if p.CreateUser == 0 {
		p.CreateUser = defaultCreateUserDelay
	}
	if p.UpdateUser == 0 {
		p.UpdateUser = defaultUpdateUserDelay
	}
	if p.DeleteUser == 0 {
		p.DeleteUser = defaultDeleteUserDelay
	}
	if p.ResendInvitation == 0 {
		p.ResendInvitation = defaultResendInvitationDelay
	}
}

// Pacing returns the per-kind delays, empty when pacing is disabled.
func (p PacingConfig) Pacing() task.Pacing {
	if p.Disabled {
		return task.Pacing{}
	}
	return task.Pacing{
		task.KindUpdateGroup:      p.UpdateGroup,
		task.KindCreateUser:       p.CreateUser,
		task.KindUpdateUser:       p.UpdateUser,
		task.KindDeleteUser:       p.DeleteUser,
		task.KindResendInvitation: p.ResendInvitation,
	}
}

// TaskOptions returns the orchestrator options for the pacing and retry policy.
func (c OrchestratorConfig) TaskOptions() []task.OrchestratorOption {
	return []task.OrchestratorOption{
		task.WithPacing(c.Pacing.Pacing()),
		task.WithRetry(task.RetryPolicy{Attempts: c.Retry.Attempts, Delay: c.Retry.Delay}),
	}
}

// LoadConfig reads the YAML config file at the given path, applies ROSTER_*
// environment overrides, defaults and validation.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode YAML config: %w", err)
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return cfg, fmt.Errorf("failed to apply environment: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

const redacted = "<redacted>"

// Redacted returns a copy of the config with secrets masked.
func (c *Config) Redacted() Config {
	r := *c
	if r.Identity.ClientSecret != "" {
		r.Identity.ClientSecret = redacted
	}
	if r.Mail.APIKey != "" {
		r.Mail.APIKey = redacted
	}
	if u, err := url.Parse(r.Audit.RedisURL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			r.Audit.RedisURL = u.String()
		}
	}
	return r
}
