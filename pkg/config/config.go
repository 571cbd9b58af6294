// Package config loads the renewal service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/renewal/pkg/browser"
	"github.com/entrhq/renewal/pkg/classify"
	"github.com/entrhq/renewal/pkg/notify"
	"github.com/entrhq/renewal/pkg/pool"
	"github.com/entrhq/renewal/pkg/portal"
	"github.com/entrhq/renewal/pkg/types"
	"github.com/entrhq/renewal/pkg/workflow"
)

// Environment variables that override file values.
const (
	EnvPortalURL    = "RENEWAL_PORTAL_URL"
	EnvSlackWebhook = "RENEWAL_SLACK_WEBHOOK"
	EnvNATSURL      = "RENEWAL_NATS_URL"
	EnvDB           = "RENEWAL_DB"
	EnvLogLevel     = "RENEWAL_LOG_LEVEL"
)

// Config is the complete service configuration
type Config struct {
	Portal     PortalConfig     `yaml:"portal" json:"portal"`
	Browser    BrowserConfig    `yaml:"browser" json:"browser"`
	Pool       PoolConfig       `yaml:"pool" json:"pool"`
	Workflow   WorkflowConfig   `yaml:"workflow" json:"workflow"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Notify     NotifyConfig     `yaml:"notify" json:"notify"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing" json:"tracing"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`

	// Aliases is an optional YAML file overriding the normalizer tables
	Aliases string `yaml:"aliases" json:"aliases"`
}

// PortalConfig describes the operator portal
type PortalConfig struct {
	BaseURL     string   `yaml:"base_url" json:"base_url"`
	SuccessURLs []string `yaml:"success_urls" json:"success_urls"`
	LoginURLs   []string `yaml:"login_urls" json:"login_urls"`
	// ErrorCodes maps portal codes such as DTA-1009 to error categories
	ErrorCodes map[string]string `yaml:"error_codes" json:"error_codes"`
}

// BrowserConfig is the capability profile of automation sessions
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	RemoteEndpoint string        `yaml:"remote_endpoint" json:"remote_endpoint"`
	Args           []string      `yaml:"args" json:"args"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	BlockResources []string      `yaml:"block_resources" json:"block_resources"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	Install        bool          `yaml:"install" json:"install"`
}

// PoolConfig sizes the session pool
type PoolConfig struct {
	Capacity            int           `yaml:"capacity" json:"capacity"`
	WarmSize            int           `yaml:"warm_size" json:"warm_size"`
	MaxLive             int           `yaml:"max_live" json:"max_live"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" json:"maintenance_interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	CreateTimeout       time.Duration `yaml:"create_timeout" json:"create_timeout"`
	// CreatesPerSecond limits browser starts; 0 means unlimited
	CreatesPerSecond float64 `yaml:"creates_per_second" json:"creates_per_second"`
	WarmConcurrency  int     `yaml:"warm_concurrency" json:"warm_concurrency"`
}

// WorkflowConfig bounds the stages of a renewal
type WorkflowConfig struct {
	AcquireTimeout      time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	LoginTimeout        time.Duration `yaml:"login_timeout" json:"login_timeout"`
	SearchTimeout       time.Duration `yaml:"search_timeout" json:"search_timeout"`
	FormTimeout         time.Duration `yaml:"form_timeout" json:"form_timeout"`
	StepTimeout         time.Duration `yaml:"step_timeout" json:"step_timeout"`
	OptionalStepTimeout time.Duration `yaml:"optional_step_timeout" json:"optional_step_timeout"`
	SettleDelay         time.Duration `yaml:"settle_delay" json:"settle_delay"`
	PollInterval        time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// ClassifierConfig controls outcome polling
type ClassifierConfig struct {
	MaxIterations int           `yaml:"max_iterations" json:"max_iterations"`
	Interval      time.Duration `yaml:"interval" json:"interval"`
	GraceDelay    time.Duration `yaml:"grace_delay" json:"grace_delay"`
	// TimeoutPolicy is "fail" or "assume_success"
	TimeoutPolicy string `yaml:"timeout_policy" json:"timeout_policy"`
}

// NotifyConfig selects event sinks; empty values disable a sink
type NotifyConfig struct {
	SlackWebhook string        `yaml:"slack_webhook" json:"slack_webhook"`
	SlackChannel string        `yaml:"slack_channel" json:"slack_channel"`
	NATSURL      string        `yaml:"nats_url" json:"nats_url"`
	NATSSubject  string        `yaml:"nats_subject" json:"nats_subject"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// StorageConfig locates the SQLite database
type StorageConfig struct {
	Path string `yaml:"path" json:"path"`
}

// MetricsConfig exposes Prometheus metrics over HTTP
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// TracingConfig enables span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Output is a file path; empty writes to stdout
	Output string `yaml:"output" json:"output"`
}

// LoggingConfig sets log verbosity
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	wf := workflow.DefaultConfig()
	return &Config{
		Portal: PortalConfig{
			BaseURL: portal.DefaultBaseURL,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  browser.DefaultViewportWidth,
			ViewportHeight: browser.DefaultViewportHeight,
			BlockResources: []string{"image", "media", "font"},
			Timeout:        browser.DefaultTimeout,
		},
		Pool: PoolConfig{
			Capacity:            pool.DefaultCapacity,
			WarmSize:            pool.DefaultWarmSize,
			MaintenanceInterval: pool.DefaultMaintenanceInterval,
			ProbeTimeout:        pool.DefaultProbeTimeout,
			CreateTimeout:       pool.DefaultCreateTimeout,
			WarmConcurrency:     pool.DefaultWarmConcurrency,
		},
		Workflow: WorkflowConfig{
			AcquireTimeout:      wf.AcquireTimeout,
			LoginTimeout:        wf.LoginTimeout,
			SearchTimeout:       wf.SearchTimeout,
			FormTimeout:         wf.FormTimeout,
			StepTimeout:         wf.StepTimeout,
			OptionalStepTimeout: wf.OptionalStepTimeout,
			SettleDelay:         wf.SettleDelay,
			PollInterval:        wf.PollInterval,
		},
		Classifier: ClassifierConfig{
			MaxIterations: classify.DefaultMaxIterations,
			Interval:      classify.DefaultInterval,
			GraceDelay:    classify.DefaultGraceDelay,
			TimeoutPolicy: string(workflow.TimeoutFail),
		},
		Notify: NotifyConfig{
			NATSSubject: notify.DefaultSubject,
			Timeout:     10 * time.Second,
		},
		Storage: StorageConfig{
			Path: "renewal.db",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvPortalURL, &c.Portal.BaseURL)
	set(EnvSlackWebhook, &c.Notify.SlackWebhook)
	set(EnvNATSURL, &c.Notify.NATSURL)
	set(EnvDB, &c.Storage.Path)
	set(EnvLogLevel, &c.Logging.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.Portal.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("portal.base_url must be an absolute URL, got %q", c.Portal.BaseURL)
	}

	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool.capacity must be positive")
	}
	if c.Pool.WarmSize < 0 || c.Pool.WarmSize > c.Pool.Capacity {
		return fmt.Errorf("pool.warm_size must be between 0 and capacity (%d)", c.Pool.Capacity)
	}
	if c.Pool.MaxLive != 0 && c.Pool.MaxLive < c.Pool.Capacity {
		return fmt.Errorf("pool.max_live cannot be below capacity")
	}
	if c.Pool.CreatesPerSecond < 0 {
		return fmt.Errorf("pool.creates_per_second cannot be negative")
	}

	for name, d := range map[string]time.Duration{
		"workflow.acquire_timeout": c.Workflow.AcquireTimeout,
		"workflow.login_timeout":   c.Workflow.LoginTimeout,
		"workflow.search_timeout":  c.Workflow.SearchTimeout,
		"workflow.form_timeout":    c.Workflow.FormTimeout,
		"workflow.step_timeout":    c.Workflow.StepTimeout,
		"classifier.interval":      c.Classifier.Interval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Classifier.MaxIterations <= 0 {
		return fmt.Errorf("classifier.max_iterations must be positive")
	}

	switch workflow.TimeoutPolicy(c.Classifier.TimeoutPolicy) {
	case workflow.TimeoutFail, workflow.TimeoutAssumeSuccess:
	default:
		return fmt.Errorf("invalid classifier.timeout_policy: %s (must be 'fail' or 'assume_success')", c.Classifier.TimeoutPolicy)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be 'debug', 'info', 'warn' or 'error')", c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// Profile returns the portal profile with configured overrides applied
func (c *Config) Profile() portal.Profile {
	p := portal.DefaultProfile()
	p.BaseURL = c.Portal.BaseURL
	if len(c.Portal.SuccessURLs) > 0 {
		p.SuccessURLs = c.Portal.SuccessURLs
	}
	if len(c.Portal.LoginURLs) > 0 {
		p.LoginURLs = c.Portal.LoginURLs
	}
	for code, category := range c.Portal.ErrorCodes {
		p.ErrorCodes[strings.ToUpper(code)] = types.ErrorCategory(category)
	}
	return p
}

// PlaywrightConfig returns the browser capability profile
func (c *Config) PlaywrightConfig() browser.PlaywrightConfig {
	return browser.PlaywrightConfig{
		Headless:       c.Browser.Headless,
		RemoteEndpoint: c.Browser.RemoteEndpoint,
		Args:           c.Browser.Args,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		BlockResources: c.Browser.BlockResources,
		DefaultTimeout: c.Browser.Timeout,
		Install:        c.Browser.Install,
	}
}

// PoolConfig returns the pool sizing
func (c *Config) PoolConfig() pool.Config {
	limit := rate.Inf
	if c.Pool.CreatesPerSecond > 0 {
		limit = rate.Limit(c.Pool.CreatesPerSecond)
	}
	return pool.Config{
		Capacity:            c.Pool.Capacity,
		WarmSize:            c.Pool.WarmSize,
		MaxLive:             c.Pool.MaxLive,
		MaintenanceInterval: c.Pool.MaintenanceInterval,
		ProbeTimeout:        c.Pool.ProbeTimeout,
		CreateTimeout:       c.Pool.CreateTimeout,
		CreateRate:          limit,
		CreateBurst:         1,
		WarmConcurrency:     c.Pool.WarmConcurrency,
	}
}

// WorkflowConfig returns the orchestrator timings
func (c *Config) WorkflowConfig() workflow.Config {
	wf := workflow.DefaultConfig()
	wf.AcquireTimeout = c.Workflow.AcquireTimeout
	wf.LoginTimeout = c.Workflow.LoginTimeout
	wf.SearchTimeout = c.Workflow.SearchTimeout
	wf.FormTimeout = c.Workflow.FormTimeout
	wf.StepTimeout = c.Workflow.StepTimeout
	wf.OptionalStepTimeout = c.Workflow.OptionalStepTimeout
	wf.SettleDelay = c.Workflow.SettleDelay
	if c.Workflow.PollInterval > 0 {
		wf.PollInterval = c.Workflow.PollInterval
	}
	wf.ClassifyIterations = c.Classifier.MaxIterations
	wf.ClassifyInterval = c.Classifier.Interval
	wf.TimeoutPolicy = workflow.TimeoutPolicy(c.Classifier.TimeoutPolicy)
	return wf
}
