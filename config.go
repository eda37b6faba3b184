package agion

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the governance client. Zero values fall back to
// DefaultConfig values at New.
type Config struct {
	// GatewayURL is the base URL of the governance service, without the
	// /api/v1 suffix.
	GatewayURL string `yaml:"gateway_url"`
	// RedisURL is the connection URL for policy push notifications and
	// event streams. Empty disables both; the client falls back to
	// polling for policy updates and drops events.
	RedisURL string `yaml:"redis_url"`
	// APIToken is sent as a bearer token when set.
	APIToken string `yaml:"api_token"`

	OrganizationID string `yaml:"organization_id"`
	AgentID        string `yaml:"agent_id"`
	AgentVersion   string `yaml:"agent_version"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Policy sync.
	SyncInterval    time.Duration `yaml:"sync_interval"`
	LocalPolicyFile string        `yaml:"local_policy_file"`
	WatchPolicyFile bool          `yaml:"watch_policy_file"`

	// Permission cache.
	CacheTTLApproved time.Duration `yaml:"cache_ttl_approved"`
	CacheTTLDenied   time.Duration `yaml:"cache_ttl_denied"`
	CacheMaxSize     int           `yaml:"cache_max_size"`
	// CacheKeyStrategy is "coarse" (actor+resource+type) or
	// "context_hash" (coarse plus a hash of the check context).
	CacheKeyStrategy string `yaml:"cache_key_strategy"`

	// Event publishing.
	EventBufferSize    int           `yaml:"event_buffer_size"`
	EventFlushInterval time.Duration `yaml:"event_flush_interval"`

	// Failure policy when the governance service is unreachable.
	FailOpen bool `yaml:"fail_open"`
	// FailOpenMinTrust is the minimum last-known trust score an actor
	// needs for fail-open to permit. Below it, fail-open still denies.
	FailOpenMinTrust float64 `yaml:"fail_open_min_trust"`

	// Local decision log. Empty path disables it.
	DecisionLogPath      string `yaml:"decision_log_path"`
	DecisionLogRetention int    `yaml:"decision_log_retention_days"`

	// DLP scanning of governed payloads.
	DLPEnabled  bool   `yaml:"dlp_enabled"`
	DLPRulesDir string `yaml:"dlp_rules_dir"`
}

// Cache key strategies.
const (
	CacheKeyCoarse      = "coarse"
	CacheKeyContextHash = "context_hash"
)

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		GatewayURL:           "http://localhost:8080",
		RequestTimeout:       30 * time.Second,
		SyncInterval:         30 * time.Second,
		CacheTTLApproved:     30 * time.Second,
		CacheTTLDenied:       5 * time.Second,
		CacheMaxSize:         10000,
		CacheKeyStrategy:     CacheKeyCoarse,
		EventBufferSize:      100,
		EventFlushInterval:   5 * time.Second,
		FailOpen:             false,
		FailOpenMinTrust:     60,
		DecisionLogRetention: 30,
		AgentVersion:         "1.0.0",
	}
}

// LoadConfig reads a YAML config file on top of the defaults, then
// applies environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// UnmarshalYAML decodes the config, accepting durations in Go syntax
// ("30s", "5m") since the yaml package cannot parse them natively.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		GatewayURL string `yaml:"gateway_url"`
		RedisURL   string `yaml:"redis_url"`
		APIToken   string `yaml:"api_token"`

		OrganizationID string `yaml:"organization_id"`
		AgentID        string `yaml:"agent_id"`
		AgentVersion   string `yaml:"agent_version"`

		RequestTimeout string `yaml:"request_timeout"`

		SyncInterval    string `yaml:"sync_interval"`
		LocalPolicyFile string `yaml:"local_policy_file"`
		WatchPolicyFile *bool  `yaml:"watch_policy_file"`

		CacheTTLApproved string `yaml:"cache_ttl_approved"`
		CacheTTLDenied   string `yaml:"cache_ttl_denied"`
		CacheMaxSize     *int   `yaml:"cache_max_size"`
		CacheKeyStrategy string `yaml:"cache_key_strategy"`

		EventBufferSize    *int   `yaml:"event_buffer_size"`
		EventFlushInterval string `yaml:"event_flush_interval"`

		FailOpen         *bool    `yaml:"fail_open"`
		FailOpenMinTrust *float64 `yaml:"fail_open_min_trust"`

		DecisionLogPath      string `yaml:"decision_log_path"`
		DecisionLogRetention *int   `yaml:"decision_log_retention_days"`

		DLPEnabled  *bool  `yaml:"dlp_enabled"`
		DLPRulesDir string `yaml:"dlp_rules_dir"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setStr(&c.GatewayURL, raw.GatewayURL)
	setStr(&c.RedisURL, raw.RedisURL)
	setStr(&c.APIToken, raw.APIToken)
	setStr(&c.OrganizationID, raw.OrganizationID)
	setStr(&c.AgentID, raw.AgentID)
	setStr(&c.AgentVersion, raw.AgentVersion)
	setStr(&c.LocalPolicyFile, raw.LocalPolicyFile)
	setStr(&c.CacheKeyStrategy, raw.CacheKeyStrategy)
	setStr(&c.DecisionLogPath, raw.DecisionLogPath)
	setStr(&c.DLPRulesDir, raw.DLPRulesDir)

	setDur := func(dst *time.Duration, v, field string) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", field, err)
		}
		*dst = d
		return nil
	}
	if err := setDur(&c.RequestTimeout, raw.RequestTimeout, "request_timeout"); err != nil {
		return err
	}
	if err := setDur(&c.SyncInterval, raw.SyncInterval, "sync_interval"); err != nil {
		return err
	}
	if err := setDur(&c.CacheTTLApproved, raw.CacheTTLApproved, "cache_ttl_approved"); err != nil {
		return err
	}
	if err := setDur(&c.CacheTTLDenied, raw.CacheTTLDenied, "cache_ttl_denied"); err != nil {
		return err
	}
	if err := setDur(&c.EventFlushInterval, raw.EventFlushInterval, "event_flush_interval"); err != nil {
		return err
	}

	if raw.WatchPolicyFile != nil {
		c.WatchPolicyFile = *raw.WatchPolicyFile
	}
	if raw.CacheMaxSize != nil {
		c.CacheMaxSize = *raw.CacheMaxSize
	}
	if raw.EventBufferSize != nil {
		c.EventBufferSize = *raw.EventBufferSize
	}
	if raw.FailOpen != nil {
		c.FailOpen = *raw.FailOpen
	}
	if raw.FailOpenMinTrust != nil {
		c.FailOpenMinTrust = *raw.FailOpenMinTrust
	}
	if raw.DecisionLogRetention != nil {
		c.DecisionLogRetention = *raw.DecisionLogRetention
	}
	if raw.DLPEnabled != nil {
		c.DLPEnabled = *raw.DLPEnabled
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGION_GATEWAY_URL"); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv("AGION_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("AGION_API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := os.Getenv("AGION_ORG_ID"); v != "" {
		c.OrganizationID = v
	}
	if v := os.Getenv("AGION_AGENT_ID"); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv("AGION_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.FailOpen = b
		}
	}
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return &ValidationError{Field: "gateway_url", Message: "must not be empty"}
	}
	if c.CacheMaxSize <= 0 {
		return &ValidationError{Field: "cache_max_size", Message: "must be positive"}
	}
	if c.CacheTTLApproved <= 0 || c.CacheTTLDenied <= 0 {
		return &ValidationError{Field: "cache_ttl", Message: "TTLs must be positive"}
	}
	switch c.CacheKeyStrategy {
	case CacheKeyCoarse, CacheKeyContextHash:
	default:
		return &ValidationError{
			Field:   "cache_key_strategy",
			Message: fmt.Sprintf("unknown strategy %q", c.CacheKeyStrategy),
		}
	}
	if c.FailOpenMinTrust < 0 || c.FailOpenMinTrust > 100 {
		return &ValidationError{Field: "fail_open_min_trust", Message: "must be in [0, 100]"}
	}
	return nil
}
