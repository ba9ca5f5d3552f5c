package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all daemon configuration.
type Config struct {
	// FishFish API Connection
	APIKey      string        `koanf:"fishfish_api_key"`
	BaseURL     string        `koanf:"fishfish_base_url"`
	StreamURL   string        `koanf:"fishfish_stream_url"`
	Identity    string        `koanf:"fishfish_identity"`
	Permissions []string      `koanf:"fishfish_permissions"`
	HTTPTimeout time.Duration `koanf:"fishfish_http_timeout"`
	APIDebug    bool          `koanf:"fishfish_api_debug"`

	// Cache Behavior
	DisableCache      bool `koanf:"cache_disable"`
	DoNotCachePartial bool `koanf:"cache_skip_partial"`

	// Feed
	Resync         bool          `koanf:"feed_resync"`
	ResyncInterval time.Duration `koanf:"feed_resync_interval"`

	// Event Filtering
	MirrorCategories []string `koanf:"mirror_categories"`
	ExcludePatterns  []string `koanf:"exclude_patterns"`

	// Worker Pool
	PoolWorkers    int           `koanf:"pool_workers"`
	PoolQueueDepth int           `koanf:"pool_queue_depth"`
	PoolMaxRetries int           `koanf:"pool_max_retries"`
	PoolRetryBase  time.Duration `koanf:"pool_retry_base"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// Operational
	LogLevel            string        `koanf:"log_level"`
	LogFormat           string        `koanf:"log_format"`
	MetricsEnabled      bool          `koanf:"metrics_enabled"`
	MetricsAddr         string        `koanf:"metrics_addr"`
	HealthAddr          string        `koanf:"health_addr"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields and string slice elements. This normalises values from Docker --env-file
// which does not strip shell quoting.
func (c *Config) sanitise() {
	c.APIKey = stripEnvQuotes(c.APIKey)
	c.BaseURL = stripEnvQuotes(c.BaseURL)
	c.StreamURL = stripEnvQuotes(c.StreamURL)
	c.Identity = stripEnvQuotes(c.Identity)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)

	for i, s := range c.Permissions {
		c.Permissions[i] = stripEnvQuotes(s)
	}
	for i, s := range c.MirrorCategories {
		c.MirrorCategories[i] = stripEnvQuotes(s)
	}
	for i, s := range c.ExcludePatterns {
		c.ExcludePatterns[i] = stripEnvQuotes(s)
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"fishfish_base_url":     "https://api.fishfish.gg/v1",
		"fishfish_stream_url":   "wss://api.fishfish.gg/v1/stream",
		"fishfish_permissions":  "domains,urls",
		"fishfish_http_timeout": "15s",
		"feed_resync":           true,
		"feed_resync_interval":  "1h",
		"mirror_categories":     "phishing,malware",
		"pool_workers":          4,
		"pool_queue_depth":      4096,
		"pool_max_retries":      3,
		"pool_retry_base":       "1s",
		"data_dir":              "/data",
		"log_level":             "info",
		"log_format":            "json",
		"metrics_enabled":       true,
		"metrics_addr":          ":9090",
		"health_addr":           ":8081",
		"maintenance_interval":  "1h",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. FISHFISH_API_KEY →
	// "fishfish_api_key" maps straight to the koanf struct tag.
	k := koanf.New(".")

	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated list fields that koanf won't split automatically
	cfg.Permissions = splitCSV(k.String("fishfish_permissions"))
	cfg.MirrorCategories = splitCSV(k.String("mirror_categories"))
	cfg.ExcludePatterns = splitCSV(k.String("exclude_patterns"))

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("FISHFISH_API_KEY is required")
	}
	if c.Identity == "" {
		return fmt.Errorf("FISHFISH_IDENTITY is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("FISHFISH_BASE_URL must start with http:// or https://; got %q", c.BaseURL)
	}
	if !strings.HasPrefix(c.StreamURL, "ws://") && !strings.HasPrefix(c.StreamURL, "wss://") {
		return fmt.Errorf("FISHFISH_STREAM_URL must start with ws:// or wss://; got %q", c.StreamURL)
	}

	validPerms := map[string]bool{"domains": true, "urls": true, "admin": true}
	for _, p := range c.Permissions {
		if !validPerms[p] {
			return fmt.Errorf("FISHFISH_PERMISSIONS must be a list of domains,urls,admin; got %q", p)
		}
	}

	validCategories := map[string]bool{"safe": true, "malware": true, "phishing": true}
	for _, cat := range c.MirrorCategories {
		if !validCategories[cat] {
			return fmt.Errorf("MIRROR_CATEGORIES must be a list of safe,malware,phishing; got %q", cat)
		}
	}

	if c.PoolWorkers < 1 || c.PoolWorkers > 64 {
		return fmt.Errorf("POOL_WORKERS must be 1–64; got %d", c.PoolWorkers)
	}
	if c.PoolQueueDepth < 1 {
		return fmt.Errorf("POOL_QUEUE_DEPTH must be >= 1; got %d", c.PoolQueueDepth)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.Resync && c.ResyncInterval <= 0 {
		return fmt.Errorf("FEED_RESYNC_INTERVAL must be > 0; got %s", c.ResyncInterval)
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("MAINTENANCE_INTERVAL must be > 0; got %s", c.MaintenanceInterval)
	}

	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"fishfish_api_key",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			// Also check uppercased env var with _FILE suffix
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
