package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

// DefaultFallbackAsset is substituted for every asset whose download fails
const DefaultFallbackAsset = "no-picture.svg"

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent              string           `yaml:"user_agent"`
	OutputBaseDir          string           `yaml:"output_base_dir"`
	StateDir               string           `yaml:"state_dir"`
	MaxConcurrentFetches   int              `yaml:"max_concurrent_fetches"`
	MaxConcurrentDownloads int              `yaml:"max_concurrent_downloads,omitempty"`
	MaxRetries             int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay      time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay          time.Duration    `yaml:"max_retry_delay,omitempty"`
	FetchTimeout           time.Duration    `yaml:"fetch_timeout,omitempty"`  // Per-fetch timeout inside a scheduler round
	MaxRounds              int              `yaml:"max_rounds,omitempty"`     // 0 = unlimited
	MaxAssetSizeBytes      int64            `yaml:"max_asset_size_bytes,omitempty"`
	FallbackAssetPath      string           `yaml:"fallback_asset_path,omitempty"`
	SkipSubsumedSiblings   bool             `yaml:"skip_subsumed_siblings,omitempty"`
	SkipUserpics           bool             `yaml:"skip_userpics,omitempty"`
	SkipAssets             bool             `yaml:"skip_assets,omitempty"`
	HTTPClientSettings     HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Load reads a YAML config file. A missing file yields a zero config so that
// Validate fills in every default.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%w: reading config %s: %w", utils.ErrFilesystem, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing config %s: %w", utils.ErrConfigValidation, path, err)
	}
	return cfg, nil
}

// UserpicsEnabled reports whether comment userpics should be planned for download
func (c AppConfig) UserpicsEnabled() bool {
	return !c.SkipAssets && !c.SkipUserpics
}
