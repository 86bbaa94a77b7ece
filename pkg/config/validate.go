package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

const defaultUserAgent = "lj-archiver/1.0 (+https://github.com/Sriram-PR/lj-archiver)"

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	// MaxConcurrentFetches
	if c.MaxConcurrentFetches <= 0 {
		warnings = append(warnings, "max_concurrent_fetches should be > 0, defaulting to 4")
		c.MaxConcurrentFetches = 4
	}

	// MaxConcurrentDownloads
	if c.MaxConcurrentDownloads <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"max_concurrent_downloads not specified or invalid, defaulting to max_concurrent_fetches (%d)",
			c.MaxConcurrentFetches))
		c.MaxConcurrentDownloads = c.MaxConcurrentFetches
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './archive'")
		c.OutputBaseDir = "./archive"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './archiver_state'")
		c.StateDir = "./archiver_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// FetchTimeout
	if c.FetchTimeout < 0 {
		warnings = append(warnings, "fetch_timeout cannot be negative, defaulting to 60s")
		c.FetchTimeout = 0
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 60 * time.Second
	}

	// MaxRounds
	if c.MaxRounds < 0 {
		warnings = append(warnings, "max_rounds cannot be negative, setting to 0 (unlimited)")
		c.MaxRounds = 0
	}

	// MaxAssetSizeBytes
	if c.MaxAssetSizeBytes < 0 {
		warnings = append(warnings, "max_asset_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxAssetSizeBytes = 0
	}

	// FallbackAssetPath
	if c.FallbackAssetPath == "" {
		c.FallbackAssetPath = DefaultFallbackAsset
	} else if !utils.IsSafeRelPath(filepath.ToSlash(c.FallbackAssetPath)) {
		return warnings, fmt.Errorf("%w: fallback_asset_path %q must be a relative path inside the output directory",
			utils.ErrConfigValidation, c.FallbackAssetPath)
	}

	if c.SkipAssets && c.SkipUserpics {
		warnings = append(warnings, "skip_userpics has no effect when skip_assets is true")
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.MaxConcurrentFetches
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
