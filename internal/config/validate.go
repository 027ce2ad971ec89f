package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must abort startup (Fatals) from
// ones that were clamped to a safe value and merely logged (Warnings).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any validation error requires aborting startup.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just
// want to log everything regardless of severity.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// Validate checks the config for invalid values, clamping out-of-range
// pacing/quality fields to the nearest valid bound rather than rejecting
// them outright. A zero target_fps or a quality above 100 are the two
// conditions the display capture pipeline cannot tolerate; both are fatal.
func (c *Config) Validate() ValidationResult {
	var result ValidationResult

	if c.RelayURL != "" {
		u, err := url.Parse(c.RelayURL)
		if err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("relay_url %q is not a valid URL: %w", c.RelayURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
			result.Fatals = append(result.Fatals, fmt.Errorf("relay_url scheme must be http(s) or ws(s), got %q", u.Scheme))
		}
	}

	if c.AuthToken != "" {
		for _, r := range c.AuthToken {
			if unicode.IsControl(r) {
				result.Fatals = append(result.Fatals, fmt.Errorf("auth_token contains control characters"))
				break
			}
		}
	}

	// target_fps must sit in [min_fps, max_fps]; the floor of 1 and the
	// ceiling of 120 are the validated bounds this implementation picked
	// (spec's open question: "some variants permit >=1, one enforces >10").
	if c.MinFPS <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("min_fps %d is below 1, clamping", c.MinFPS))
		c.MinFPS = 1
	}
	if c.MaxFPS > 120 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_fps %d exceeds 120, clamping", c.MaxFPS))
		c.MaxFPS = 120
	}
	if c.TargetFPS < c.MinFPS || c.TargetFPS > c.MaxFPS {
		result.Fatals = append(result.Fatals, fmt.Errorf("target_fps %d must be in [%d, %d]", c.TargetFPS, c.MinFPS, c.MaxFPS))
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		result.Warnings = append(result.Warnings, fmt.Errorf("jpeg_quality %d out of [1,100], clamping to 75", c.JPEGQuality))
		c.JPEGQuality = 75
	}

	if c.KeyframeIntervalMs <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("keyframe_interval_ms %d is non-positive, clamping to 1000", c.KeyframeIntervalMs))
		c.KeyframeIntervalMs = 1000
	}

	if c.MonitorTickMs <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("monitor_tick_ms %d is non-positive, clamping to 100", c.MonitorTickMs))
		c.MonitorTickMs = 100
	}

	if len(c.PoolBucketSizesKiB) != len(c.PoolBucketCaps) {
		result.Fatals = append(result.Fatals, fmt.Errorf("pool_bucket_sizes_kib and pool_bucket_caps must have equal length"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.SessionNonceTTLSeconds <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("session_nonce_ttl_seconds %d is non-positive, clamping to 120", c.SessionNonceTTLSeconds))
		c.SessionNonceTTLSeconds = 120
	}

	return result
}
