// Package config loads the daemon's environment-driven configuration using
// viper with a mapstructure-tagged config struct.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds every environment-tunable knob for the core daemon and the
// approval gateway.
type Config struct {
	CorePort               int    `mapstructure:"core_port"`
	CoreToken              string `mapstructure:"core_token"`
	CoreTokenFile          string `mapstructure:"core_token_file"`
	MaxBodyBytes           int64  `mapstructure:"max_body_bytes"`
	MaxPTYWriteBytes       int    `mapstructure:"max_pty_write_bytes"`
	MaxSSEClients          int    `mapstructure:"max_sse_clients"`
	RateLimitPerMinute     int    `mapstructure:"rate_limit_per_minute"`
	MaxPTYSessions         int    `mapstructure:"max_pty_sessions"`
	ApprovalPort           int    `mapstructure:"approval_port"`
	ApprovalDBPath         string `mapstructure:"approval_db_path"`
	ApprovalWaitMaxSeconds int    `mapstructure:"approval_wait_max_seconds"`
	ApprovalRetentionDays  int    `mapstructure:"approval_retention_days"`
}

// defaults returns the built-in fallback value for every config key.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"core_port":                 34600,
		"core_token":                "",
		"core_token_file":           "~/.forkline/core.token",
		"max_body_bytes":            2_000_000,
		"max_pty_write_bytes":       64_000,
		"max_sse_clients":           64,
		"rate_limit_per_minute":     1200,
		"max_pty_sessions":          256,
		"approval_port":             34567,
		"approval_db_path":          "~/.forkline/approvals.db",
		"approval_wait_max_seconds": 600,
		"approval_retention_days":   7,
	}
}

// Load reads configuration from environment variables, falling back to the
// defaults above. Keys starting with core_ or approval_ are read from
// FORKLINE_<KEY>; every other key is read from FORKLINE_CORE_<KEY> (e.g.
// FORKLINE_CORE_MAX_PTY_WRITE_BYTES). Load applies no CLI flags; the caller
// overrides fields such as CorePort after it returns.
func Load() (*Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("forkline")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key := range defaults() {
		name := "FORKLINE_" + strings.ToUpper(key)
		if !strings.HasPrefix(key, "core_") && !strings.HasPrefix(key, "approval_") {
			name = "FORKLINE_CORE_" + strings.ToUpper(key)
		}
		if err := v.BindEnv(key, name); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
