package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and
// an optional config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// UPNPKIT_POOL_MAX_THREADS -> pool.max_threads
	v.SetEnvPrefix("UPNPKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures every default named in the configuration surface.
func setDefaults(v *viper.Viper) {
	// ThreadPool attributes.
	v.SetDefault("pool.min_threads", 2)
	v.SetDefault("pool.max_threads", 12)
	v.SetDefault("pool.stack_size", 0)
	v.SetDefault("pool.max_idle_time_ms", 10_000)
	v.SetDefault("pool.jobs_per_thread", 10)
	v.SetDefault("pool.max_jobs_total", 100)
	v.SetDefault("pool.starvation_time_ms", 500)
	v.SetDefault("pool.sched_policy", string(SchedOther))

	// SSDP / discovery defaults.
	v.SetDefault("discovery.mx", 5)
	v.SetDefault("discovery.max_age", 1800)
	v.SetDefault("discovery.num_ssdp_copy", 2)
	v.SetDefault("discovery.ssdp_pause_ms", 100)
	v.SetDefault("discovery.min_search_time", 1)
	v.SetDefault("discovery.max_search_time", 120)
	v.SetDefault("discovery.enable_ipv6", true)
	v.SetDefault("discovery.enable_ula_gua", false)
	v.SetDefault("discovery.use_all_interfaces", false)
	v.SetDefault("discovery.selected_interfaces", []string{})

	// GENA / eventing defaults.
	v.SetDefault("eventing.auto_renew_guard", 30)
	v.SetDefault("eventing.soap_content_length", 16_000)

	// Logging defaults.
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Node identity.
	v.SetDefault("node.server_string", "upnpkit/1.0 UPnP/1.0")
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalizeConfig validates and clamps configuration, filling in
// defaults for anything the file/env layers left unset.
func normalizeConfig(cfg *Config) error {
	if cfg.Pool.MinThreads < 0 {
		return errors.New("pool.min_threads must be >= 0")
	}
	if cfg.Pool.MaxThreads < 1 {
		return errors.New("pool.max_threads must be >= 1")
	}
	if cfg.Pool.MinThreads > cfg.Pool.MaxThreads {
		cfg.Pool.MinThreads = cfg.Pool.MaxThreads
	}
	if cfg.Pool.JobsPerThread <= 0 {
		cfg.Pool.JobsPerThread = 10
	}
	if cfg.Pool.MaxJobsTotal <= 0 {
		cfg.Pool.MaxJobsTotal = 100
	}
	if cfg.Pool.StarvationMs <= 0 {
		cfg.Pool.StarvationMs = 500
	}
	switch SchedPolicy(cfg.Pool.SchedPolicy) {
	case SchedOther, SchedFIFO, SchedRR:
	default:
		cfg.Pool.SchedPolicy = string(SchedOther)
	}

	if cfg.Discovery.MX <= 0 {
		cfg.Discovery.MX = 5
	}
	if cfg.Discovery.MaxAge <= 0 {
		cfg.Discovery.MaxAge = 1800
	}
	if cfg.Discovery.NumSSDPCopy <= 0 {
		cfg.Discovery.NumSSDPCopy = 2
	}
	if cfg.Discovery.MinSearchTime <= 0 {
		cfg.Discovery.MinSearchTime = 1
	}
	if cfg.Discovery.MaxSearchTime <= 0 || cfg.Discovery.MaxSearchTime < cfg.Discovery.MinSearchTime {
		cfg.Discovery.MaxSearchTime = 120
	}

	if cfg.Eventing.AutoRenewGuard < 0 {
		return errors.New("eventing.auto_renew_guard must be >= 0")
	}
	if cfg.Eventing.SOAPContentLength <= 0 {
		cfg.Eventing.SOAPContentLength = 16_000
	}
	if cfg.Eventing.SOAPContentLength > 32_000 {
		cfg.Eventing.SOAPContentLength = 32_000
	}

	cfg.Logging.Level = strings.ToUpper(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}
	if strings.TrimSpace(cfg.Node.ServerString) == "" {
		cfg.Node.ServerString = "upnpkit/1.0 UPnP/1.0"
	}

	return nil
}
