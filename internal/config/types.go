// Package config loads upnpkit's runtime configuration using Viper.
//
// Configuration is loaded from a YAML file with automatic environment
// variable binding, layered as:
//
//  1. Hardcoded defaults
//  2. YAML config file (if supplied)
//  3. Environment variables (UPNPKIT_* prefix), highest priority
//
// Environment variables are mapped from UPNPKIT_CATEGORY_SETTING, e.g.
// UPNPKIT_POOL_MAX_THREADS maps to pool.max_threads in YAML.
package config

import (
	"os"
	"strings"
)

// SchedPolicy mirrors the enumerated scheduling policies a ThreadPool
// attribute set can request (the pool design). upnpkit only ever runs on
// goroutines, so the field is carried for attribute-compatibility and
// logged, not acted on.
type SchedPolicy string

const (
	SchedOther SchedPolicy = "other"
	SchedFIFO  SchedPolicy = "fifo"
	SchedRR    SchedPolicy = "rr"
)

// PoolConfig configures internal/threadpool.Pool.
type PoolConfig struct {
	MinThreads     int `yaml:"min_threads"     mapstructure:"min_threads"`
	MaxThreads     int `yaml:"max_threads"     mapstructure:"max_threads"`
	StackSize      int `yaml:"stack_size"      mapstructure:"stack_size"`
	MaxIdleTimeMs  int `yaml:"max_idle_time_ms" mapstructure:"max_idle_time_ms"`
	JobsPerThread  int `yaml:"jobs_per_thread" mapstructure:"jobs_per_thread"`
	MaxJobsTotal   int `yaml:"max_jobs_total"  mapstructure:"max_jobs_total"`
	StarvationMs   int `yaml:"starvation_time_ms" mapstructure:"starvation_time_ms"`
	SchedPolicy    string `yaml:"sched_policy"    mapstructure:"sched_policy"`
}

// DiscoveryConfig configures internal/ssdp.
type DiscoveryConfig struct {
	MX                int      `yaml:"mx"                  mapstructure:"mx"`
	MaxAge            int      `yaml:"max_age"              mapstructure:"max_age"`
	NumSSDPCopy       int      `yaml:"num_ssdp_copy"        mapstructure:"num_ssdp_copy"`
	SSDPPauseMs       int      `yaml:"ssdp_pause_ms"        mapstructure:"ssdp_pause_ms"`
	MinSearchTime     int      `yaml:"min_search_time"      mapstructure:"min_search_time"`
	MaxSearchTime     int      `yaml:"max_search_time"      mapstructure:"max_search_time"`
	EnableIPv6        bool     `yaml:"enable_ipv6"          mapstructure:"enable_ipv6"`
	EnableULAGUA      bool     `yaml:"enable_ula_gua"       mapstructure:"enable_ula_gua"`
	UseAllInterfaces  bool     `yaml:"use_all_interfaces"   mapstructure:"use_all_interfaces"`
	SelectedInterfaces []string `yaml:"selected_interfaces" mapstructure:"selected_interfaces"`
}

// EventingConfig configures internal/gena.
type EventingConfig struct {
	AutoRenewGuard    int `yaml:"auto_renew_guard"     mapstructure:"auto_renew_guard"`
	SOAPContentLength int `yaml:"soap_content_length"  mapstructure:"soap_content_length"`
}

// LoggingConfig is consumed directly by internal/logx.Configure.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"`
}

// NodeConfig identifies this runtime instance on the wire (SERVER
// header, advertisement product/version string).
type NodeConfig struct {
	ServerString string `yaml:"server_string" mapstructure:"server_string"`
}

// Config is the root configuration structure.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"      mapstructure:"pool"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Eventing  EventingConfig  `yaml:"eventing"  mapstructure:"eventing"`
	Logging   LoggingConfig   `yaml:"logging"   mapstructure:"logging"`
	Node      NodeConfig      `yaml:"node"      mapstructure:"node"`
}

// ResolveConfigPath determines the config file path from a flag value
// or the UPNPKIT_CONFIG environment variable.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("UPNPKIT_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment overrides.
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
