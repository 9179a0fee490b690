// Package config loads the processor's layered configuration: built-in
// defaults, an optional YAML file, then environment variable overrides,
// with ${VAR} substitution applied to the raw file bytes before parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PresenceServer is one configured failover endpoint for the presence feed.
type PresenceServer struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Priority int    `koanf:"priority"`
	Weight   int    `koanf:"weight"`
}

// PersistenceConfig configures the durable subscription store.
type PersistenceConfig struct {
	Enable       bool          `koanf:"enable"`
	URI          string        `koanf:"uri"`
	Database     string        `koanf:"database"`
	Collection   string        `koanf:"collection"`
	PoolSize     int           `koanf:"pool_size"`
	SyncInterval time.Duration `koanf:"sync_interval"`
	BatchSize    int           `koanf:"batch_size"`
}

// SlowEventConfig configures the slow-event timing thresholds, in ms.
type SlowEventConfig struct {
	WarnMS     int64 `koanf:"warn_ms"`
	ErrorMS    int64 `koanf:"error_ms"`
	CriticalMS int64 `koanf:"critical_ms"`
}

// PresenceConfig configures the presence TCP client and failover manager.
type PresenceConfig struct {
	Servers              []PresenceServer `koanf:"servers"`
	FailoverStrategy     string           `koanf:"failover_strategy"`
	ServerCooldown       time.Duration    `koanf:"server_cooldown"`
	ReconnectInterval    time.Duration    `koanf:"reconnect_interval"`
	ReconnectMaxInterval time.Duration    `koanf:"reconnect_max_interval"`
	ReadTimeout          time.Duration    `koanf:"read_timeout"`
	HeartbeatInterval    time.Duration    `koanf:"heartbeat_interval"`
	HeartbeatMissThresh  int              `koanf:"heartbeat_miss_threshold"`
	MaxPendingEvents     int              `koanf:"max_pending_events"`
}

// SIPConfig configures the sipgo-backed gateway.
type SIPConfig struct {
	BindAddr      string `koanf:"bind_addr"`
	AdvertiseAddr string `koanf:"advertise_addr"`
	Port          int    `koanf:"port"`
}

// Config is the processor's full runtime configuration.
type Config struct {
	NumWorkers                int           `koanf:"num_workers"`
	MaxIncomingQueuePerWorker int           `koanf:"max_incoming_queue_per_worker"`
	MaxDialogsPerWorker       int           `koanf:"max_dialogs_per_worker"`
	MaxSubscriptionsPerTenant int           `koanf:"max_subscriptions_per_tenant"`
	BLFSubscriptionTTL        time.Duration `koanf:"blf_subscription_ttl"`
	MWISubscriptionTTL        time.Duration `koanf:"mwi_subscription_ttl"`
	ReaperScanInterval        time.Duration `koanf:"reaper_scan_interval"`
	StuckProcessingTimeout    time.Duration `koanf:"stuck_processing_timeout"`

	SIP        SIPConfig          `koanf:"sip"`
	Presence   PresenceConfig     `koanf:"presence"`
	Persist    PersistenceConfig  `koanf:"persistence"`
	SlowEvent  SlowEventConfig    `koanf:"slow_event"`
	HTTPBind   string             `koanf:"http_bind"`
	HTTPPort   int                `koanf:"http_port"`
	LogLevel   string             `koanf:"log_level"`
	LogDir     string             `koanf:"log_dir"`
	LogBase    string             `koanf:"log_base"`
	ServiceID  string             `koanf:"service_id"`
}

// DefaultConfigPaths lists config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sip-event-processor/config.yaml",
}

// ConfigPathEnvVar overrides the search list with a single explicit path.
const ConfigPathEnvVar = "SIP_EVENT_PROCESSOR_CONFIG"

func defaultConfig() *Config {
	return &Config{
		NumWorkers:                8,
		MaxIncomingQueuePerWorker: 1024,
		MaxDialogsPerWorker:       4096,
		MaxSubscriptionsPerTenant: 1000,
		BLFSubscriptionTTL:        1 * time.Hour,
		MWISubscriptionTTL:        24 * time.Hour,
		ReaperScanInterval:        30 * time.Second,
		StuckProcessingTimeout:    10 * time.Second,
		SIP: SIPConfig{
			BindAddr: "0.0.0.0",
			Port:     5060,
		},
		Presence: PresenceConfig{
			FailoverStrategy:     "round_robin",
			ServerCooldown:       10 * time.Second,
			ReconnectInterval:    1 * time.Second,
			ReconnectMaxInterval: 30 * time.Second,
			ReadTimeout:          5 * time.Second,
			HeartbeatInterval:    15 * time.Second,
			HeartbeatMissThresh:  3,
			MaxPendingEvents:     4096,
		},
		Persist: PersistenceConfig{
			Enable:       false,
			Database:     "sip_event_processor",
			Collection:   "subscriptions",
			PoolSize:     4,
			SyncInterval: 5 * time.Second,
			BatchSize:    200,
		},
		SlowEvent: SlowEventConfig{
			WarnMS:     50,
			ErrorMS:    250,
			CriticalMS: 1000,
		},
		HTTPBind:  "0.0.0.0",
		HTTPPort:  8080,
		LogLevel:  "info",
		LogBase:   "sip-event-processor",
		ServiceID: "",
	}
}

// Load builds the layered configuration: defaults, then an optional YAML
// file (with ${VAR} substitution), then environment variable overrides.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		// koanf's file.Provider reads raw bytes with no interpolation, so
		// ${VAR} substitution is done here before handing bytes to koanf.
		expanded := os.Expand(string(raw), expandVar)
		if err := k.Load(rawbytes.Provider([]byte(expanded)), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("SIP_", ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if cfg.ServiceID == "" {
		cfg.ServiceID = newServiceID()
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// expandVar resolves ${VAR} references against the process environment;
// an unset variable expands to the empty string, matching shell semantics
// for unset-but-referenced variables.
func expandVar(name string) string {
	return os.Getenv(name)
}

// envTransform maps SIP_NUM_WORKERS -> num_workers, SIP_SIP_PORT -> sip.port.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "SIP_"))
	for _, section := range []string{"sip", "presence", "persistence", "slow_event"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

func newServiceID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "sip-event-processor"
	}
	return hostname + "-" + uuid.NewString()
}
