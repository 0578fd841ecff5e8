package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every server-level option for the scan service.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
	Engine  EngineConfig  `koanf:"engine"`
	Durable DurableConfig `koanf:"durable"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig bounds the in-memory scan cache.
type CacheConfig struct {
	Capacity   int    `koanf:"capacity"`
	TTLSeconds int    `koanf:"ttlSeconds"`
	Shards     int    `koanf:"shards"`
	Namespace  string `koanf:"namespace"`
}

// EngineConfig describes the rule engine adapter: where the ruleset document
// lives and how long a single engine invocation may run.
type EngineConfig struct {
	RulesetFile   string `koanf:"rulesetFile"`
	FillTimeoutMs int    `koanf:"fillTimeoutMs"`
}

// DurableConfig selects the durable store backend for write-through persists.
type DurableConfig struct {
	Backend string              `koanf:"backend"`
	Valkey  DurableValkeyConfig `koanf:"valkey"`
}

type DurableValkeyConfig struct {
	Address  string                 `koanf:"address"`
	Username string                 `koanf:"username"`
	Password string                 `koanf:"password"`
	DB       int                    `koanf:"db"`
	TLS      DurableValkeyTLSConfig `koanf:"tls"`
}

type DurableValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.Capacity < 0 {
		return fmt.Errorf("config: server.cache.capacity invalid: %d", c.Server.Cache.Capacity)
	}
	if c.Server.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", c.Server.Cache.TTLSeconds)
	}
	if c.Server.Cache.Shards < 0 {
		return fmt.Errorf("config: server.cache.shards invalid: %d", c.Server.Cache.Shards)
	}
	if c.Server.Engine.FillTimeoutMs < 0 {
		return fmt.Errorf("config: server.engine.fillTimeoutMs invalid: %d", c.Server.Engine.FillTimeoutMs)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Durable.Backend))
	switch backend {
	case "", "none":
	case "valkey":
		if strings.TrimSpace(c.Server.Durable.Valkey.Address) == "" {
			return errors.New("config: server.durable.valkey.address required for valkey backend")
		}
	default:
		return fmt.Errorf("config: server.durable.backend unsupported: %s", c.Server.Durable.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design
// defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Capacity:   4096,
				TTLSeconds: 3600,
				Shards:     16,
				Namespace:  "prosescan:scan:v1",
			},
			Engine: EngineConfig{
				FillTimeoutMs: 5000,
			},
			Durable: DurableConfig{
				Backend: "none",
			},
		},
	}
}
