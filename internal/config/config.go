// Package config loads gateway configuration from an optional YAML file and
// GW_-prefixed environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Redis   RedisConfig   `koanf:"redis"`
	Auth    AuthConfig    `koanf:"auth"`
	Cache   CacheConfig   `koanf:"cache"`
	Breaker BreakerConfig `koanf:"breaker"`
	Loader  LoaderConfig  `koanf:"loader"`
	Proxy   ProxyConfig   `koanf:"proxy"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite or memory
	DSN    string `koanf:"dsn"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// AuthConfig configures token validation and the token-cache policy.
// A token is cached only when its remaining lifetime exceeds CacheBuffer;
// the cache entry TTL is the remaining lifetime minus CacheMargin, floored
// at one second.
type AuthConfig struct {
	AuthorityURL string        `koanf:"authority_url"`
	Timeout      time.Duration `koanf:"timeout"`
	CachePrefix  string        `koanf:"cache_prefix"`
	CacheBuffer  time.Duration `koanf:"cache_buffer"`
	CacheMargin  time.Duration `koanf:"cache_margin"`
}

type CacheConfig struct {
	Prefix  string        `koanf:"prefix"`
	TTL     time.Duration `koanf:"ttl"`
	Methods []string      `koanf:"methods"`
}

// MethodSet returns the cacheable methods as an upper-cased set.
func (c CacheConfig) MethodSet() map[string]bool {
	set := make(map[string]bool, len(c.Methods))
	for _, m := range c.Methods {
		set[strings.ToUpper(strings.TrimSpace(m))] = true
	}
	return set
}

// BreakerConfig is the default breaker policy, applied to services that do
// not define one of their own.
type BreakerConfig struct {
	FailureRateThreshold  float64       `koanf:"failure_rate_threshold"`
	SlowCallRateThreshold float64       `koanf:"slow_call_rate_threshold"`
	OpenStateWait         time.Duration `koanf:"open_state_wait"`
	HalfOpenCalls         uint32        `koanf:"half_open_calls"`
	SlidingWindowSize     uint32        `koanf:"sliding_window_size"`
	SlowCallDuration      time.Duration `koanf:"slow_call_duration"`
}

type LoaderConfig struct {
	ServicesFile string `koanf:"services_file"`
	RoutesDir    string `koanf:"routes_dir"`
}

type ProxyConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Load reads configuration. path may be empty or point at a YAML file;
// GW_ environment variables override file values, with "__" separating
// nested keys (GW_SERVER__PORT=9000 sets server.port).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("GW_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "GW_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("server.port", 8080)
	k.Set("server.shutdown_timeout", "30s")
	k.Set("storage.driver", "sqlite")
	k.Set("storage.dsn", "./data/gateway.db")
	k.Set("redis.addr", "localhost:6379")
	k.Set("auth.authority_url", "http://auth-service/auth/validateToken")
	k.Set("auth.timeout", "5s")
	k.Set("auth.cache_prefix", "auth:")
	k.Set("auth.cache_buffer", "30s")
	k.Set("auth.cache_margin", "10s")
	k.Set("cache.prefix", "cache:")
	k.Set("cache.ttl", "10s")
	k.Set("cache.methods", []string{"GET"})
	k.Set("breaker.failure_rate_threshold", 50.0)
	k.Set("breaker.slow_call_rate_threshold", 100.0)
	k.Set("breaker.open_state_wait", "5s")
	k.Set("breaker.half_open_calls", 3)
	k.Set("breaker.sliding_window_size", 10)
	k.Set("breaker.slow_call_duration", "2s")
	k.Set("loader.services_file", "routes/services.json")
	k.Set("loader.routes_dir", "routes")
	k.Set("proxy.timeout", "30s")
}
