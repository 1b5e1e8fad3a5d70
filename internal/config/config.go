package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURLs    []string
	Network    uint64
	RoutesFile string
	PGDSN      string
	RPCTimeout time.Duration

	CycleInterval  time.Duration
	HighInterval   time.Duration
	NormalInterval time.Duration
	LowInterval    time.Duration
	RetryDelay     time.Duration
	WeightCeiling  int
	CacheTTL       time.Duration
	GracePeriod    time.Duration
	EvictionEvery  time.Duration
	TTLSweepEvery  time.Duration

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc-timeout", 5*time.Second)
	v.SetDefault("cycle-interval", time.Second)
	v.SetDefault("high-interval", 5*time.Second)
	v.SetDefault("normal-interval", 10*time.Second)
	v.SetDefault("low-interval", 30*time.Second)
	v.SetDefault("retry-delay", 2*time.Second)
	v.SetDefault("weight-ceiling", 50)
	v.SetDefault("cache-ttl", 2*time.Minute)
	v.SetDefault("grace-period", 20*time.Second)
	v.SetDefault("eviction-interval", 30*time.Second)
	v.SetDefault("ttl-sweep-interval", 30*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURLs:        getStringSlice(v, "rpc"),
		Network:        v.GetUint64("network"),
		RoutesFile:     v.GetString("routes-file"),
		PGDSN:          v.GetString("pg-dsn"),
		RPCTimeout:     v.GetDuration("rpc-timeout"),
		CycleInterval:  v.GetDuration("cycle-interval"),
		HighInterval:   v.GetDuration("high-interval"),
		NormalInterval: v.GetDuration("normal-interval"),
		LowInterval:    v.GetDuration("low-interval"),
		RetryDelay:     v.GetDuration("retry-delay"),
		WeightCeiling:  v.GetInt("weight-ceiling"),
		CacheTTL:       v.GetDuration("cache-ttl"),
		GracePeriod:    v.GetDuration("grace-period"),
		EvictionEvery:  v.GetDuration("eviction-interval"),
		TTLSweepEvery:  v.GetDuration("ttl-sweep-interval"),
		MetricsAddr:    v.GetString("metrics-addr"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
