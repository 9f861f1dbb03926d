// Package config handles configuration loading for cryptoquote.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Sources SourcesConfig `mapstructure:"sources" yaml:"sources"`
	Fiat    FiatConfig    `mapstructure:"fiat"    yaml:"fiat"`
	Pricing PricingConfig `mapstructure:"pricing" yaml:"pricing"`
	News    NewsConfig    `mapstructure:"news"    yaml:"news"`
	HTTP    HTTPConfig    `mapstructure:"http"    yaml:"http"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
}

// SourcesConfig holds price source credentials.
type SourcesConfig struct {
	CoinGeckoKey     string `mapstructure:"coingecko_key"     yaml:"coingecko_key"`
	CoinMarketCapKey string `mapstructure:"coinmarketcap_key" yaml:"coinmarketcap_key"`
}

// FiatConfig holds fiat converter settings.
type FiatConfig struct {
	CacheTTLSec int `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`
}

// PricingConfig holds aggregation settings. The consensus band bounds
// the accepted ratio of a quote's price to the consensus median; the
// modal threshold is the group size the majority must exceed before
// that median is enforced.
type PricingConfig struct {
	DefaultLimit   int    `mapstructure:"default_limit"   yaml:"default_limit"`
	BandLower      string `mapstructure:"band_lower"      yaml:"band_lower"`
	BandUpper      string `mapstructure:"band_upper"      yaml:"band_upper"`
	ModalThreshold int    `mapstructure:"modal_threshold" yaml:"modal_threshold"`
	WarmupOnStart  bool   `mapstructure:"warmup_on_start" yaml:"warmup_on_start"`
}

// NewsConfig holds news provider settings.
type NewsConfig struct {
	CryptoPanicKey string `mapstructure:"cryptopanic_key" yaml:"cryptopanic_key"`
	CacheTTLSec    int    `mapstructure:"cache_ttl_sec"   yaml:"cache_ttl_sec"`
}

// HTTPConfig holds outbound HTTP settings.
type HTTPConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Addr returns the host:port the API server binds to.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// HTTPTimeout returns the outbound HTTP timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSec) * time.Second
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.cryptoquote/config.yaml (home directory)
//  3. /etc/cryptoquote/config.yaml (system)
//
// Environment variables override config file values.
// Format: CRYPTOQUOTE_<SECTION>_<KEY>, e.g., CRYPTOQUOTE_SOURCES_COINGECKO_KEY
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".cryptoquote"))
	v.AddConfigPath("/etc/cryptoquote")

	v.SetEnvPrefix("CRYPTOQUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("CRYPTOQUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Fiat defaults
	v.SetDefault("fiat.cache_ttl_sec", 300) // 5 minutes

	// Pricing defaults — the band values were calibrated empirically
	// against multi-source quote data.
	v.SetDefault("pricing.default_limit", 3)
	v.SetDefault("pricing.band_lower", "0.4")
	v.SetDefault("pricing.band_upper", "2.5")
	v.SetDefault("pricing.modal_threshold", 1)
	v.SetDefault("pricing.warmup_on_start", true)

	// News defaults
	v.SetDefault("news.cache_ttl_sec", 600) // 10 minutes

	// HTTP defaults
	v.SetDefault("http.timeout_sec", 10)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("CRYPTOQUOTE_SOURCES_COINGECKO_KEY"); key != "" {
		cfg.Sources.CoinGeckoKey = key
	}
	if key := os.Getenv("CRYPTOQUOTE_SOURCES_COINMARKETCAP_KEY"); key != "" {
		cfg.Sources.CoinMarketCapKey = key
	}
	if key := os.Getenv("CRYPTOQUOTE_NEWS_CRYPTOPANIC_KEY"); key != "" {
		cfg.News.CryptoPanicKey = key
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
