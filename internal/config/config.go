package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in PROVIDERS and in the providers file.
const (
	ProviderKandilli = "kandilli"
	ProviderAFAD     = "afad"
)

// Default upstream endpoints.
const (
	DefaultKandilliURL = "https://api.orhanaydogdu.com.tr/deprem/kandilli/live"
	DefaultAFADURL     = "https://deprem.afad.gov.tr/apiv2/event/filter"
)

// ProviderConfig describes one upstream seismic data provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Providers are queried concurrently in this order on every fetch.
	Providers      []ProviderConfig
	FetchLookback  time.Duration
	FetchLimit     int
	FetchInterval  time.Duration // 0 disables the periodic refresher
	FallbackToMock bool

	// Kafka is optional; with no brokers the live-update and anomaly loops are off.
	KafkaBrokers       []string
	KafkaUpdatesTopic  string
	KafkaAnomalyTopic  string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// KafkaEnabled reports whether any Kafka brokers are configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	providerTimeout, err := parsePositiveDuration("PROVIDER_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	lookback, err := parsePositiveDuration("FETCH_LOOKBACK", "24h")
	if err != nil {
		return nil, err
	}

	interval, err := time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_INTERVAL", "5m"))
	if err != nil || interval < 0 {
		return nil, errors.New("invalid FETCH_INTERVAL")
	}

	fetchLimit, err := strconv.Atoi(sharedcfg.EnvOrDefault("FETCH_LIMIT", "500"))
	if err != nil || fetchLimit <= 0 {
		return nil, errors.New("invalid FETCH_LIMIT")
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	providers, err := loadProviders(providerTimeout)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Providers:      providers,
		FetchLookback:  lookback,
		FetchLimit:     fetchLimit,
		FetchInterval:  interval,
		FallbackToMock: os.Getenv("FALLBACK_TO_MOCK") == "true",

		KafkaBrokers:       brokers,
		KafkaUpdatesTopic:  sharedcfg.EnvOrDefault("KAFKA_UPDATES_TOPIC", "seismic-event-updates"),
		KafkaAnomalyTopic:  sharedcfg.EnvOrDefault("KAFKA_ANOMALY_TOPIC", "seismic-anomalies"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "quake-data-etl"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if cfg.KafkaEnabled() {
		if cfg.KafkaUpdatesTopic == "" {
			return nil, errors.New("KAFKA_UPDATES_TOPIC is required")
		}
		if cfg.KafkaAnomalyTopic == "" {
			return nil, errors.New("KAFKA_ANOMALY_TOPIC is required")
		}
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// providersFile is the YAML document referenced by PROVIDERS_FILE.
type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// loadProviders builds the provider list from PROVIDERS_FILE when set,
// otherwise from PROVIDERS plus the per-provider URL variables.
func loadProviders(defaultTimeout time.Duration) ([]ProviderConfig, error) {
	var providers []ProviderConfig

	if path := os.Getenv("PROVIDERS_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read PROVIDERS_FILE: %w", err)
		}
		var f providersFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse PROVIDERS_FILE: %w", err)
		}
		providers = f.Providers
	} else {
		for _, name := range strings.Split(sharedcfg.EnvOrDefault("PROVIDERS", "kandilli,afad"), ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			providers = append(providers, ProviderConfig{Name: name})
		}
	}

	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required (PROVIDERS)")
	}

	seen := make(map[string]bool, len(providers))
	for i := range providers {
		p := &providers[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		switch p.Name {
		case ProviderKandilli:
			if p.URL == "" {
				p.URL = sharedcfg.EnvOrDefault("KANDILLI_URL", DefaultKandilliURL)
			}
		case ProviderAFAD:
			if p.URL == "" {
				p.URL = sharedcfg.EnvOrDefault("AFAD_URL", DefaultAFADURL)
			}
		default:
			return nil, fmt.Errorf("unknown provider %q in PROVIDERS", p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = true
		if p.Timeout <= 0 {
			p.Timeout = defaultTimeout
		}
	}
	return providers, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
