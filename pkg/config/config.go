package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/reconnect/pkg/graph"
	"github.com/cuemby/reconnect/pkg/log"
)

// Config is the service configuration
type Config struct {
	// DataDir holds the job queue database
	DataDir string `yaml:"dataDir"`

	// APIAddr is the listen address of the admin API
	APIAddr string `yaml:"apiAddr"`

	// LedgerURL is the ledger endpoint
	LedgerURL string `yaml:"ledgerUrl"`

	// LedgerFixture seeds an in-memory ledger
	LedgerFixture string `yaml:"ledgerFixture"`

	ProviderID                string        `yaml:"providerId"`
	ProviderBaseURL           string        `yaml:"providerBaseUrl"`
	ProviderAccessToken       string        `yaml:"providerAccessToken"`
	ProviderAccountSeedPhrase string        `yaml:"providerAccountSeedPhrase"`
	ProviderPageSize          int           `yaml:"providerPageSize"`
	WebhookFailureThreshold   int           `yaml:"webhookFailureThreshold"`
	WebhookRetryInterval      time.Duration `yaml:"webhookRetryInterval"`

	HealthCheckSuccessThreshold int           `yaml:"healthCheckSuccessThreshold"`
	HealthCheckRetryInterval    time.Duration `yaml:"healthCheckRetryInterval"`

	BlockchainScanInterval time.Duration `yaml:"blockchainScanInterval"`
	QueueHighWater         int           `yaml:"queueHighWater"`
	WorkerConcurrency      int           `yaml:"workerConcurrency"`

	GraphEnvironmentType      graph.EnvironmentType `yaml:"graphEnvironmentType"`
	GraphEnvironmentDevConfig string                `yaml:"graphEnvironmentDevConfig"`

	LogLevel log.Level `yaml:"logLevel"`
	LogJSON  bool      `yaml:"logJson"`
}

// Default returns the configuration used for anything not set
func Default() Config {
	return Config{
		DataDir:                     "./reconnect-data",
		APIAddr:                     "127.0.0.1:8080",
		ProviderPageSize:            100,
		WebhookFailureThreshold:     3,
		WebhookRetryInterval:        10 * time.Second,
		HealthCheckSuccessThreshold: 10,
		HealthCheckRetryInterval:    10 * time.Second,
		BlockchainScanInterval:      180 * time.Minute,
		QueueHighWater:              1000,
		WorkerConcurrency:           2,
		LogLevel:                    log.InfoLevel,
	}
}

// Load reads the YAML file at path, if any, on top of the defaults and
// then applies environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATA_DIR":                     &c.DataDir,
		"API_ADDR":                     &c.APIAddr,
		"FREQUENCY_URL":                &c.LedgerURL,
		"LEDGER_FIXTURE":               &c.LedgerFixture,
		"PROVIDER_ID":                  &c.ProviderID,
		"PROVIDER_BASE_URL":            &c.ProviderBaseURL,
		"PROVIDER_ACCESS_TOKEN":        &c.ProviderAccessToken,
		"PROVIDER_ACCOUNT_SEED_PHRASE": &c.ProviderAccountSeedPhrase,
		"GRAPH_ENVIRONMENT_DEV_CONFIG": &c.GraphEnvironmentDevConfig,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"PROVIDER_PAGE_SIZE":             &c.ProviderPageSize,
		"WEBHOOK_FAILURE_THRESHOLD":      &c.WebhookFailureThreshold,
		"HEALTH_CHECK_SUCCESS_THRESHOLD": &c.HealthCheckSuccessThreshold,
		"QUEUE_HIGH_WATER":               &c.QueueHighWater,
		"WORKER_CONCURRENCY":             &c.WorkerConcurrency,
	}
	for name, field := range ints {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*field = n
	}

	durations := []struct {
		name  string
		unit  time.Duration
		field *time.Duration
	}{
		{"WEBHOOK_RETRY_INTERVAL_SECONDS", time.Second, &c.WebhookRetryInterval},
		{"HEALTH_CHECK_RETRY_INTERVAL_SECONDS", time.Second, &c.HealthCheckRetryInterval},
		{"BLOCKCHAIN_SCAN_INTERVAL_MINUTES", time.Minute, &c.BlockchainScanInterval},
	}
	for _, d := range durations {
		v, ok := lookup(d.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.field = time.Duration(n) * d.unit
	}

	if v, ok := lookup("GRAPH_ENVIRONMENT_TYPE"); ok {
		c.GraphEnvironmentType = graph.EnvironmentType(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = log.Level(v)
	}
	if v, ok := lookup("LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_JSON: %w", err)
		}
		c.LogJSON = b
	}
	return nil
}

// Validate checks required fields and ranges
func (c Config) Validate() error {
	var errs []error

	requireURL := func(name, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return
		}
		if u, err := url.Parse(value); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Errorf("%s must be a URL", name))
		}
	}
	requireURL("FREQUENCY_URL", c.LedgerURL)
	requireURL("PROVIDER_BASE_URL", c.ProviderBaseURL)

	if c.ProviderID == "" {
		errs = append(errs, errors.New("PROVIDER_ID is required"))
	}
	if c.ProviderAccountSeedPhrase == "" {
		errs = append(errs, errors.New("PROVIDER_ACCOUNT_SEED_PHRASE is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}

	atLeast := func(name string, value, min int) {
		if value < min {
			errs = append(errs, fmt.Errorf("%s must be at least %d", name, min))
		}
	}
	atLeast("QUEUE_HIGH_WATER", c.QueueHighWater, 100)
	atLeast("WEBHOOK_FAILURE_THRESHOLD", c.WebhookFailureThreshold, 1)
	atLeast("HEALTH_CHECK_SUCCESS_THRESHOLD", c.HealthCheckSuccessThreshold, 1)
	atLeast("WORKER_CONCURRENCY", c.WorkerConcurrency, 1)
	atLeast("PROVIDER_PAGE_SIZE", c.ProviderPageSize, 1)

	atLeastDuration := func(name string, value, min time.Duration) {
		if value < min {
			errs = append(errs, fmt.Errorf("%s must be at least %s", name, min))
		}
	}
	atLeastDuration("WEBHOOK_RETRY_INTERVAL_SECONDS", c.WebhookRetryInterval, time.Second)
	atLeastDuration("HEALTH_CHECK_RETRY_INTERVAL_SECONDS", c.HealthCheckRetryInterval, time.Second)
	atLeastDuration("BLOCKCHAIN_SCAN_INTERVAL_MINUTES", c.BlockchainScanInterval, time.Minute)

	switch c.GraphEnvironmentType {
	case graph.EnvironmentMainnet, graph.EnvironmentRococo:
	case graph.EnvironmentDev:
		if c.GraphEnvironmentDevConfig == "" {
			errs = append(errs, errors.New("GRAPH_ENVIRONMENT_DEV_CONFIG is required for Dev"))
		} else if _, err := graph.ParseDevConfig([]byte(c.GraphEnvironmentDevConfig)); err != nil {
			errs = append(errs, fmt.Errorf("GRAPH_ENVIRONMENT_DEV_CONFIG: %w", err))
		}
	case "":
		errs = append(errs, errors.New("GRAPH_ENVIRONMENT_TYPE is required"))
	default:
		errs = append(errs, fmt.Errorf("GRAPH_ENVIRONMENT_TYPE must be Mainnet, Rococo or Dev, got %q", c.GraphEnvironmentType))
	}

	return errors.Join(errs...)
}

// GraphConfig returns the graph engine configuration of the environment
func (c Config) GraphConfig() (graph.Config, error) {
	return graph.LoadConfig(c.GraphEnvironmentType, c.GraphEnvironmentDevConfig)
}
