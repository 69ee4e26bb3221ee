package datahub

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"supplier-core/internal/cim"
)

// Config describes our market identity and the remote endpoints.
type Config struct {
	SupplierGLN string           `yaml:"supplier_gln"`
	DataHubGLN  string           `yaml:"datahub_gln"`
	DataHub     EndpointConfig   `yaml:"datahub"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Settlement  SettlementConfig `yaml:"settlement"`
}

// EndpointConfig configures the protocol client.
type EndpointConfig struct {
	BaseURL      string            `yaml:"base_url"`
	TokenURL     string            `yaml:"token_url"`
	ClientID     string            `yaml:"client_id"`
	ClientSecret string            `yaml:"client_secret"`
	Scope        string            `yaml:"scope"`
	Timeout      time.Duration     `yaml:"timeout"`
	PeekPath     string            `yaml:"peek_path"`
	DequeuePath  string            `yaml:"dequeue_path"`
	SendPaths    map[string]string `yaml:"send_paths"`
}

// SchedulerConfig configures the background pass.
type SchedulerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	PullLimit       int           `yaml:"pull_limit"`
	InboxBatch      int           `yaml:"inbox_batch"`
	OutboxBatch     int           `yaml:"outbox_batch"`
	SettlementBatch int           `yaml:"settlement_batch"`
}

// SettlementConfig configures the settlement engine.
type SettlementConfig struct {
	CorrectionMode string `yaml:"correction_mode"`
}

const (
	defaultPeekPath    = "/v1.0/cim/peek"
	defaultDequeuePath = "/v1.0/cim/dequeue"
	defaultTimeout     = 15 * time.Second
)

var defaultSendPaths = map[cim.DocumentType]string{
	cim.DocumentRequestChangeOfSupplier: "/v1.0/cim/requestchangeofsupplier",
	cim.DocumentRequestEndOfSupply:      "/v1.0/cim/requestendofsupply",
	cim.DocumentRequestMeteredData:      "/v1.0/cim/requestvalidatedmeasuredata",
}

// LoadConfig reads a YAML market config. An empty path yields defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("datahub: read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("datahub: parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataHub.Timeout <= 0 {
		c.DataHub.Timeout = defaultTimeout
	}
	if c.DataHub.PeekPath == "" {
		c.DataHub.PeekPath = defaultPeekPath
	}
	if c.DataHub.DequeuePath == "" {
		c.DataHub.DequeuePath = defaultDequeuePath
	}
	if c.DataHub.SendPaths == nil {
		c.DataHub.SendPaths = make(map[string]string)
	}
	for dt, path := range defaultSendPaths {
		if _, ok := c.DataHub.SendPaths[string(dt)]; !ok {
			c.DataHub.SendPaths[string(dt)] = path
		}
	}
	if c.Settlement.CorrectionMode == "" {
		c.Settlement.CorrectionMode = "delta"
	}
}

// Validate checks identifiers and the correction mode.
func (c Config) Validate() error {
	if c.SupplierGLN != "" {
		if err := cim.ValidateGLN(c.SupplierGLN); err != nil {
			return err
		}
	}
	if c.DataHubGLN != "" {
		if err := cim.ValidateGLN(c.DataHubGLN); err != nil {
			return err
		}
	}
	if c.DataHub.BaseURL != "" && c.DataHub.TokenURL == "" {
		return errors.New("datahub: token_url required when base_url is set")
	}
	switch c.Settlement.CorrectionMode {
	case "delta", "full":
	default:
		return fmt.Errorf("datahub: unknown correction mode %q", c.Settlement.CorrectionMode)
	}
	return nil
}

// Simulated reports whether no remote endpoint is configured.
func (c EndpointConfig) Simulated() bool {
	return c.BaseURL == ""
}
