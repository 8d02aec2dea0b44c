package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models realmexchange.yml.
type Config struct {
	Marketplace struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"marketplace"`
	Items struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"items"`
	Limits struct {
		MaxAccountsPerListing int `yaml:"max_accounts_per_listing"`
		MaxPriceLines         int `yaml:"max_price_lines"`
	} `yaml:"limits"`
	Trading struct {
		RequireVerified bool `yaml:"require_verified"`
		AllowSeasonal   bool `yaml:"allow_seasonal"`
	} `yaml:"trading"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with rex config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if c.Marketplace.Kind != "account-exchange" {
		return fmt.Errorf("config.marketplace.kind must be 'account-exchange'")
	}
	for item := range c.Items.Catalog {
		if item == "" {
			return fmt.Errorf("config.items.catalog contains empty item type")
		}
	}
	if c.Limits.MaxAccountsPerListing < 0 {
		return fmt.Errorf("config.limits.max_accounts_per_listing must not be negative")
	}
	if c.Limits.MaxPriceLines < 0 {
		return fmt.Errorf("config.limits.max_price_lines must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// KnownItem reports whether an item type is in the catalog. An empty catalog
// accepts everything.
func (c *Config) KnownItem(item string) bool {
	if len(c.Items.Catalog) == 0 {
		return true
	}
	_, ok := c.Items.Catalog[item]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "realmexchange.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketplaceID string) string {
	return fmt.Sprintf(defaultTemplate, marketplaceID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a marketplace.
func Default(marketplaceID string) *Config {
	var cfg Config
	cfg.Marketplace.ID = marketplaceID
	cfg.Marketplace.Kind = "account-exchange"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, marketplaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `marketplace:
  id: %s
  kind: account-exchange

items:
  catalog:
    "Potion of Attack":
      description: "Stat potion, attack"
    "Potion of Defense":
      description: "Stat potion, defense"
    "Potion of Speed":
      description: "Stat potion, speed"
    "Potion of Life":
      description: "Stat potion, life"
    "Sword":
      description: "Generic weapon drop"
    "Shield":
      description: "Generic ability drop"
    "Gem":
      description: "High value trade good"

limits:
  max_accounts_per_listing: 8
  max_price_lines: 12

trading:
  require_verified: true
  allow_seasonal: false
`
