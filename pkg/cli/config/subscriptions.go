package config

import (
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/urfave/cli/v3"
)

// Subscriptions holds the CLI flag for the subscription registry file
type Subscriptions struct {
	path string
}

func (x *Subscriptions) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "subscription-config",
			Usage:       "Path to TOML file mapping subscription IDs to users",
			Category:    "Subscription",
			Sources:     cli.EnvVars("IRIS_SUBSCRIPTION_CONFIG"),
			Destination: &x.path,
		},
	}
}

func (x Subscriptions) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", x.path),
	)
}

// SubscriptionConfig represents the subscription registry file
type SubscriptionConfig struct {
	Subscriptions []SubscriptionEntry `toml:"subscription"`
}

// SubscriptionEntry represents a single subscription binding
type SubscriptionEntry struct {
	ID     string `toml:"id"`
	UserID string `toml:"user_id"`
	Name   string `toml:"name"`
}

// Validate checks if the SubscriptionEntry is valid
func (s *SubscriptionEntry) Validate() error {
	if s.ID == "" {
		return goerr.New("subscription ID is required")
	}
	if s.UserID == "" {
		return goerr.New("subscription user_id is required", goerr.V("id", s.ID))
	}
	return nil
}

// Validate checks if the SubscriptionConfig is valid
func (c *SubscriptionConfig) Validate() error {
	seen := make(map[string]bool)
	for _, sub := range c.Subscriptions {
		if err := sub.Validate(); err != nil {
			return goerr.Wrap(err, "invalid subscription")
		}
		if seen[sub.ID] {
			return goerr.New("duplicate subscription ID", goerr.V("id", sub.ID))
		}
		seen[sub.ID] = true
	}
	return nil
}

// ToRegistry converts the config into a SubscriptionRegistry
func (c *SubscriptionConfig) ToRegistry() *model.SubscriptionRegistry {
	registry := model.NewSubscriptionRegistry()
	for _, sub := range c.Subscriptions {
		registry.Register(&model.Subscription{
			ID:     types.SubscriptionID(sub.ID),
			UserID: types.UserID(sub.UserID),
			Name:   sub.Name,
		})
	}
	return registry
}

// LoadSubscriptionConfig loads the subscription registry from a TOML file
func LoadSubscriptionConfig(path string) (*SubscriptionConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read subscription config", goerr.V("path", path))
	}

	var config SubscriptionConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, goerr.Wrap(err, "failed to parse TOML config", goerr.V("path", path))
	}

	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "subscription config validation failed", goerr.V("path", path))
	}

	return &config, nil
}

// Configure loads the subscription registry. An empty path yields an
// empty registry so the server can start before any subscription is
// provisioned.
func (x *Subscriptions) Configure() (*model.SubscriptionRegistry, error) {
	if x.path == "" {
		return model.NewSubscriptionRegistry(), nil
	}

	config, err := LoadSubscriptionConfig(x.path)
	if err != nil {
		return nil, err
	}

	return config.ToRegistry(), nil
}
