package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/charaverse/chara-web-ui/internal/handlers"
	"github.com/charaverse/chara-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type deploymentConfig interface {
	backend(logger *slog.Logger) (handlers.Backend, error)
}

// BaseDeploymentConfig contains the common fields for all deployment configurations.
type BaseDeploymentConfig struct {
	Mode    string `yaml:"mode"`
	BaseURL string `yaml:"baseURL"`
}

type config struct {
	Port       string           `yaml:"port"`
	Deployment deploymentConfig `yaml:"deployment"`
}

type authenticatedDeploymentConfig struct {
	BaseDeploymentConfig `yaml:",inline"`
	APIToken             string `yaml:"apiToken"`
}

type guestDeploymentConfig struct {
	BaseDeploymentConfig `yaml:",inline"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port       string         `yaml:"port"`
		Deployment map[string]any `yaml:"deployment"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port

	mode, ok := rawConfig.Deployment["mode"].(string)
	if !ok {
		return fmt.Errorf("deployment mode is required")
	}

	deploymentRawYAML, err := yaml.Marshal(rawConfig.Deployment)
	if err != nil {
		return err
	}

	var deployment deploymentConfig
	switch mode {
	case "authenticated":
		deployment = &authenticatedDeploymentConfig{}
	case "guest":
		deployment = &guestDeploymentConfig{}
	default:
		return fmt.Errorf("unknown deployment mode: %s", mode)
	}

	if err := yaml.Unmarshal(deploymentRawYAML, deployment); err != nil {
		return err
	}

	c.Deployment = deployment

	return nil
}

func (a authenticatedDeploymentConfig) backend(logger *slog.Logger) (handlers.Backend, error) {
	if a.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	apiToken := a.APIToken
	if apiToken == "" {
		apiToken = os.Getenv("CHARAHUB_API_TOKEN")
	}
	if apiToken == "" {
		return nil, fmt.Errorf("apiToken is required")
	}

	return services.NewChatHub(a.BaseURL, apiToken, logger), nil
}

func (g guestDeploymentConfig) backend(logger *slog.Logger) (handlers.Backend, error) {
	if g.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	return services.NewGuest(g.BaseURL, logger), nil
}
