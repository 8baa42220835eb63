package esia

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults used when the corresponding Config field is empty. They point at
// the public test portal; production deployments override PortalURL.
const (
	DefaultScope        = "fullname birthdate gender snils inn email"
	DefaultRedirectPath = "/auth/esia/callback"
	DefaultPortalURL    = "https://esia-portal1.test.gosuslugi.ru/"
	DefaultTokenPath    = "aas/oauth2/te"
	DefaultAuthCodePath = "aas/oauth2/ac"
)

// Config holds the connection parameters of one registered ESIA client.
// Mnemonic is the system identifier assigned by the portal during
// registration. CertPath and KeyPath point at the PEM encoded certificate
// and private key used to sign request secrets; TrustedKeyPath points at
// the portal public key used to verify issued access tokens.
type Config struct {
	Mnemonic       string `yaml:"mnemonic" validate:"required"`
	CertPath       string `yaml:"cert_path" validate:"required"`
	KeyPath        string `yaml:"key_path" validate:"required"`
	KeyPassword    string `yaml:"key_password"`
	TrustedKeyPath string `yaml:"trusted_key_path" validate:"required"`
	Scope          string `yaml:"scope"`
	RedirectPath   string `yaml:"redirect_path"`
	PortalURL      string `yaml:"portal_url"`
	TokenPath      string `yaml:"token_path"`
	AuthCodePath   string `yaml:"auth_code_path"`
}

func (c *Config) applyDefaults() {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.RedirectPath == "" {
		c.RedirectPath = DefaultRedirectPath
	}
	if c.PortalURL == "" {
		c.PortalURL = DefaultPortalURL
	}
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.AuthCodePath == "" {
		c.AuthCodePath = DefaultAuthCodePath
	}
}

func (c *Config) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("incomplete ESIA connection settings: %w", err)
	}
	return nil
}

// LoadConfigFile reads and validates a YAML strategy configuration.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
