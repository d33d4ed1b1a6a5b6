package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "MARKETSYNC"

// envOverrides are applied after the YAML file is parsed.
type envOverrides struct {
	WSURL    string `envconfig:"WS_URL"`
	RestURL  string `envconfig:"REST_URL"`
	APIKey   string `envconfig:"API_KEY"`
	LogLevel string `envconfig:"LOG_LEVEL"`
	HTTPPort int    `envconfig:"HTTP_PORT"`
}

// Load reads the YAML file at path. ${VAR} references are expanded from the
// environment, including variables from a .env file in the working directory.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithDefaults loads the file and fills optional fields.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads, applies defaults and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if env.WSURL != "" {
		c.Stream.URL = env.WSURL
	}
	if env.RestURL != "" {
		c.API.RestURL = env.RestURL
	}
	if env.APIKey != "" {
		c.API.APIKey = env.APIKey
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.HTTPPort != 0 {
		c.Server.Port = env.HTTPPort
	}
	return nil
}
