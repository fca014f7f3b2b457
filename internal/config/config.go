package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled  bool   `yaml:"enabled"`
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		AllowedOrigin  string        `yaml:"allowed_origin"`
	} `yaml:"server"`

	ClinicAPI struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"clinic_api"`

	Session struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	Elasticsearch struct {
		Enabled   bool     `yaml:"enabled"`
		Addresses []string `yaml:"addresses"`
	} `yaml:"elasticsearch"`
}

func Load() (*Config, error) {
	// Look for config in multiple locations
	configPaths := []string{
		"./configs/config.yaml",
		"../configs/config.yaml",
		"/etc/clinic-portal/config.yaml",
	}

	var config Config
	for _, path := range configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		configFile, err := os.ReadFile(absPath)
		if err != nil {
			continue
		}

		err = yaml.Unmarshal(configFile, &config)
		if err != nil {
			return nil, err
		}

		config.applyEnv()
		config.applyDefaults()
		return &config, nil
	}

	return nil, fmt.Errorf("no configuration file found")
}

// applyEnv lets deployment environment variables override the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORTAL_API_BASE_URL"); v != "" {
		c.ClinicAPI.BaseURL = v
	}
	if v := os.Getenv("PORTAL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PORTAL_ALLOWED_ORIGIN"); v != "" {
		c.Server.AllowedOrigin = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.ClinicAPI.Timeout <= 0 {
		c.ClinicAPI.Timeout = 15 * time.Second
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 8 * time.Hour
	}
}

func LoadConfig() (*Config, error) {
	return Load()
}
