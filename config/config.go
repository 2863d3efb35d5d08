/*
Copyright 2024 The nightly.link authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvAppID overrides the configured GitHub App ID.
	EnvAppID = "NIGHTLY_LINK_APP_ID"
	// EnvPrivateKeyPath overrides the configured private key location.
	EnvPrivateKeyPath = "NIGHTLY_LINK_PRIVATE_KEY_PATH"
	// EnvAPIBaseURL overrides the configured API base URL.
	EnvAPIBaseURL = "NIGHTLY_LINK_API_BASE_URL"
)

// Config is the process configuration.
type Config struct {
	// AppID is the numeric identity of the GitHub App.
	AppID int64 `yaml:"app_id"`
	// PrivateKeyPath locates the PEM-encoded RSA key of the GitHub App.
	PrivateKeyPath string `yaml:"private_key_path"`
	// APIBaseURL overrides the GitHub API endpoint, e.g. for GitHub
	// Enterprise. Empty means api.github.com.
	APIBaseURL string `yaml:"api_base_url"`
	// TokenPermissions is the scope requested on token exchange.
	TokenPermissions map[string]string `yaml:"token_permissions"`
	// ListingTTL is the cache TTL for slow-moving listings.
	ListingTTL time.Duration `yaml:"listing_ttl"`
	// RunListingTTL is the cache TTL for run and artifact listings.
	RunListingTTL time.Duration `yaml:"run_listing_ttl"`
	// Retries is the maximum number of transport-level retries.
	Retries int `yaml:"retries"`
}

func defaultConfig() *Config {
	return &Config{
		ListingTTL:    5 * time.Minute,
		RunListingTTL: 30 * time.Second,
		Retries:       3,
	}
}

// Load reads the configuration from the given YAML file, applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvAppID); v != "" {
		appID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAppID, err)
		}
		cfg.AppID = appID
	}
	if v := os.Getenv(EnvPrivateKeyPath); v != "" {
		cfg.PrivateKeyPath = v
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.APIBaseURL = v
	}
	return nil
}

// Validate checks that the configuration can authenticate a GitHub App.
func (c *Config) Validate() error {
	if c.AppID == 0 {
		return fmt.Errorf("app_id must be set")
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("private_key_path must be set")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// PrivateKey reads the configured private key material.
func (c *Config) PrivateKey() ([]byte, error) {
	key, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", c.PrivateKeyPath, err)
	}
	return key, nil
}
