// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tombee/snoocore"
)

// Config holds the credentials and endpoints the commands operate with.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	UserAgent    string `yaml:"user_agent"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	OAuthURL     string `yaml:"oauth_url"`
	BaseURL      string `yaml:"base_url"`

	// TokenStore selects where refresh tokens are persisted: "keyring",
	// "file", or "none" (default keyring).
	TokenStore string `yaml:"token_store"`
	// TokenFile is the refresh token path when TokenStore is "file".
	TokenFile string `yaml:"token_file"`
}

// loadConfig reads the config file, then applies environment and flag
// overrides. A missing default config file is not an error; an explicitly
// requested one that does not exist is.
func loadConfig() (*Config, error) {
	cfg := &Config{}

	path := flagConfigPath
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".config", "snoocore", "config.yaml")
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !explicit:
			// No config file is fine; env and flags may cover everything.
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	if flagUserAgent != "" {
		cfg.UserAgent = flagUserAgent
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "snoocore CLI (by the snoocore authors)"
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id is required (config file, SNOOCORE_CLIENT_ID, or flags)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"SNOOCORE_CLIENT_ID":     &cfg.ClientID,
		"SNOOCORE_CLIENT_SECRET": &cfg.ClientSecret,
		"SNOOCORE_REDIRECT_URI":  &cfg.RedirectURI,
		"SNOOCORE_USER_AGENT":    &cfg.UserAgent,
		"SNOOCORE_USERNAME":      &cfg.Username,
		"SNOOCORE_PASSWORD":      &cfg.Password,
		"SNOOCORE_OAUTH_URL":     &cfg.OAuthURL,
		"SNOOCORE_BASE_URL":      &cfg.BaseURL,
	}
	for key, target := range overrides {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}
}

// tokenStore resolves the configured refresh token store, or nil for "none".
func tokenStore(cfg *Config) (snoocore.TokenStore, error) {
	switch cfg.TokenStore {
	case "", "keyring":
		return &snoocore.KeyringStore{User: cfg.ClientID}, nil
	case "file":
		path := cfg.TokenFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolving token file path: %w", err)
			}
			path = filepath.Join(home, ".config", "snoocore", "refresh-token")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating token directory: %w", err)
		}
		return &snoocore.FileStore{Path: path}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown token_store %q (want keyring, file, or none)", cfg.TokenStore)
	}
}
