// Copyright 2026 The sngraz Authors
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

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Email         string `yaml:"email"`
	Password      string `yaml:"password"`
	Timezone      string `yaml:"timezone"`
	ReadingDays   int    `yaml:"reading_days"`
	Daemon        bool   `yaml:"daemon"`
	CheckInterval int    `yaml:"check_interval_minutes"`
	WebUI         bool   `yaml:"web_ui"`
	WebPort       int    `yaml:"web_port"`
	Debug         bool   `yaml:"debug"`
}

func LoadConfig(configPath string) (*Config, error) {
	config := &Config{
		Timezone:      "Europe/Vienna",
		ReadingDays:   DefaultReadingDays,
		Daemon:        false,
		CheckInterval: 60,
		WebUI:         false,
		WebPort:       8080,
		Debug:         false,
	}

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func (c *Config) ApplyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Europe/Vienna"
	}
	if c.ReadingDays <= 0 {
		c.ReadingDays = DefaultReadingDays
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60
	}
	if c.WebPort <= 0 {
		c.WebPort = 8080
	}
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errors []string

	// Validate credentials
	if c.Email == "" {
		errors = append(errors, "email is required")
	} else if !strings.Contains(c.Email, "@") {
		errors = append(errors, fmt.Sprintf("email does not look like an address: %s", c.Email))
	}

	if c.Password == "" {
		errors = append(errors, "password is required")
	}

	// Validate timezone
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("unknown timezone: %s", c.Timezone))
	}

	// Validate reading window
	if c.ReadingDays < 1 {
		errors = append(errors, fmt.Sprintf("reading days must be at least 1, got: %d", c.ReadingDays))
	}
	if c.ReadingDays > 365 {
		errors = append(errors, fmt.Sprintf("reading days seems too long (%d), the portal serves at most a year comfortably", c.ReadingDays))
	}

	// Validate web port
	if c.WebPort < 1 || c.WebPort > 65535 {
		errors = append(errors, fmt.Sprintf("web port must be between 1-65535, got: %d", c.WebPort))
	}
	if c.WebPort < 1024 && c.WebPort != 0 {
		errors = append(errors, fmt.Sprintf("warning: port %d requires root privileges (consider using 8080 or higher)", c.WebPort))
	}

	// Validate check interval
	if c.CheckInterval < 1 {
		errors = append(errors, fmt.Sprintf("check interval must be at least 1 minute, got: %d", c.CheckInterval))
	}
	if c.CheckInterval > 1440 {
		errors = append(errors, fmt.Sprintf("check interval seems too long (%d minutes = %.1f hours), the portal publishes daily", c.CheckInterval, float64(c.CheckInterval)/60.0))
	}

	// Logical validations
	if c.WebUI && !c.Daemon {
		errors = append(errors, "web UI requires daemon mode (use both -daemon and -web flags)")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
