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
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type CachedInstallations struct {
	Data      []Installation `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type CachedMeterMetaData struct {
	Data      *MeterMetaData `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type CachedMeterReadings struct {
	Data      *MeterData `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
	Days      int        `json:"days"` // Track how many days of data this represents
}

type AppState struct {
	KnownMeters         map[string]bool                 `json:"known_meters"`
	CachedInstallations *CachedInstallations            `json:"cached_installations,omitempty"`
	CachedMeterMetaData map[string]*CachedMeterMetaData `json:"cached_meter_metadata,omitempty"`
	CachedReadings      map[string]*CachedMeterReadings `json:"cached_readings,omitempty"`
	SessionToken        string                          `json:"session_token,omitempty"`
	SessionTokenExpiry  time.Time                       `json:"session_token_expiry,omitempty"`
	LastUpdated         time.Time                       `json:"last_updated"`
}

// stateFileKey derives a filesystem-safe per-account key. Email addresses
// contain characters that do not belong in filenames, so a short hash is
// used instead.
func stateFileKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return fmt.Sprintf("%x", sum[:8])
}

func getStateFilePath(email string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "sngraz")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	// Separate cache per account
	return filepath.Join(configDir, fmt.Sprintf("state_%s.json", stateFileKey(email))), nil
}

func LoadState(email string) (*AppState, error) {
	statePath, err := getStateFilePath(email)
	if err != nil {
		return nil, err
	}

	// If file doesn't exist, return empty state
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return &AppState{
			KnownMeters:         make(map[string]bool),
			CachedMeterMetaData: make(map[string]*CachedMeterMetaData),
			CachedReadings:      make(map[string]*CachedMeterReadings),
			LastUpdated:         time.Now(),
		}, nil
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	// Initialize maps if they're nil (for backward compatibility)
	if state.KnownMeters == nil {
		state.KnownMeters = make(map[string]bool)
	}
	if state.CachedMeterMetaData == nil {
		state.CachedMeterMetaData = make(map[string]*CachedMeterMetaData)
	}
	if state.CachedReadings == nil {
		state.CachedReadings = make(map[string]*CachedMeterReadings)
	}

	return &state, nil
}

func (s *AppState) Save(email string) error {
	statePath, err := getStateFilePath(email)
	if err != nil {
		return err
	}

	s.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// State holds the session token, keep it private
	if err := os.WriteFile(statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

func (s *AppState) IsCacheValid(cacheTime time.Time, maxAge time.Duration) bool {
	return time.Since(cacheTime) < maxAge
}

// CleanupStaleCaches drops cached per-meter data that has not been
// refreshed in a long time, e.g. after a meter swap
func (s *AppState) CleanupStaleCaches() {
	for key, cached := range s.CachedReadings {
		if time.Since(cached.Timestamp) > StateCleanupAge {
			delete(s.CachedReadings, key)
		}
	}
	for key, cached := range s.CachedMeterMetaData {
		if time.Since(cached.Timestamp) > StateCleanupAge {
			delete(s.CachedMeterMetaData, key)
		}
	}
}
