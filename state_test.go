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
	"os"
	"testing"
	"time"
)

func TestStateFileKey(t *testing.T) {
	key1 := stateFileKey("user@example.com")
	key2 := stateFileKey("user@example.com")
	key3 := stateFileKey("other@example.com")

	if key1 != key2 {
		t.Error("Expected stable key for the same email")
	}

	if key1 == key3 {
		t.Error("Expected different keys for different emails")
	}

	// 8 bytes of hash, hex encoded
	if len(key1) != 16 {
		t.Errorf("Expected 16 character key, got %d: %s", len(key1), key1)
	}
}

func TestLoadStateFresh(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	state, err := LoadState("user@example.com")
	if err != nil {
		t.Fatalf("Expected no error for missing state file, got %v", err)
	}

	if state.KnownMeters == nil {
		t.Error("Expected KnownMeters map to be initialized")
	}

	if state.CachedMeterMetaData == nil {
		t.Error("Expected CachedMeterMetaData map to be initialized")
	}

	if state.CachedReadings == nil {
		t.Error("Expected CachedReadings map to be initialized")
	}
}

func TestStateSaveAndLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	email := "user@example.com"

	consumption := 0.42
	state := &AppState{
		KnownMeters: map[string]bool{"1234": true},
		CachedReadings: map[string]*CachedMeterReadings{
			"1234": {
				Data: &MeterData{
					MeterPointID:    1234,
					Interval:        IntervalQuarterHourly,
					LastConsumption: &consumption,
				},
				Timestamp: time.Now(),
				Days:      7,
			},
		},
		SessionToken:       "test-token",
		SessionTokenExpiry: time.Now().Add(1 * time.Hour),
	}

	if err := state.Save(email); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	// The state file carries the session token and must not be world readable
	statePath, err := getStateFilePath(email)
	if err != nil {
		t.Fatalf("Failed to get state path: %v", err)
	}
	info, err := os.Stat(statePath)
	if err != nil {
		t.Fatalf("Failed to stat state file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected state file mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := LoadState(email)
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}

	if !loaded.KnownMeters["1234"] {
		t.Error("Expected meter 1234 to be known after reload")
	}

	if loaded.SessionToken != "test-token" {
		t.Errorf("Expected session token to survive reload, got %s", loaded.SessionToken)
	}

	cached, ok := loaded.CachedReadings["1234"]
	if !ok {
		t.Fatal("Expected cached readings for meter 1234 after reload")
	}
	if cached.Days != 7 {
		t.Errorf("Expected cached days 7, got %d", cached.Days)
	}
	if cached.Data.LastConsumption == nil || *cached.Data.LastConsumption != 0.42 {
		t.Errorf("Expected cached last consumption 0.42, got %v", cached.Data.LastConsumption)
	}

	if loaded.LastUpdated.IsZero() {
		t.Error("Expected LastUpdated to be set by Save")
	}
}

func TestStateSeparatePerAccount(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	state := &AppState{KnownMeters: map[string]bool{"1": true}}
	if err := state.Save("first@example.com"); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	other, err := LoadState("second@example.com")
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}

	if len(other.KnownMeters) != 0 {
		t.Error("Expected a different account to start with fresh state")
	}
}

func TestIsCacheValid(t *testing.T) {
	state := &AppState{}

	if !state.IsCacheValid(time.Now().Add(-30*time.Minute), 1*time.Hour) {
		t.Error("Expected 30 minute old cache to be valid for 1 hour max age")
	}

	if state.IsCacheValid(time.Now().Add(-2*time.Hour), 1*time.Hour) {
		t.Error("Expected 2 hour old cache to be invalid for 1 hour max age")
	}
}

func TestCleanupStaleCaches(t *testing.T) {
	state := &AppState{
		CachedReadings: map[string]*CachedMeterReadings{
			"fresh": {Timestamp: time.Now()},
			"stale": {Timestamp: time.Now().Add(-StateCleanupAge - time.Hour)},
		},
		CachedMeterMetaData: map[string]*CachedMeterMetaData{
			"fresh": {Timestamp: time.Now()},
			"stale": {Timestamp: time.Now().Add(-StateCleanupAge - time.Hour)},
		},
	}

	state.CleanupStaleCaches()

	if _, ok := state.CachedReadings["fresh"]; !ok {
		t.Error("Expected fresh readings cache to survive cleanup")
	}
	if _, ok := state.CachedReadings["stale"]; ok {
		t.Error("Expected stale readings cache to be removed")
	}
	if _, ok := state.CachedMeterMetaData["fresh"]; !ok {
		t.Error("Expected fresh metadata cache to survive cleanup")
	}
	if _, ok := state.CachedMeterMetaData["stale"]; ok {
		t.Error("Expected stale metadata cache to be removed")
	}
}
