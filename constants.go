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

import "time"

// Portal API
const (
	// PortalEndpoint - Base URL of the Stromnetz Graz web portal API
	PortalEndpoint = "https://webportal.stromnetz-graz.at/api/"

	// PathLogin - Login endpoint, exchanges credentials for a bearer token
	PathLogin = "login"

	// PathInstallations - Returns all installations (and their meter points) for the account
	PathInstallations = "getInstallations"

	// PathMeterMetaData - Returns per-meter metadata such as readingsAvailableSince
	PathMeterMetaData = "getMeterReadingMetaData"

	// PathMeterReading - Returns consumption readings for a meter and time window
	PathMeterReading = "getMeterReading"
)

// Meter opt states as reported by the portal (optState.currentOptState)
const (
	// OptStateIn - IME meter, quarter-hourly readings available
	OptStateIn = "OptIn"

	// OptStateMiddle - IMS meter, daily readings only
	OptStateMiddle = "OptMiddle"

	// OptStateOut - No reading data available for this meter
	OptStateOut = "OptOut"
)

// Reading intervals accepted by getMeterReading
const (
	IntervalQuarterHourly = "QuarterHourly"
	IntervalDaily         = "Daily"
)

// Reading value types and states
const (
	// ReadingTypeConsumption - Consumption during the interval (kWh)
	ReadingTypeConsumption = "CONSUMP"

	// ReadingTypeMeterReading - Absolute register reading (kWh)
	ReadingTypeMeterReading = "MR"

	// ReadingStateValid - Only values in this state are trusted; others are estimates
	ReadingStateValid = "Valid"

	// UnitKWH - Unit requested for all consumption queries
	UnitKWH = "KWH"
)

// Cache durations - tuned to how often the portal actually publishes new data
const (
	// CacheDurationInstallations - Installation and meter lists rarely change
	CacheDurationInstallations = 24 * time.Hour

	// CacheDurationMeterMetaData - readingsAvailableSince is effectively static
	CacheDurationMeterMetaData = 7 * 24 * time.Hour

	// CacheDurationReadings - The portal publishes readings once or twice a day
	CacheDurationReadings = 1 * time.Hour
)

// Session token settings
const (
	// TokenRefreshBuffer - Re-authenticate this long before the token expires
	TokenRefreshBuffer = 5 * time.Minute
)

// HTTP client settings
const (
	// HTTPClientTimeout - Maximum time for HTTP requests
	HTTPClientTimeout = 30 * time.Second

	// HTTPMinInterval - Minimum time between API requests (rate limiting)
	HTTPMinInterval = 1 * time.Second

	// HTTPMaxRetries - Maximum number of retries for failed requests
	HTTPMaxRetries = 3
)

// Reading window settings
const (
	// DefaultReadingDays - Default consumption window fetched per meter
	DefaultReadingDays = 30

	// FirstReadingProbeWindow - Step used when walking forward from
	// readingsAvailableSince looking for the first register value
	FirstReadingProbeWindow = 7 * 24 * time.Hour

	// FirstReadingMaxProbes - Upper bound on probe windows before giving up
	FirstReadingMaxProbes = 52
)

// Web dashboard settings
const (
	// WebMaxReadingDays - Maximum number of days of readings the API serves
	WebMaxReadingDays = 90

	// WebDefaultReadingDays - Default number of days shown in the usage graph
	WebDefaultReadingDays = 7
)

// Monitor settings
const (
	// MonitorDefaultCheckInterval - Default interval between portal checks
	MonitorDefaultCheckInterval = 1 * time.Hour
)

// State management settings
const (
	// StateCleanupAge - Drop cached per-meter data not refreshed for this long
	StateCleanupAge = 30 * 24 * time.Hour
)
