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
	"log"
	"strconv"
	"time"
)

// ConsumptionMonitor periodically pulls installations, meters and readings
// from the portal and keeps the on-disk state fresh
type ConsumptionMonitor struct {
	client        *StromNetzClient
	state         *AppState
	email         string
	readingDays   int
	checkInterval time.Duration
	stopCh        chan struct{}
	webServer     *WebServer
}

func NewConsumptionMonitor(client *StromNetzClient, email string) *ConsumptionMonitor {
	state, err := LoadState(email)
	if err != nil {
		log.Printf("Failed to load state, starting fresh: %v", err)
		state = &AppState{
			KnownMeters:         make(map[string]bool),
			CachedMeterMetaData: make(map[string]*CachedMeterMetaData),
			CachedReadings:      make(map[string]*CachedMeterReadings),
		}
	}

	// Clean up caches for meters we have not seen in a long time
	state.CleanupStaleCaches()

	// Set state on client for session token caching
	client.SetState(state)

	return &ConsumptionMonitor{
		client:        client,
		state:         state,
		email:         email,
		readingDays:   DefaultReadingDays,
		checkInterval: MonitorDefaultCheckInterval,
		stopCh:        make(chan struct{}),
	}
}

func (m *ConsumptionMonitor) SetReadingDays(days int) {
	if days > 0 {
		m.readingDays = days
	}
}

func (m *ConsumptionMonitor) SetCheckInterval(interval time.Duration) {
	m.checkInterval = interval
}

func (m *ConsumptionMonitor) EnableWebUI(port int) {
	m.webServer = NewWebServer(m, port)
}

func (m *ConsumptionMonitor) Start() {
	log.Println("Starting consumption monitoring...")

	// Start web server if enabled
	if m.webServer != nil {
		go func() {
			if err := m.webServer.Start(); err != nil {
				log.Printf("Web server error: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.checkMeters()

	for {
		select {
		case <-ticker.C:
			m.checkMeters()
		case <-m.stopCh:
			log.Println("Stopping consumption monitoring...")
			m.client.Close()
			return
		}
	}
}

func (m *ConsumptionMonitor) Stop() {
	close(m.stopCh)
}

func (m *ConsumptionMonitor) CheckOnce() {
	m.displayAccountOverview()
	m.checkMeters()
}

func (m *ConsumptionMonitor) checkMeters() {
	log.Println("Checking meters for new consumption data...")

	installations, err := m.client.GetInstallationsWithCache(m.state)
	if err != nil {
		log.Printf("Error fetching installations: %v", err)
		return
	}

	for _, installation := range installations {
		for _, meter := range installation.MeterPoints {
			m.checkMeter(installation, meter)
		}
	}

	// Save state after checks
	if err := m.state.Save(m.email); err != nil {
		log.Printf("Warning: Failed to save state: %v", err)
	}
}

func (m *ConsumptionMonitor) checkMeter(installation Installation, meter Meter) {
	key := strconv.Itoa(meter.MeterPointID)
	if !m.state.KnownMeters[key] {
		log.Printf("⚡ NEW METER FOUND")
		log.Printf("   Installation: %d (%s)", installation.InstallationID, installation.Address)
		log.Printf("   Meter: %d (%s)", meter.MeterPointID, meterDisplayName(meter))
		log.Printf("   Mode: %s", describeOptState(meter.OptState.CurrentOptState))
		m.state.KnownMeters[key] = true
	}

	data, err := m.client.GetMeterReadingsWithCache(m.state, meter, m.readingDays)
	if err != nil {
		log.Printf("Error fetching readings for meter %d: %v", meter.MeterPointID, err)
		return
	}

	if data.LastConsumption != nil {
		log.Printf("Meter %d (%s): %.3f kWh at %s [%s]",
			meter.MeterPointID, meterDisplayName(meter),
			*data.LastConsumption,
			data.LastConsumptionAt.Format("2006-01-02 15:04"),
			data.Interval)
	} else {
		log.Printf("Meter %d (%s): no consumption data in the last %d days",
			meter.MeterPointID, meterDisplayName(meter), m.readingDays)
	}
}

func (m *ConsumptionMonitor) displayAccountOverview() {
	installations, err := m.client.GetInstallationsWithCache(m.state)
	if err != nil {
		log.Printf("Warning: Could not fetch installations: %v", err)
		return
	}

	log.Printf("Account Overview:")
	for _, installation := range installations {
		log.Printf("Installation %d: %s (customer %d)",
			installation.InstallationID, installation.Address, installation.CustomerNumber)
		for _, meter := range installation.MeterPoints {
			marker := "✅"
			if meter.OptState.CurrentOptState == OptStateOut {
				marker = "❌"
			}
			log.Printf("   %s Meter %d (%s): %s",
				marker, meter.MeterPointID, meterDisplayName(meter),
				describeOptState(meter.OptState.CurrentOptState))
		}
	}
	log.Printf("")
}

func meterDisplayName(meter Meter) string {
	if meter.ShortName != "" {
		return meter.ShortName
	}
	if meter.Name != "" {
		return meter.Name
	}
	return fmt.Sprintf("meter-%d", meter.MeterPointID)
}

func describeOptState(optState string) string {
	switch optState {
	case OptStateIn:
		return "quarter-hourly readings (IME)"
	case OptStateMiddle:
		return "daily readings (IMS)"
	case OptStateOut:
		return "no reading data (opted out)"
	default:
		return fmt.Sprintf("unknown mode %q", optState)
	}
}
