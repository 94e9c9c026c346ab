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
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func main() {
	var email, password, timezone, configPath string
	var daemon, webUI, debug, showVersion, testMeter bool
	var readingDays, webPort int

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.StringVar(&email, "email", os.Getenv("STROMNETZ_EMAIL"), "Stromnetz Graz web portal email")
	flag.StringVar(&password, "password", os.Getenv("STROMNETZ_PASSWORD"), "Stromnetz Graz web portal password")
	flag.StringVar(&timezone, "timezone", "", "IANA timezone of the metering point (default: Europe/Vienna)")
	flag.BoolVar(&daemon, "daemon", false, "Run in daemon mode (continuous monitoring)")
	flag.BoolVar(&webUI, "web", false, "Enable web UI dashboard (daemon mode only)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.IntVar(&readingDays, "days", 0, "Number of days of readings to fetch (default: 30)")
	flag.IntVar(&webPort, "port", 8080, "Web UI port (default: 8080)")
	flag.BoolVar(&testMeter, "test-meter", false, "Test meter data retrieval and exit")
	flag.Parse()

	// Handle version flag
	if showVersion {
		fmt.Printf("sngraz %s\n", GetVersion())
		fmt.Printf("User-Agent: %s\n", GetUserAgent())
		os.Exit(0)
	}

	// Load configuration file if provided
	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Error loading config file: %v", err)
	}
	config.ApplyDefaults()

	// Command line arguments and environment variables override config file
	if email == "" && config.Email != "" {
		email = config.Email
	}
	if password == "" && config.Password != "" {
		password = config.Password
	}
	if timezone == "" && config.Timezone != "" {
		timezone = config.Timezone
	}
	if !daemon && config.Daemon {
		daemon = config.Daemon
	}
	if !webUI && config.WebUI {
		webUI = config.WebUI
	}
	if !debug && config.Debug {
		debug = config.Debug
	}
	if readingDays == 0 && config.ReadingDays != 0 {
		readingDays = config.ReadingDays
	}
	if webPort == 8080 && config.WebPort != 8080 && config.WebPort > 0 {
		webPort = config.WebPort
	}
	if readingDays == 0 {
		readingDays = DefaultReadingDays
	}

	if email == "" || password == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -email=<email> -password=<password>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Or set environment variables: STROMNETZ_EMAIL and STROMNETZ_PASSWORD\n")
		fmt.Fprintf(os.Stderr, "Or use a configuration file with -config=<path>\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		log.Fatalf("Invalid timezone %q: %v", timezone, err)
	}

	log.Printf("Starting Stromnetz Graz Consumption Monitor")
	log.Printf("Email: %s", maskEmail(email))
	log.Printf("Timezone: %s", location)

	// Initialize API client
	client := NewStromNetzClient(email, password, location, debug)

	// Handle meter testing flag
	if testMeter {
		log.Println("Testing meter data retrieval...")

		// Initialize state for caching
		monitor := NewConsumptionMonitor(client, email)

		installations, err := client.GetInstallationsWithCache(monitor.state)
		if err != nil {
			log.Fatalf("Failed to get installations: %v", err)
		}

		log.Printf("✅ Found %d installations:", len(installations))
		for i, installation := range installations {
			log.Printf("   %d. %s (customer %d, %d meters)",
				i+1, installation.Address, installation.CustomerNumber, len(installation.MeterPoints))
			for _, meter := range installation.MeterPoints {
				log.Printf("      - %s [%d]: %s",
					meterDisplayName(meter), meter.MeterPointID,
					describeOptState(meter.OptState.CurrentOptState))
			}
		}

		for _, installation := range installations {
			for _, meter := range installation.MeterPoints {
				if meter.OptState.CurrentOptState == OptStateOut {
					continue
				}

				data, err := client.GetMeterReadings(meter, 7)
				if err != nil {
					log.Fatalf("Failed to get readings for meter %d: %v", meter.MeterPointID, err)
				}

				log.Printf("✅ Retrieved %d %s readings for meter %d (last 7 days)",
					len(data.Readings), data.Interval, meter.MeterPointID)
				if len(data.Readings) > 0 {
					log.Printf("Sample readings:")
					for i, reading := range data.Readings[:min(5, len(data.Readings))] {
						value := 0.0
						if reading.Consumption != nil {
							value = *reading.Consumption
						}
						log.Printf("   %d. %s: %.3f kWh",
							i+1, reading.ReadTime.Format("2006-01-02 15:04"), value)
					}
				}
			}
		}

		log.Println("Meter testing completed successfully!")
		return
	}

	// Initialize monitor
	monitor := NewConsumptionMonitor(client, email)
	monitor.SetReadingDays(readingDays)

	// Set custom check interval if specified in config
	if config.CheckInterval > 0 && config.CheckInterval != 60 {
		monitor.SetCheckInterval(time.Duration(config.CheckInterval) * time.Minute)
		log.Printf("Using custom check interval: %d minutes", config.CheckInterval)
	}

	// Enable web UI if requested and in daemon mode
	if webUI && daemon {
		monitor.EnableWebUI(webPort)
		log.Printf("Web UI enabled at http://localhost:%d", webPort)
	} else if webUI && !daemon {
		log.Printf("Warning: Web UI can only be enabled in daemon mode")
	}

	log.Printf("Fetching %d days of readings per meter", readingDays)

	if daemon {
		log.Printf("Running in daemon mode - continuous monitoring")
		monitor.Start()
	} else {
		log.Printf("Running in one-shot mode")
		monitor.CheckOnce()
	}
}
