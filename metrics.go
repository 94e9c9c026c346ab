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
	"net/http"
	"strings"
	"time"
)

// MetricsCollector collects and exposes metrics in Prometheus format
type MetricsCollector struct {
	client  *StromNetzClient
	monitor *ConsumptionMonitor
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(client *StromNetzClient, monitor *ConsumptionMonitor) *MetricsCollector {
	return &MetricsCollector{
		client:  client,
		monitor: monitor,
	}
}

// ServeHTTP handles the /metrics endpoint
func (m *MetricsCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	metrics := m.collectMetrics()
	fmt.Fprint(w, metrics)
}

// collectMetrics gathers all application metrics
func (m *MetricsCollector) collectMetrics() string {
	var metrics strings.Builder

	m.writeMetricHeader(&metrics, "sngraz_info", "gauge", "Build information")
	m.writeMetric(&metrics, "sngraz_info", map[string]string{
		"version":    GetVersion(),
		"user_agent": GetUserAgent(),
	}, 1)

	m.writeMetricHeader(&metrics, "sngraz_up", "gauge", "Whether the application is up and running")
	m.writeMetric(&metrics, "sngraz_up", nil, 1)

	m.writeMetricHeader(&metrics, "sngraz_last_check_timestamp", "gauge", "Unix timestamp of last successful check")
	m.writeMetric(&metrics, "sngraz_last_check_timestamp", nil, float64(time.Now().Unix()))

	// Portal request metrics
	m.writeMetricHeader(&metrics, "sngraz_api_requests_total", "counter", "Total portal API requests issued")
	m.writeMetric(&metrics, "sngraz_api_requests_total", nil, float64(m.client.metrics.TotalRequests))

	m.writeMetricHeader(&metrics, "sngraz_api_rate_limit_sleeps_total", "counter", "Number of times rate limiting delayed a request")
	m.writeMetric(&metrics, "sngraz_api_rate_limit_sleeps_total", nil, float64(m.client.metrics.RateLimitSleeps))

	// Installation and meter metrics (served from cache, scrapes must not
	// hit the portal)
	if m.monitor.state != nil && m.monitor.state.CachedInstallations != nil {
		installations := m.monitor.state.CachedInstallations.Data

		m.writeMetricHeader(&metrics, "sngraz_installations_total", "gauge", "Number of installations on the account")
		m.writeMetric(&metrics, "sngraz_installations_total", nil, float64(len(installations)))

		meterCount := 0
		optStates := make(map[string]int)
		for _, installation := range installations {
			meterCount += len(installation.MeterPoints)
			for _, meter := range installation.MeterPoints {
				optStates[meter.OptState.CurrentOptState]++
			}
		}

		m.writeMetricHeader(&metrics, "sngraz_meters_total", "gauge", "Number of meters across all installations")
		m.writeMetric(&metrics, "sngraz_meters_total", nil, float64(meterCount))

		m.writeMetricHeader(&metrics, "sngraz_meters_by_opt_state", "gauge", "Meters by portal opt state")
		for optState, count := range optStates {
			m.writeMetric(&metrics, "sngraz_meters_by_opt_state", map[string]string{
				"opt_state": optState,
			}, float64(count))
		}
	}

	// Per-meter reading metrics
	if m.monitor.state != nil {
		wroteConsumption := false
		wroteRegister := false
		for meterID, cached := range m.monitor.state.CachedReadings {
			if cached.Data == nil {
				continue
			}
			if cached.Data.LastConsumption != nil {
				if !wroteConsumption {
					m.writeMetricHeader(&metrics, "sngraz_meter_last_consumption_kwh", "gauge", "Latest consumption value per meter")
					wroteConsumption = true
				}
				m.writeMetric(&metrics, "sngraz_meter_last_consumption_kwh", map[string]string{
					"meter_id": meterID,
				}, *cached.Data.LastConsumption)
			}
			if cached.Data.LastReading != nil {
				if !wroteRegister {
					m.writeMetricHeader(&metrics, "sngraz_meter_last_register_kwh", "gauge", "Latest register reading per meter")
					wroteRegister = true
				}
				m.writeMetric(&metrics, "sngraz_meter_last_register_kwh", map[string]string{
					"meter_id": meterID,
				}, *cached.Data.LastReading)
			}
		}

		m.writeMetricHeader(&metrics, "sngraz_known_meters_total", "gauge", "Total number of meters seen so far")
		m.writeMetric(&metrics, "sngraz_known_meters_total", nil, float64(len(m.monitor.state.KnownMeters)))

		m.writeMetricHeader(&metrics, "sngraz_last_updated_timestamp", "gauge", "Unix timestamp of last state update")
		m.writeMetric(&metrics, "sngraz_last_updated_timestamp", nil, float64(m.monitor.state.LastUpdated.Unix()))

		// Cache metrics
		if m.monitor.state.CachedInstallations != nil {
			m.writeMetricHeader(&metrics, "sngraz_cache_age_seconds", "gauge", "Age of cached data in seconds")
			cacheAge := time.Since(m.monitor.state.CachedInstallations.Timestamp).Seconds()
			m.writeMetric(&metrics, "sngraz_cache_age_seconds", map[string]string{
				"cache_type": "installations",
			}, cacheAge)
		}

		for meterID, cached := range m.monitor.state.CachedReadings {
			cacheAge := time.Since(cached.Timestamp).Seconds()
			m.writeMetric(&metrics, "sngraz_cache_age_seconds", map[string]string{
				"cache_type": "readings",
				"meter_id":   meterID,
			}, cacheAge)
		}
	}

	return metrics.String()
}

// writeMetricHeader writes metric description and type
func (m *MetricsCollector) writeMetricHeader(sb *strings.Builder, name, metricType, description string) {
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, description))
	sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", name, metricType))
}

// writeMetric writes a metric with optional labels
func (m *MetricsCollector) writeMetric(sb *strings.Builder, name string, labels map[string]string, value float64) {
	if len(labels) > 0 {
		var labelPairs []string
		for key, val := range labels {
			labelPairs = append(labelPairs, fmt.Sprintf(`%s="%s"`, key, val))
		}
		sb.WriteString(fmt.Sprintf("%s{%s} %g\n", name, strings.Join(labelPairs, ","), value))
	} else {
		sb.WriteString(fmt.Sprintf("%s %g\n", name, value))
	}
}
