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
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"
)

// MeterSummary is the per-meter view served by the installations API
type MeterSummary struct {
	MeterPointID      int        `json:"meter_point_id"`
	Name              string     `json:"name"`
	ShortName         string     `json:"short_name"`
	OptState          string     `json:"opt_state"`
	LastConsumption   *float64   `json:"last_consumption,omitempty"`
	LastConsumptionAt *time.Time `json:"last_consumption_at,omitempty"`
	LastReading       *float64   `json:"last_reading,omitempty"`
	LastReadingAt     *time.Time `json:"last_reading_at,omitempty"`
}

// InstallationSummary is the per-installation view served by the
// installations API
type InstallationSummary struct {
	InstallationID int            `json:"installation_id"`
	Address        string         `json:"address"`
	CustomerNumber int            `json:"customer_number"`
	Meters         []MeterSummary `json:"meters"`
}

type InstallationsResponse struct {
	Installations []InstallationSummary `json:"installations"`
	LastUpdated   time.Time             `json:"last_updated"`
}

type WebServer struct {
	monitor *ConsumptionMonitor
	server  *http.Server
}

func NewWebServer(monitor *ConsumptionMonitor, port int) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		monitor: monitor,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/", ws.handleDashboard)
	mux.HandleFunc("/api/installations", ws.handleInstallationsAPI)
	mux.HandleFunc("/api/readings", ws.handleReadingsAPI)
	mux.HandleFunc("/api/readings/refresh", ws.handleReadingsRefreshAPI)

	// Add Prometheus metrics endpoint
	metricsCollector := NewMetricsCollector(monitor.client, monitor)
	mux.Handle("/metrics", metricsCollector)

	return ws
}

func (ws *WebServer) Start() error {
	log.Printf("Starting web server on %s", ws.server.Addr)
	return ws.server.ListenAndServe()
}

func getCacheAge(cached *CachedMeterReadings) int {
	if cached == nil {
		return -1
	}
	return int(time.Since(cached.Timestamp).Seconds())
}

func (ws *WebServer) handleInstallationsAPI(w http.ResponseWriter, r *http.Request) {
	installations, err := ws.monitor.client.GetInstallationsWithCache(ws.monitor.state)
	if err != nil {
		log.Printf("Error getting installations: %v", err)
		http.Error(w, "Failed to get installations", http.StatusInternalServerError)
		return
	}

	summaries := []InstallationSummary{}
	for _, installation := range installations {
		summary := InstallationSummary{
			InstallationID: installation.InstallationID,
			Address:        installation.Address,
			CustomerNumber: installation.CustomerNumber,
			Meters:         []MeterSummary{},
		}
		for _, meter := range installation.MeterPoints {
			ms := MeterSummary{
				MeterPointID: meter.MeterPointID,
				Name:         meter.Name,
				ShortName:    meter.ShortName,
				OptState:     meter.OptState.CurrentOptState,
			}
			// Enrich with the latest cached values without hitting the portal
			if cached, ok := ws.monitor.state.CachedReadings[strconv.Itoa(meter.MeterPointID)]; ok && cached.Data != nil {
				ms.LastConsumption = cached.Data.LastConsumption
				ms.LastConsumptionAt = cached.Data.LastConsumptionAt
				ms.LastReading = cached.Data.LastReading
				ms.LastReadingAt = cached.Data.LastReadingAt
			}
			summary.Meters = append(summary.Meters, ms)
		}
		summaries = append(summaries, summary)
	}

	data := InstallationsResponse{
		Installations: summaries,
		LastUpdated:   time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(data)
}

// parseReadingsQuery extracts the meter ID and day window shared by the
// readings handlers
func (ws *WebServer) parseReadingsQuery(r *http.Request) (Meter, int, error) {
	meterParam := r.URL.Query().Get("meter")
	meterID, err := strconv.Atoi(meterParam)
	if err != nil {
		return Meter{}, 0, fmt.Errorf("missing or invalid meter parameter")
	}

	days := WebDefaultReadingDays
	if daysParam := r.URL.Query().Get("days"); daysParam != "" {
		if d, err := strconv.Atoi(daysParam); err == nil && d > 0 {
			days = d
			if days > WebMaxReadingDays {
				days = WebMaxReadingDays
			}
		}
	}

	installations, err := ws.monitor.client.GetInstallationsWithCache(ws.monitor.state)
	if err != nil {
		return Meter{}, 0, fmt.Errorf("failed to get installations: %w", err)
	}
	for _, installation := range installations {
		for _, meter := range installation.MeterPoints {
			if meter.MeterPointID == meterID {
				return meter, days, nil
			}
		}
	}
	return Meter{}, 0, fmt.Errorf("unknown meter %d", meterID)
}

func (ws *WebServer) writeReadingsResponse(w http.ResponseWriter, data *MeterData, days, cacheAge int, refreshed bool) {
	var chartData []map[string]interface{}
	for _, reading := range data.Readings {
		if reading.Consumption == nil {
			continue
		}
		point := map[string]interface{}{
			"timestamp": reading.ReadTime.Unix() * 1000, // JavaScript timestamp
			"datetime":  reading.ReadTime.Format("2006-01-02T15:04:05Z07:00"),
			"value":     *reading.Consumption,
		}
		if reading.MeterReading != nil {
			point["register"] = *reading.MeterReading
		}
		chartData = append(chartData, point)
	}

	response := map[string]interface{}{
		"success":   true,
		"meter":     data.MeterPointID,
		"interval":  data.Interval,
		"days":      days,
		"readings":  len(data.Readings),
		"data":      chartData,
		"cache_age": cacheAge,
	}
	if refreshed {
		response["refreshed"] = true
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(response)
}

func (ws *WebServer) handleReadingsAPI(w http.ResponseWriter, r *http.Request) {
	meter, days, err := ws.parseReadingsQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := ws.monitor.client.GetMeterReadingsWithCache(ws.monitor.state, meter, days)
	if err != nil {
		log.Printf("Error getting readings: %v", err)
		http.Error(w, "Failed to get reading data", http.StatusInternalServerError)
		return
	}

	cacheAge := getCacheAge(ws.monitor.state.CachedReadings[strconv.Itoa(meter.MeterPointID)])
	ws.writeReadingsResponse(w, data, days, cacheAge, false)
}

func (ws *WebServer) handleReadingsRefreshAPI(w http.ResponseWriter, r *http.Request) {
	meter, days, err := ws.parseReadingsQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Force cache invalidation for this meter
	if ws.monitor.state != nil {
		delete(ws.monitor.state.CachedReadings, strconv.Itoa(meter.MeterPointID))
		log.Printf("Cleared readings cache for meter %d", meter.MeterPointID)
	}

	data, err := ws.monitor.client.GetMeterReadingsWithCache(ws.monitor.state, meter, days)
	if err != nil {
		log.Printf("Error getting fresh readings: %v", err)
		http.Error(w, "Failed to get fresh reading data", http.StatusInternalServerError)
		return
	}

	ws.writeReadingsResponse(w, data, days, 0, true)
}

func (ws *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Stromnetz Graz Dashboard</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            background: linear-gradient(135deg, #134e5e 0%, #71b280 100%);
            color: white;
            min-height: 100vh;
            padding: 20px;
        }

        .container {
            max-width: 1200px;
            margin: 0 auto;
        }

        .header {
            text-align: center;
            margin-bottom: 40px;
        }

        .header h1 {
            font-size: 2.5rem;
            margin-bottom: 10px;
        }

        .sections {
            display: grid;
            grid-template-columns: 1fr 2fr;
            gap: 30px;
        }

        .section {
            background: rgba(255, 255, 255, 0.1);
            backdrop-filter: blur(10px);
            border-radius: 10px;
            padding: 25px;
        }

        .section h2 {
            margin-bottom: 20px;
            font-size: 1.5rem;
            border-bottom: 2px solid rgba(255, 255, 255, 0.3);
            padding-bottom: 10px;
        }

        .meter {
            background: rgba(255, 255, 255, 0.1);
            border-radius: 8px;
            padding: 15px;
            margin-bottom: 15px;
            cursor: pointer;
        }

        .meter:hover {
            background: rgba(255, 255, 255, 0.2);
        }

        .meter.active {
            border: 1px solid rgba(255, 255, 255, 0.6);
        }

        .meter-name {
            font-weight: bold;
            font-size: 1.1rem;
            margin-bottom: 8px;
        }

        .meter-details {
            font-size: 0.9rem;
            opacity: 0.9;
        }

        .meter-value {
            font-weight: bold;
            color: #ffd700;
            margin-top: 5px;
        }

        .no-data {
            text-align: center;
            opacity: 0.7;
            font-style: italic;
        }

        .footer {
            text-align: center;
            margin-top: 30px;
            opacity: 0.7;
        }

        .footer .disclaimer {
            font-size: 0.8rem;
            opacity: 0.6;
            margin-top: 10px;
            line-height: 1.4;
        }

        .loading {
            text-align: center;
            font-size: 1.2rem;
        }

        .chart-container {
            position: relative;
            height: 500px;
            margin: 20px 0;
        }

        .usage-controls {
            margin: 15px 0;
            text-align: center;
        }

        .usage-controls button {
            background: rgba(255, 255, 255, 0.2);
            border: 1px solid rgba(255, 255, 255, 0.3);
            color: white;
            padding: 8px 16px;
            margin: 0 5px;
            border-radius: 8px;
            cursor: pointer;
            transition: all 0.3s ease;
        }

        .usage-controls button:hover {
            background: rgba(255, 255, 255, 0.3);
        }

        .usage-controls button.active {
            background: rgba(255, 255, 255, 0.4);
            border-color: rgba(255, 255, 255, 0.5);
        }

        @media (max-width: 768px) {
            .sections {
                grid-template-columns: 1fr;
            }

            .header h1 {
                font-size: 2rem;
            }
        }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/chartjs-adapter-date-fns"></script>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>⚡ Stromnetz Graz Dashboard</h1>
            <div id="last-updated"></div>
        </div>

        <div class="sections" id="sections">
            <div class="section">
                <h2>🏠 Installations &amp; Meters</h2>
                <div id="installations"><div class="loading">Loading...</div></div>
            </div>

            <div class="section">
                <h2>📊 Consumption</h2>
                <div class="usage-controls">
                    <button onclick="loadReadings(1)" id="btn-1days">1 Day</button>
                    <button onclick="loadReadings(7)" id="btn-7days" class="active">7 Days</button>
                    <button onclick="loadReadings(14)" id="btn-14days">14 Days</button>
                    <button onclick="loadReadings(30)" id="btn-30days">30 Days</button>
                </div>
                <div class="chart-container">
                    <canvas id="usageChart"></canvas>
                </div>
                <div id="usage-stats"></div>
            </div>
        </div>

        <div class="footer">
            <p>Auto-refreshing every 5 minutes</p>
            <p class="disclaimer">
                This is an unofficial third-party application.
                "Stromnetz Graz" is a trademark of Stromnetz Graz GmbH &amp; Co KG.
                This application is not affiliated with, endorsed by, or connected to Stromnetz Graz.
            </p>
        </div>
    </div>

    <script>
        let usageChart = null;
        let currentMeter = null;
        let currentDays = 7;

        function describeOptState(optState) {
            if (optState === 'OptIn') return 'quarter-hourly';
            if (optState === 'OptMiddle') return 'daily';
            return 'no data';
        }

        function updateInstallations() {
            fetch('/api/installations')
                .then(response => response.json())
                .then(data => {
                    const div = document.getElementById('installations');
                    let html = '';
                    data.installations.forEach(inst => {
                        html += '<div class="meter-details" style="margin-bottom:10px"><strong>' +
                            inst.address + '</strong> (customer ' + inst.customer_number + ')</div>';
                        inst.meters.forEach(meter => {
                            const name = meter.short_name || meter.name || ('meter ' + meter.meter_point_id);
                            const active = meter.meter_point_id === currentMeter ? ' active' : '';
                            let value = '';
                            if (meter.last_consumption !== undefined && meter.last_consumption !== null) {
                                value = '<div class="meter-value">' + meter.last_consumption.toFixed(3) + ' kWh</div>';
                            }
                            html += '<div class="meter' + active + '" onclick="selectMeter(' + meter.meter_point_id + ')">' +
                                '<div class="meter-name">' + name + '</div>' +
                                '<div class="meter-details">' + meter.meter_point_id + ' · ' + describeOptState(meter.opt_state) + '</div>' +
                                value + '</div>';
                        });
                    });
                    if (html === '') {
                        html = '<div class="no-data">No installations found</div>';
                    }
                    div.innerHTML = html;

                    if (currentMeter === null) {
                        // Select the first meter with data available
                        for (const inst of data.installations) {
                            for (const meter of inst.meters) {
                                if (meter.opt_state !== 'OptOut') {
                                    selectMeter(meter.meter_point_id);
                                    return;
                                }
                            }
                        }
                    }

                    document.getElementById('last-updated').textContent =
                        'Last updated: ' + new Date(data.last_updated).toLocaleTimeString();
                })
                .catch(error => {
                    console.error('Error fetching installations:', error);
                    document.getElementById('installations').innerHTML =
                        '<div class="loading">Error loading data. Retrying...</div>';
                });
        }

        function selectMeter(meterID) {
            currentMeter = meterID;
            updateInstallations();
            loadReadings(currentDays);
        }

        function loadReadings(days) {
            if (currentMeter === null) return;
            currentDays = days;

            document.querySelectorAll('.usage-controls button').forEach(btn => btn.classList.remove('active'));
            const btn = document.getElementById('btn-' + days + 'days');
            if (btn) btn.classList.add('active');

            fetch('/api/readings?meter=' + currentMeter + '&days=' + days)
                .then(response => response.json())
                .then(data => {
                    if (data.success) {
                        updateUsageChart(data);
                        updateUsageStats(data);
                    } else {
                        showUsageError('Failed to load reading data');
                    }
                })
                .catch(error => {
                    console.error('Error loading readings:', error);
                    showUsageError('Error loading reading data. Please try again.');
                });
        }

        function updateUsageChart(data) {
            if (usageChart) {
                usageChart.destroy();
            }

            const chartContainer = document.querySelector('.chart-container');
            if (!data.data || data.data.length === 0) {
                chartContainer.innerHTML = '<div style="text-align: center; padding: 50px; color: rgba(255, 255, 255, 0.7); font-size: 18px;">No Data Available</div>';
                return;
            }

            chartContainer.innerHTML = '<canvas id="usageChart"></canvas>';
            const ctx = document.getElementById('usageChart').getContext('2d');

            const chartData = data.data.map(point => ({
                x: new Date(point.timestamp),
                y: point.value
            }));

            usageChart = new Chart(ctx, {
                type: 'line',
                data: {
                    datasets: [{
                        label: 'Consumption (kWh, ' + data.interval + ')',
                        data: chartData,
                        borderColor: 'rgba(75, 192, 192, 1)',
                        backgroundColor: 'rgba(75, 192, 192, 0.2)',
                        fill: true,
                        tension: 0.1
                    }]
                },
                options: {
                    responsive: true,
                    maintainAspectRatio: false,
                    scales: {
                        x: {
                            type: 'time',
                            time: {
                                unit: currentDays <= 1 ? 'hour' : 'day'
                            },
                            grid: { color: 'rgba(255, 255, 255, 0.1)' },
                            ticks: { color: 'rgba(255, 255, 255, 0.8)' }
                        },
                        y: {
                            beginAtZero: true,
                            grid: { color: 'rgba(255, 255, 255, 0.1)' },
                            ticks: { color: 'rgba(255, 255, 255, 0.8)' }
                        }
                    },
                    plugins: {
                        legend: {
                            labels: { color: 'rgba(255, 255, 255, 0.8)' }
                        },
                        tooltip: {
                            callbacks: {
                                label: function(context) {
                                    return 'Usage: ' + context.raw.y.toFixed(3) + ' kWh';
                                }
                            }
                        }
                    }
                }
            });
        }

        function updateUsageStats(data) {
            if (!data.data || data.data.length === 0) {
                document.getElementById('usage-stats').innerHTML =
                    '<div class="no-data">No readings in the selected period</div>';
                return;
            }

            const totalUsage = data.data.reduce((sum, point) => sum + point.value, 0);
            const avgUsage = totalUsage / data.data.length;

            const statsHTML = '<div style="display: flex; justify-content: space-around; margin-top: 15px;">' +
                '<div><strong>Total:</strong> ' + totalUsage.toFixed(2) + ' kWh</div>' +
                '<div><strong>Average:</strong> ' + avgUsage.toFixed(3) + ' kWh/reading</div>' +
                '<div><strong>Data Points:</strong> ' + data.data.length + '</div>' +
                '<div><strong>Period:</strong> ' + data.days + ' days</div>' +
                '</div>';

            document.getElementById('usage-stats').innerHTML = statsHTML;
        }

        function showUsageError(message) {
            if (usageChart) {
                usageChart.destroy();
            }
            document.querySelector('.chart-container').innerHTML =
                '<div style="text-align: center; padding: 50px; color: rgba(248, 113, 113, 0.8); font-size: 18px;">' + message + '</div>';
            document.getElementById('usage-stats').innerHTML = '';
        }

        // Initial load
        updateInstallations();

        // Auto-refresh every 5 minutes, matching how often the portal
        // publishes anything new
        setInterval(updateInstallations, 300000);
    </script>
</body>
</html>`

	tmpl := template.Must(template.New("dashboard").Parse(dashboardHTML))
	w.Header().Set("Content-Type", "text/html")
	tmpl.Execute(w, nil)
}
