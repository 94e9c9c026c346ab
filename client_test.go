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
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// makeTestToken builds an unsigned JWT with the given expiry, matching the
// shape of the tokens the portal issues
func makeTestToken(t *testing.T, expiry time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"exp": expiry.Unix(),
		"sub": "user@example.com",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to build test token: %v", err)
	}
	return signed
}

// testPortal is an httptest stand-in for the Stromnetz Graz web portal
type testPortal struct {
	t      *testing.T
	server *httptest.Server

	loginCalls   int
	readingCalls []meterReadingRequest

	loginError         string
	quarterHourlyEmpty bool
	availableSince     string
}

func newTestPortal(t *testing.T) *testPortal {
	t.Helper()
	p := &testPortal{
		t:              t,
		availableSince: "2024-01-01T00:00:00",
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *testPortal) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path != "/"+PathLogin {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	switch r.URL.Path {
	case "/" + PathLogin:
		p.loginCalls++
		if p.loginError != "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   p.loginError,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"token":   makeTestToken(p.t, time.Now().Add(1*time.Hour)),
		})

	case "/" + PathInstallations:
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"installationID": 11,
				"customerNumber": 900123,
				"address":        "Hauptplatz 1, 8010 Graz",
				"meterPoints": []map[string]interface{}{
					{
						"meterPointID": 1234,
						"name":         "Wohnung EG",
						"shortName":    "ZP1",
						"optState":     map[string]string{"currentOptState": "OptIn"},
					},
					{
						"meterPointID": 5678,
						"name":         "Garage",
						"shortName":    "",
						"optState":     map[string]string{"currentOptState": "OptOut"},
					},
				},
			},
			// Placeholder entry for a closed contract
			{"installationID": 0},
		})

	case "/" + PathMeterMetaData:
		json.NewEncoder(w).Encode(map[string]string{
			"readingsAvailableSince": p.availableSince,
		})

	case "/" + PathMeterReading:
		var req meterReadingRequest
		json.NewDecoder(r.Body).Decode(&req)
		p.readingCalls = append(p.readingCalls, req)

		if p.quarterHourlyEmpty && req.Interval == IntervalQuarterHourly {
			json.NewEncoder(w).Encode(map[string]interface{}{"readings": []interface{}{}})
			return
		}

		// Read times sit inside any requested window
		base := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Hour)
		stamp := func(offset time.Duration) string {
			return base.Add(offset).Format("2006-01-02T15:04:05")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"readings": []map[string]interface{}{
				{
					"readTime": stamp(0),
					"readingValues": []map[string]interface{}{
						{"readingType": "CONSUMP", "value": 0.25, "readingState": "Valid"},
						{"readingType": "MR", "value": 10500.5, "readingState": "Valid"},
					},
				},
				{
					"readTime": stamp(15 * time.Minute),
					"readingValues": []map[string]interface{}{
						{"readingType": "CONSUMP", "value": 0.31, "readingState": "Valid"},
					},
				},
				{
					// Estimated values must be dropped entirely
					"readTime": stamp(30 * time.Minute),
					"readingValues": []map[string]interface{}{
						{"readingType": "CONSUMP", "value": 9.99, "readingState": "Estimated"},
					},
				},
			},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *testPortal) newClient() *StromNetzClient {
	client := NewStromNetzClient("user@example.com", "secret", time.UTC, false)
	client.BaseURL = p.server.URL + "/"
	client.minInterval = 0
	return client
}

func optInMeter() Meter {
	meter := Meter{MeterPointID: 1234, Name: "Wohnung EG", ShortName: "ZP1"}
	meter.OptState.CurrentOptState = OptStateIn
	return meter
}

func TestNewStromNetzClient(t *testing.T) {
	email := "user@example.com"
	password := "secret"
	debug := true

	client := NewStromNetzClient(email, password, time.UTC, debug)

	if client.Email != email {
		t.Errorf("Expected Email %s, got %s", email, client.Email)
	}

	if client.password != password {
		t.Errorf("Expected password %s, got %s", password, client.password)
	}

	if client.BaseURL != PortalEndpoint {
		t.Errorf("Expected BaseURL %s, got %s", PortalEndpoint, client.BaseURL)
	}

	if client.debug != debug {
		t.Errorf("Expected debug %v, got %v", debug, client.debug)
	}

	if client.minInterval != 1*time.Second {
		t.Errorf("Expected minInterval %v, got %v", 1*time.Second, client.minInterval)
	}

	if client.maxRetries != 3 {
		t.Errorf("Expected maxRetries %d, got %d", 3, client.maxRetries)
	}

	if client.client == nil {
		t.Error("Expected HTTP client to be initialized")
	}

	if client.client.Timeout != 30*time.Second {
		t.Errorf("Expected HTTP timeout %v, got %v", 30*time.Second, client.client.Timeout)
	}
}

func TestNewStromNetzClientDefaultsToUTC(t *testing.T) {
	client := NewStromNetzClient("user@example.com", "secret", nil, false)
	if client.location != time.UTC {
		t.Errorf("Expected UTC location for nil input, got %v", client.location)
	}
}

func TestStromNetzClientSetState(t *testing.T) {
	client := NewStromNetzClient("user@example.com", "secret", time.UTC, false)
	state := &AppState{
		SessionToken:       "test-session-token",
		SessionTokenExpiry: time.Now().Add(1 * time.Hour),
	}

	client.SetState(state)

	if client.state != state {
		t.Error("Expected state to be set on client")
	}

	if client.sessionToken != state.SessionToken {
		t.Errorf("Expected session token %s, got %s", state.SessionToken, client.sessionToken)
	}

	if client.tokenExpiry != state.SessionTokenExpiry {
		t.Errorf("Expected token expiry %v, got %v", state.SessionTokenExpiry, client.tokenExpiry)
	}
}

func TestInvalidateToken(t *testing.T) {
	client := NewStromNetzClient("user@example.com", "secret", time.UTC, false)
	state := &AppState{
		SessionToken:       "test-session-token",
		SessionTokenExpiry: time.Now().Add(1 * time.Hour),
	}
	client.SetState(state)

	client.invalidateToken()

	if client.sessionToken != "" {
		t.Errorf("Expected empty session token, got %s", client.sessionToken)
	}

	if !client.tokenExpiry.IsZero() {
		t.Errorf("Expected zero token expiry, got %v", client.tokenExpiry)
	}

	if state.SessionToken != "" {
		t.Errorf("Expected empty session token in state, got %s", state.SessionToken)
	}

	if !state.SessionTokenExpiry.IsZero() {
		t.Errorf("Expected zero token expiry in state, got %v", state.SessionTokenExpiry)
	}
}

func TestTokenValid(t *testing.T) {
	testCases := []struct {
		name  string
		token string
		valid bool
	}{
		{
			name:  "No token",
			token: "",
			valid: false,
		},
		{
			name:  "Garbage token",
			token: "not-a-jwt",
			valid: false,
		},
		{
			name:  "Expired token",
			token: "", // filled in below
			valid: false,
		},
		{
			name:  "Token inside refresh buffer",
			token: "",
			valid: false,
		},
		{
			name:  "Valid token",
			token: "",
			valid: true,
		},
	}
	testCases[2].token = makeTestToken(t, time.Now().Add(-1*time.Hour))
	testCases[3].token = makeTestToken(t, time.Now().Add(1*time.Minute))
	testCases[4].token = makeTestToken(t, time.Now().Add(1*time.Hour))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewStromNetzClient("user@example.com", "secret", time.UTC, false)
			client.sessionToken = tc.token
			if got := client.tokenValid(); got != tc.valid {
				t.Errorf("Expected valid=%v, got %v", tc.valid, got)
			}
			if !tc.valid && client.sessionToken != "" {
				t.Error("Expected invalid token to be cleared")
			}
		})
	}
}

func TestLogin(t *testing.T) {
	portal := newTestPortal(t)
	client := portal.newClient()
	state := &AppState{}
	client.SetState(state)

	if err := client.Login(); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if client.sessionToken == "" {
		t.Error("Expected session token to be set after login")
	}

	if state.SessionToken != client.sessionToken {
		t.Error("Expected session token to be saved to state")
	}

	if portal.loginCalls != 1 {
		t.Errorf("Expected 1 login call, got %d", portal.loginCalls)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	portal := newTestPortal(t)
	portal.loginError = "Benutzername oder Passwort falsch"
	client := portal.newClient()

	err := client.Login()
	if err == nil {
		t.Fatal("Expected login to fail with bad credentials")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %T: %v", err, err)
	}

	if authErr.Reason != portal.loginError {
		t.Errorf("Expected reason %q, got %q", portal.loginError, authErr.Reason)
	}

	if client.sessionToken != "" {
		t.Error("Expected no session token after failed login")
	}
}

func TestGetInstallations(t *testing.T) {
	portal := newTestPortal(t)
	client := portal.newClient()

	installations, err := client.GetInstallations()
	if err != nil {
		t.Fatalf("GetInstallations failed: %v", err)
	}

	// The placeholder entry with installationID 0 must be filtered out
	if len(installations) != 1 {
		t.Fatalf("Expected 1 installation, got %d", len(installations))
	}

	inst := installations[0]
	if inst.InstallationID != 11 {
		t.Errorf("Expected installation ID 11, got %d", inst.InstallationID)
	}
	if inst.Address != "Hauptplatz 1, 8010 Graz" {
		t.Errorf("Unexpected address: %s", inst.Address)
	}
	if len(inst.MeterPoints) != 2 {
		t.Fatalf("Expected 2 meters, got %d", len(inst.MeterPoints))
	}
	if inst.MeterPoints[0].OptState.CurrentOptState != OptStateIn {
		t.Errorf("Expected first meter OptIn, got %s", inst.MeterPoints[0].OptState.CurrentOptState)
	}
	if inst.MeterPoints[1].OptState.CurrentOptState != OptStateOut {
		t.Errorf("Expected second meter OptOut, got %s", inst.MeterPoints[1].OptState.CurrentOptState)
	}
}

func TestGetMeterReadings(t *testing.T) {
	portal := newTestPortal(t)
	client := portal.newClient()

	data, err := client.GetMeterReadings(optInMeter(), 7)
	if err != nil {
		t.Fatalf("GetMeterReadings failed: %v", err)
	}

	if data.Interval != IntervalQuarterHourly {
		t.Errorf("Expected interval %s, got %s", IntervalQuarterHourly, data.Interval)
	}

	// Two valid readings; the estimated one must be dropped
	if len(data.Readings) != 2 {
		t.Fatalf("Expected 2 readings, got %d", len(data.Readings))
	}

	first := data.Readings[0]
	if first.Consumption == nil || *first.Consumption != 0.25 {
		t.Errorf("Expected first consumption 0.25, got %v", first.Consumption)
	}
	if first.MeterReading == nil || *first.MeterReading != 10500.5 {
		t.Errorf("Expected first register value 10500.5, got %v", first.MeterReading)
	}

	if data.LastConsumption == nil || *data.LastConsumption != 0.31 {
		t.Errorf("Expected last consumption 0.31, got %v", data.LastConsumption)
	}
	if data.LastReading == nil || *data.LastReading != 10500.5 {
		t.Errorf("Expected last register value 10500.5, got %v", data.LastReading)
	}
}

func TestGetMeterReadingsDailyFallback(t *testing.T) {
	portal := newTestPortal(t)
	portal.quarterHourlyEmpty = true
	client := portal.newClient()

	data, err := client.GetMeterReadings(optInMeter(), 7)
	if err != nil {
		t.Fatalf("GetMeterReadings failed: %v", err)
	}

	if data.Interval != IntervalDaily {
		t.Errorf("Expected fallback to %s, got %s", IntervalDaily, data.Interval)
	}

	if len(data.Readings) == 0 {
		t.Error("Expected readings from the daily fallback")
	}

	if len(portal.readingCalls) != 2 {
		t.Fatalf("Expected 2 reading calls, got %d", len(portal.readingCalls))
	}
	if portal.readingCalls[0].Interval != IntervalQuarterHourly {
		t.Errorf("Expected first call QuarterHourly, got %s", portal.readingCalls[0].Interval)
	}
	if portal.readingCalls[1].Interval != IntervalDaily {
		t.Errorf("Expected second call Daily, got %s", portal.readingCalls[1].Interval)
	}
}

func TestGetMeterReadingsOptedOut(t *testing.T) {
	portal := newTestPortal(t)
	client := portal.newClient()

	meter := Meter{MeterPointID: 5678, Name: "Garage"}
	meter.OptState.CurrentOptState = OptStateOut

	_, err := client.GetMeterReadings(meter, 7)
	if err == nil {
		t.Fatal("Expected error for opted-out meter")
	}

	var meterErr *MeterError
	if !errors.As(err, &meterErr) {
		t.Fatalf("Expected MeterError, got %T: %v", err, err)
	}
	if meterErr.MeterID != 5678 {
		t.Errorf("Expected meter ID 5678, got %d", meterErr.MeterID)
	}

	if len(portal.readingCalls) != 0 {
		t.Errorf("Expected no portal calls for opted-out meter, got %d", len(portal.readingCalls))
	}
}

func TestGetMeterReadingsWindowClamped(t *testing.T) {
	portal := newTestPortal(t)
	// Readings only became available three days ago
	since := time.Now().UTC().AddDate(0, 0, -3).Truncate(time.Hour)
	portal.availableSince = since.Format("2006-01-02T15:04:05")
	client := portal.newClient()

	_, err := client.GetMeterReadings(optInMeter(), 30)
	if err != nil {
		t.Fatalf("GetMeterReadings failed: %v", err)
	}

	if len(portal.readingCalls) == 0 {
		t.Fatal("Expected at least one reading call")
	}

	fromDate, err := time.Parse("2006-01-02T15:04:05.000Z07:00", portal.readingCalls[0].FromDate)
	if err != nil {
		t.Fatalf("Failed to parse FromDate %q: %v", portal.readingCalls[0].FromDate, err)
	}
	if fromDate.Before(since) {
		t.Errorf("Expected FromDate clamped to %v, got %v", since, fromDate)
	}
}

func TestGetMeterReadingsWithCache(t *testing.T) {
	portal := newTestPortal(t)
	client := portal.newClient()
	state := &AppState{
		KnownMeters:         make(map[string]bool),
		CachedMeterMetaData: make(map[string]*CachedMeterMetaData),
		CachedReadings:      make(map[string]*CachedMeterReadings),
	}
	client.SetState(state)

	meter := optInMeter()

	first, err := client.GetMeterReadingsWithCache(state, meter, 7)
	if err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	callsAfterFirst := len(portal.readingCalls)

	second, err := client.GetMeterReadingsWithCache(state, meter, 7)
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}

	if len(portal.readingCalls) != callsAfterFirst {
		t.Errorf("Expected cached fetch to make no portal calls, got %d extra",
			len(portal.readingCalls)-callsAfterFirst)
	}

	if len(second.Readings) != len(first.Readings) {
		t.Errorf("Expected %d cached readings, got %d", len(first.Readings), len(second.Readings))
	}
}

func TestGetFirstReading(t *testing.T) {
	portal := newTestPortal(t)
	client := portal.newClient()

	first, err := client.GetFirstReading(optInMeter())
	if err != nil {
		t.Fatalf("GetFirstReading failed: %v", err)
	}

	if first != 10500.5 {
		t.Errorf("Expected first register value 10500.5, got %v", first)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client := NewStromNetzClient("user@example.com", "secret", time.UTC, false)
	client.Close()
	client.Close()
}

func TestIntervalForMeter(t *testing.T) {
	testCases := []struct {
		name     string
		optState string
		expected string
		wantErr  bool
	}{
		{
			name:     "Opted in",
			optState: OptStateIn,
			expected: IntervalQuarterHourly,
		},
		{
			name:     "Opted middle",
			optState: OptStateMiddle,
			expected: IntervalDaily,
		},
		{
			name:     "Opted out",
			optState: OptStateOut,
			wantErr:  true,
		},
		{
			name:     "Unknown state",
			optState: "Something",
			wantErr:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			meter := Meter{MeterPointID: 1}
			meter.OptState.CurrentOptState = tc.optState

			interval, err := intervalForMeter(meter)
			if tc.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if interval != tc.expected {
				t.Errorf("Expected interval %s, got %s", tc.expected, interval)
			}
		})
	}
}

func TestParsePortalTime(t *testing.T) {
	vienna, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		t.Fatalf("Failed to load timezone: %v", err)
	}

	testCases := []struct {
		name  string
		value string
		valid bool
	}{
		{
			name:  "Zoneless seconds",
			value: "2026-01-15T00:15:00",
			valid: true,
		},
		{
			name:  "Zoneless with milliseconds",
			value: "2026-01-15T00:15:00.000",
			valid: true,
		},
		{
			name:  "RFC3339",
			value: "2026-01-15T00:15:00+01:00",
			valid: true,
		},
		{
			name:  "Garbage",
			value: "yesterday",
			valid: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := parsePortalTime(tc.value, vienna)
			if !tc.valid {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if parsed.Hour() != 0 || parsed.Minute() != 15 {
				t.Errorf("Unexpected parsed time: %v", parsed)
			}
		})
	}
}
