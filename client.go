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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIMetrics tracks API call performance and rate limiting
type APIMetrics struct {
	// API call durations by endpoint
	RequestDurations map[string][]float64 // endpoint -> list of durations in seconds

	// Rate limiting metrics
	TotalRequests     int64   // Total number of API requests
	RateLimitSleeps   int64   // Number of times rate limiting was triggered
	TotalSleepSeconds float64 // Total time spent sleeping due to rate limits
}

// NewAPIMetrics creates a new metrics tracker
func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{
		RequestDurations: make(map[string][]float64),
	}
}

// StromNetzClient talks to the Stromnetz Graz web portal. All endpoints are
// JSON-over-POST; authenticated calls carry a bearer token from login.
type StromNetzClient struct {
	Email           string
	BaseURL         string
	password        string
	client          *http.Client
	location        *time.Location
	lastRequestTime time.Time
	minInterval     time.Duration
	maxRetries      int
	sessionToken    string
	tokenExpiry     time.Time
	debug           bool
	state           *AppState
	logger          *Logger
	metrics         *APIMetrics
	closeOnce       sync.Once
}

// Meter is a single metering device belonging to an installation
type Meter struct {
	MeterPointID int    `json:"meterPointID"`
	Name         string `json:"name"`
	ShortName    string `json:"shortName"`
	OptState     struct {
		CurrentOptState string `json:"currentOptState"`
	} `json:"optState"`
}

// Installation is a physical site (house/apartment) with one or more meters
type Installation struct {
	InstallationID     int     `json:"installationID"`
	CustomerID         int     `json:"customerID"`
	CustomerNumber     int     `json:"customerNumber"`
	InstallationNumber int     `json:"installationNumber"`
	Address            string  `json:"address"`
	MeterPoints        []Meter `json:"meterPoints"`
}

// MeterMetaData describes when readings became available for a meter
type MeterMetaData struct {
	ReadingsAvailableSince time.Time `json:"readingsAvailableSince"`
}

// Reading is one validated data point from the portal. Consumption is the
// kWh used during the interval (CONSUMP), MeterReading the absolute register
// value (MR); either can be absent depending on the meter's reporting mode.
type Reading struct {
	ReadTime     time.Time `json:"readTime"`
	Consumption  *float64  `json:"consumption,omitempty"`
	MeterReading *float64  `json:"meterReading,omitempty"`
}

// MeterData bundles a fetched reading window with the latest tracked values
type MeterData struct {
	MeterPointID      int        `json:"meterPointID"`
	Interval          string     `json:"interval"`
	Readings          []Reading  `json:"readings"`
	LastConsumption   *float64   `json:"lastConsumption,omitempty"`
	LastConsumptionAt *time.Time `json:"lastConsumptionAt,omitempty"`
	LastReading       *float64   `json:"lastReading,omitempty"`
	LastReadingAt     *time.Time `json:"lastReadingAt,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Error   string `json:"error"`
}

type meterReadingRequest struct {
	UnitOfConsump string `json:"unitOfConsump"`
	Interval      string `json:"interval"`
	MeterPointID  int    `json:"meterPointId"`
	FromDate      string `json:"fromDate"`
	ToDate        string `json:"toDate"`
}

type readingValue struct {
	ReadingType  string  `json:"readingType"`
	Value        float64 `json:"value"`
	ReadingState string  `json:"readingState"`
}

type rawReading struct {
	ReadTime      string         `json:"readTime"`
	ReadingValues []readingValue `json:"readingValues"`
}

type meterReadingResponse struct {
	Readings []rawReading `json:"readings"`
	Error    string       `json:"error"`
}

type meterMetaDataResponse struct {
	ReadingsAvailableSince string `json:"readingsAvailableSince"`
	Error                  string `json:"error"`
}

func NewStromNetzClient(email, password string, location *time.Location, debug bool) *StromNetzClient {
	logger := NewLogger(debug).WithComponent("portal_client")
	if location == nil {
		location = time.UTC
	}
	return &StromNetzClient{
		Email:       email,
		password:    password,
		BaseURL:     PortalEndpoint,
		location:    location,
		minInterval: HTTPMinInterval,
		maxRetries:  HTTPMaxRetries,
		debug:       debug,
		logger:      logger,
		metrics:     NewAPIMetrics(),
		client: &http.Client{
			Timeout: HTTPClientTimeout,
		},
	}
}

func (c *StromNetzClient) SetState(state *AppState) {
	c.state = state
	c.loadTokenFromState()
}

func (c *StromNetzClient) loadTokenFromState() {
	if c.state != nil && c.state.SessionToken != "" {
		c.sessionToken = c.state.SessionToken
		c.tokenExpiry = c.state.SessionTokenExpiry
		c.debugLog("Loaded cached session token, expires: %v", c.tokenExpiry)
	}
}

func (c *StromNetzClient) saveTokenToState() {
	if c.state != nil {
		c.state.SessionToken = c.sessionToken
		c.state.SessionTokenExpiry = c.tokenExpiry
		c.debugLog("Saved session token to state, expires: %v", c.tokenExpiry)
	}
}

func (c *StromNetzClient) invalidateToken() {
	c.debugLog("Invalidating session token")
	c.sessionToken = ""
	c.tokenExpiry = time.Time{}
	if c.state != nil {
		c.state.SessionToken = ""
		c.state.SessionTokenExpiry = time.Time{}
	}
}

// tokenValid reports whether the current bearer token exists and has not
// expired. The portal signs its tokens server-side; the client only inspects
// the exp claim, it never verifies the signature.
func (c *StromNetzClient) tokenValid() bool {
	if c.sessionToken == "" {
		return false
	}
	token, _, err := jwt.NewParser().ParseUnverified(c.sessionToken, jwt.MapClaims{})
	if err != nil {
		c.invalidateToken()
		return false
	}
	expiry, err := token.Claims.GetExpirationTime()
	if err != nil || expiry == nil {
		c.invalidateToken()
		return false
	}
	c.tokenExpiry = expiry.Time
	if time.Until(expiry.Time) < TokenRefreshBuffer {
		c.invalidateToken()
		return false
	}
	return true
}

// Login authenticates against the portal and stores the session token.
// Invalid credentials are reported in-band by the portal and surface as an
// AuthError.
func (c *StromNetzClient) Login() error {
	c.debugLog("Requesting new session token...")

	resp, err := c.makeRequest(PathLogin, loginRequest{Email: c.Email, Password: c.password})
	if err != nil {
		return fmt.Errorf("failed to execute login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.debugLog("Login failed body: %s", string(bodyBytes))
		return NewAPIError(resp.StatusCode, PathLogin, "login request failed", nil)
	}

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}

	if result.Error != "" {
		return &AuthError{Reason: result.Error, Message: "portal rejected credentials"}
	}
	if result.Token == "" {
		return &AuthError{Message: "no token returned"}
	}

	c.sessionToken = result.Token
	if !c.tokenValid() {
		return &AuthError{Message: "portal returned an expired or malformed token"}
	}

	c.debugLog("Session token obtained successfully, expires: %v", c.tokenExpiry)
	c.saveTokenToState()

	return nil
}

// ensureSession re-authenticates when the cached token is missing or about
// to expire
func (c *StromNetzClient) ensureSession() error {
	if c.tokenValid() {
		c.debugLog("Session token still valid until %v", c.tokenExpiry)
		return nil
	}
	return c.Login()
}

// query executes an authenticated portal call and returns the response body.
// A 401/403 invalidates the token and retries once with a fresh login.
func (c *StromNetzClient) query(path string, payload interface{}) ([]byte, error) {
	return c.queryWithAuthRetry(path, payload, true)
}

func (c *StromNetzClient) queryWithAuthRetry(path string, payload interface{}, retryOnAuth bool) ([]byte, error) {
	if err := c.ensureSession(); err != nil {
		return nil, err
	}

	resp, err := c.makeRequest(path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && retryOnAuth {
		c.debugLog("Got %d response, session token may be expired. Invalidating and retrying...", resp.StatusCode)
		c.invalidateToken()
		return c.queryWithAuthRetry(path, payload, false)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewAPIError(resp.StatusCode, path, string(bodyBytes), nil)
	}

	return bodyBytes, nil
}

func (c *StromNetzClient) makeRequest(path string, body interface{}) (*http.Response, error) {
	return c.makeRequestWithRetry(path, body, 0)
}

func (c *StromNetzClient) makeRequestWithRetry(path string, body interface{}, attempt int) (*http.Response, error) {
	c.enforceRateLimit()

	var reqBody []byte
	var err error

	if body != nil {
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	url := c.BaseURL + path
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", GetUserAgent())
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}

	// Log request details in debug mode
	c.debugLogRequest("POST", url, req.Header, reqBody)

	startTime := time.Now()
	c.lastRequestTime = startTime
	resp, err := c.client.Do(req)
	duration := time.Since(startTime).Seconds()

	// Track total requests (including failed ones)
	c.metrics.TotalRequests++

	if err != nil {
		if attempt < c.maxRetries {
			backoff := c.calculateBackoff(attempt)
			c.logger.Warn("Request failed, retrying",
				"endpoint", path,
				"attempt", attempt+1,
				"max_attempts", c.maxRetries+1,
				"backoff_ms", backoff.Milliseconds(),
				"error", err.Error(),
			)
			time.Sleep(backoff)
			return c.makeRequestWithRetry(path, body, attempt+1)
		}
		return nil, NewAPIError(0, path, "request failed", err)
	}

	c.logger.LogAPIRequest("POST", path, resp.StatusCode, duration)

	// Track API call duration by endpoint
	c.metrics.RequestDurations[path] = append(c.metrics.RequestDurations[path], duration)

	// Log response details in debug mode (read preview without consuming body)
	if c.debug {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err == nil {
			resp.Body.Close()
			c.debugLogResponse(resp, bodyBytes, duration)
			// Restore the response body for the caller
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	if c.shouldRetry(resp.StatusCode) && attempt < c.maxRetries {
		backoff := c.calculateBackoffFromResponse(resp, attempt)
		c.logger.Warn("Retrying due to status code",
			"status_code", resp.StatusCode,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries+1,
			"backoff_ms", backoff.Milliseconds(),
		)
		resp.Body.Close()
		time.Sleep(backoff)
		return c.makeRequestWithRetry(path, body, attempt+1)
	}

	return resp, nil
}

func (c *StromNetzClient) enforceRateLimit() {
	if !c.lastRequestTime.IsZero() {
		elapsed := time.Since(c.lastRequestTime)
		if elapsed < c.minInterval {
			sleep := c.minInterval - elapsed
			c.logger.Debug("Rate limiting",
				"sleep_ms", sleep.Milliseconds(),
			)

			// Track rate limiting metrics
			c.metrics.RateLimitSleeps++
			c.metrics.TotalSleepSeconds += sleep.Seconds()

			time.Sleep(sleep)
		}
	}
}

func (c *StromNetzClient) shouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

func (c *StromNetzClient) calculateBackoff(attempt int) time.Duration {
	base := float64(time.Second)
	backoff := base * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * 0.1 * backoff
	return time.Duration(backoff + jitter)
}

func (c *StromNetzClient) calculateBackoffFromResponse(resp *http.Response, attempt int) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return c.calculateBackoff(attempt)
}

func (c *StromNetzClient) debugLog(format string, args ...interface{}) {
	if c.debug {
		c.logger.Debug(fmt.Sprintf(format, args...))
	}
}

// debugLogRequest logs detailed request information in debug mode
func (c *StromNetzClient) debugLogRequest(method, url string, headers http.Header, bodyBytes []byte) {
	if !c.debug {
		return
	}

	// Mask sensitive headers
	maskedHeaders := make(map[string]string)
	for key, values := range headers {
		if len(values) > 0 {
			if key == "Authorization" {
				// Show only first and last 4 chars of auth tokens
				val := values[0]
				if len(val) > 12 {
					maskedHeaders[key] = val[:6] + "..." + val[len(val)-4:]
				} else {
					maskedHeaders[key] = "***"
				}
			} else {
				maskedHeaders[key] = values[0]
			}
		}
	}

	c.logger.Debug("→ HTTP Request",
		"method", method,
		"url", url,
		"headers", maskedHeaders,
	)

	if len(bodyBytes) > 0 {
		bodyStr := string(bodyBytes)
		// Never log the login payload, it carries the password
		if bytes.Contains(bodyBytes, []byte(`"password"`)) {
			bodyStr = "*** login payload redacted ***"
		} else if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "... (truncated)"
		}
		c.logger.Debug("  Request Body", "body", bodyStr)
	}
}

// debugLogResponse logs detailed response information in debug mode
func (c *StromNetzClient) debugLogResponse(resp *http.Response, bodyPreview []byte, duration float64) {
	if !c.debug {
		return
	}

	c.logger.Debug("← HTTP Response",
		"status", resp.StatusCode,
		"status_text", resp.Status,
		"duration_ms", duration*1000,
		"content_type", resp.Header.Get("Content-Type"),
	)

	if len(bodyPreview) > 0 {
		bodyStr := string(bodyPreview)
		// Truncate long response bodies
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "... (truncated)"
		}
		c.logger.Debug("  Response Body", "body", bodyStr)
	}
}

// Close releases the HTTP resources held by the client. Safe to call more
// than once.
func (c *StromNetzClient) Close() {
	c.closeOnce.Do(func() {
		c.client.CloseIdleConnections()
		c.debugLog("Closed portal client")
	})
}

// GetInstallations fetches all installations for the account, including
// their meter points
func (c *StromNetzClient) GetInstallations() ([]Installation, error) {
	bodyBytes, err := c.query(PathInstallations, struct{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch installations: %w", err)
	}

	var installations []Installation
	if err := json.Unmarshal(bodyBytes, &installations); err != nil {
		return nil, fmt.Errorf("failed to decode installations response: %w", err)
	}

	// Entries without an installation ID are placeholders the portal
	// sometimes returns for closed contracts
	valid := installations[:0]
	for _, inst := range installations {
		if inst.InstallationID != 0 {
			valid = append(valid, inst)
		}
	}

	c.debugLog("Found %d installations", len(valid))
	return valid, nil
}

// GetInstallationsWithCache fetches installations, serving cached data while
// it is fresh
func (c *StromNetzClient) GetInstallationsWithCache(state *AppState) ([]Installation, error) {
	if state != nil && state.CachedInstallations != nil {
		if state.IsCacheValid(state.CachedInstallations.Timestamp, CacheDurationInstallations) {
			c.logger.LogCacheHit("installations", time.Since(state.CachedInstallations.Timestamp).Seconds())
			return state.CachedInstallations.Data, nil
		}
	}

	installations, err := c.GetInstallations()
	if err != nil {
		return nil, err
	}

	if state != nil {
		state.CachedInstallations = &CachedInstallations{
			Data:      installations,
			Timestamp: time.Now(),
		}
	}

	return installations, nil
}

// GetMeterMetaData fetches reading availability metadata for a meter.
// The portal omits the timezone on readingsAvailableSince; the configured
// zone is assumed, truncated to the hour.
func (c *StromNetzClient) GetMeterMetaData(meterID int) (*MeterMetaData, error) {
	bodyBytes, err := c.query(PathMeterMetaData, map[string]int{"meterPointId": meterID})
	if err != nil {
		return nil, &MeterError{MeterID: meterID, Operation: "metadata", Err: err}
	}

	var result meterMetaDataResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode meter metadata response: %w", err)
	}
	if result.Error != "" {
		return nil, &MeterError{MeterID: meterID, Operation: "metadata", Err: fmt.Errorf("portal error: %s", result.Error)}
	}

	since, err := parsePortalTime(result.ReadingsAvailableSince, c.location)
	if err != nil {
		return nil, fmt.Errorf("failed to parse readingsAvailableSince %q: %w", result.ReadingsAvailableSince, err)
	}
	since = since.Truncate(time.Hour)

	return &MeterMetaData{ReadingsAvailableSince: since}, nil
}

// GetMeterMetaDataWithCache fetches meter metadata with per-meter caching
func (c *StromNetzClient) GetMeterMetaDataWithCache(state *AppState, meterID int) (*MeterMetaData, error) {
	key := strconv.Itoa(meterID)
	if state != nil {
		if cached, ok := state.CachedMeterMetaData[key]; ok {
			if state.IsCacheValid(cached.Timestamp, CacheDurationMeterMetaData) {
				c.logger.LogCacheHit("meter_metadata", time.Since(cached.Timestamp).Seconds())
				return cached.Data, nil
			}
		}
	}

	meta, err := c.GetMeterMetaData(meterID)
	if err != nil {
		return nil, err
	}

	if state != nil {
		if state.CachedMeterMetaData == nil {
			state.CachedMeterMetaData = make(map[string]*CachedMeterMetaData)
		}
		state.CachedMeterMetaData[key] = &CachedMeterMetaData{
			Data:      meta,
			Timestamp: time.Now(),
		}
	}

	return meta, nil
}

// intervalForMeter maps a meter's opt state to the reading interval the
// portal will actually serve
func intervalForMeter(meter Meter) (string, error) {
	switch meter.OptState.CurrentOptState {
	case OptStateIn:
		return IntervalQuarterHourly, nil
	case OptStateMiddle:
		return IntervalDaily, nil
	default:
		// Most likely OptOut, meaning the customer declined data collection
		return "", &MeterError{
			MeterID:   meter.MeterPointID,
			Operation: "readings",
			Err:       fmt.Errorf("meter is neither opted in (IME) nor opted middle (IMS), no data available"),
		}
	}
}

// GetMeterReadings fetches up to `days` of consumption data for a meter.
// Opted-in meters are queried quarter-hourly first and fall back to daily
// granularity when the portal serves no fine-grained data for the window.
func (c *StromNetzClient) GetMeterReadings(meter Meter, days int) (*MeterData, error) {
	if days <= 0 {
		days = DefaultReadingDays
	}

	interval, err := intervalForMeter(meter)
	if err != nil {
		return nil, err
	}

	meta, err := c.GetMeterMetaDataWithCache(c.state, meter.MeterPointID)
	if err != nil {
		return nil, err
	}

	endTime := time.Now().In(c.location).Truncate(time.Hour)
	startTime := endTime.AddDate(0, 0, -days)

	readings, err := c.fetchReadings(meter.MeterPointID, interval, startTime, endTime, meta.ReadingsAvailableSince)
	if err != nil {
		return nil, err
	}

	if len(readings) == 0 && interval == IntervalQuarterHourly {
		// Fine-grained mode came back empty; the portal still serves the
		// coarse daily series for these meters
		c.logger.Warn("No quarter-hourly data, falling back to daily readings",
			"meter_id", meter.MeterPointID,
		)
		interval = IntervalDaily
		readings, err = c.fetchReadings(meter.MeterPointID, interval, startTime, endTime, meta.ReadingsAvailableSince)
		if err != nil {
			return nil, err
		}
	}

	data := &MeterData{
		MeterPointID: meter.MeterPointID,
		Interval:     interval,
		Readings:     readings,
	}
	data.trackLatest()

	c.logger.LogReadingFetch(meter.MeterPointID, interval, len(readings), days)
	return data, nil
}

// fetchReadings performs a single getMeterReading call. The window start is
// clamped to the first available reading; daily windows are clamped to
// midnight as the portal rejects partial days.
func (c *StromNetzClient) fetchReadings(meterID int, interval string, startTime, endTime, availableSince time.Time) ([]Reading, error) {
	if startTime.Before(availableSince) {
		startTime = availableSince
	}
	if interval == IntervalDaily {
		y, m, d := endTime.Date()
		endTime = time.Date(y, m, d, 0, 0, 0, 0, c.location)
	}

	payload := meterReadingRequest{
		UnitOfConsump: UnitKWH,
		Interval:      interval,
		MeterPointID:  meterID,
		FromDate:      startTime.Format("2006-01-02T15:04:05.000Z07:00"),
		ToDate:        endTime.Format("2006-01-02T15:04:05.000Z07:00"),
	}

	bodyBytes, err := c.query(PathMeterReading, payload)
	if err != nil {
		return nil, &MeterError{MeterID: meterID, Operation: "readings", Err: err}
	}

	var result meterReadingResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode readings response: %w", err)
	}
	if result.Error != "" {
		return nil, &MeterError{MeterID: meterID, Operation: "readings", Err: fmt.Errorf("portal error: %s", result.Error)}
	}

	var readings []Reading
	for _, raw := range result.Readings {
		reading := Reading{}
		for _, rv := range raw.ReadingValues {
			// Skip estimated values, they are frequently wrong
			if rv.ReadingState != ReadingStateValid {
				continue
			}
			value := rv.Value
			switch rv.ReadingType {
			case ReadingTypeConsumption:
				reading.Consumption = &value
			case ReadingTypeMeterReading:
				reading.MeterReading = &value
			}
		}
		if reading.Consumption == nil && reading.MeterReading == nil {
			continue
		}
		readTime, err := parsePortalTime(raw.ReadTime, c.location)
		if err != nil {
			c.logger.Warn("Skipping reading with unparseable timestamp",
				"meter_id", meterID,
				"read_time", raw.ReadTime,
			)
			continue
		}
		reading.ReadTime = readTime
		readings = append(readings, reading)
	}

	return readings, nil
}

// trackLatest records the newest consumption and register values in the set
func (d *MeterData) trackLatest() {
	for i := range d.Readings {
		r := &d.Readings[i]
		if r.Consumption != nil && (d.LastConsumptionAt == nil || r.ReadTime.After(*d.LastConsumptionAt)) {
			t := r.ReadTime
			d.LastConsumptionAt = &t
			d.LastConsumption = r.Consumption
		}
		if r.MeterReading != nil && (d.LastReadingAt == nil || r.ReadTime.After(*d.LastReadingAt)) {
			t := r.ReadTime
			d.LastReadingAt = &t
			d.LastReading = r.MeterReading
		}
	}
}

// GetMeterReadingsWithCache fetches meter readings with per-meter caching.
// Cached data is reused when it is fresh and covers at least the requested
// window; a shorter window is served filtered from the cached set.
func (c *StromNetzClient) GetMeterReadingsWithCache(state *AppState, meter Meter, days int) (*MeterData, error) {
	if days <= 0 {
		days = DefaultReadingDays
	}
	key := strconv.Itoa(meter.MeterPointID)

	if state != nil {
		if cached, ok := state.CachedReadings[key]; ok {
			if state.IsCacheValid(cached.Timestamp, CacheDurationReadings) && cached.Days >= days {
				c.logger.LogCacheHit("readings", time.Since(cached.Timestamp).Seconds())

				cutoff := time.Now().In(c.location).AddDate(0, 0, -days)
				filtered := &MeterData{
					MeterPointID: cached.Data.MeterPointID,
					Interval:     cached.Data.Interval,
				}
				for _, r := range cached.Data.Readings {
					if r.ReadTime.After(cutoff) {
						filtered.Readings = append(filtered.Readings, r)
					}
				}
				filtered.trackLatest()
				return filtered, nil
			}
			c.logger.LogCacheMiss("readings", "expired or window too short")
		}
	}

	data, err := c.GetMeterReadings(meter, days)
	if err != nil {
		return nil, err
	}

	if state != nil {
		if state.CachedReadings == nil {
			state.CachedReadings = make(map[string]*CachedMeterReadings)
		}
		state.CachedReadings[key] = &CachedMeterReadings{
			Data:      data,
			Timestamp: time.Now(),
			Days:      days,
		}
	}

	return data, nil
}

// GetFirstReading returns the earliest register value recorded for a meter.
// The portal only answers windowed queries, so this walks forward from
// readingsAvailableSince one probe window at a time.
func (c *StromNetzClient) GetFirstReading(meter Meter) (float64, error) {
	interval, err := intervalForMeter(meter)
	if err != nil {
		return 0, err
	}

	meta, err := c.GetMeterMetaDataWithCache(c.state, meter.MeterPointID)
	if err != nil {
		return 0, err
	}

	startTime := meta.ReadingsAvailableSince
	for probe := 0; probe < FirstReadingMaxProbes; probe++ {
		endTime := startTime.Add(FirstReadingProbeWindow)
		readings, err := c.fetchReadings(meter.MeterPointID, interval, startTime, endTime, meta.ReadingsAvailableSince)
		if err != nil {
			return 0, err
		}
		for _, r := range readings {
			if r.MeterReading != nil {
				return *r.MeterReading, nil
			}
		}
		if len(readings) > 0 {
			// Window had data but no register value; the meter never
			// reports MR in this mode
			return 0, &MeterError{
				MeterID:   meter.MeterPointID,
				Operation: "first_reading",
				Err:       fmt.Errorf("first reading does not contain a register value"),
			}
		}
		startTime = endTime
	}

	return 0, &MeterError{
		MeterID:   meter.MeterPointID,
		Operation: "first_reading",
		Err:       fmt.Errorf("no readings found after %d probe windows", FirstReadingMaxProbes),
	}
}

// parsePortalTime parses the portal's timestamp format. Timestamps may or
// may not carry a zone suffix; zoneless values are interpreted in loc.
func parsePortalTime(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.999Z07:00",
		"2006-01-02T15:04:05.999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format")
}
