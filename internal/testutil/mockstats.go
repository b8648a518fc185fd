// Package testutil provides testing utilities for the NBA stats backfill.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock stats endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockStatsAPI is a configurable mock stats server for testing.
type MockStatsAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount    int
	RequestsByPath  map[string]int
	LastRequestURL  string
	LastUserAgent   string
}

// NewMockStatsAPI creates a new mock stats server.
func NewMockStatsAPI() *MockStatsAPI {
	mock := &MockStatsAPI{
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		RequestsByPath: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.RequestsByPath[r.URL.Path]++
		mock.LastRequestURL = r.URL.String()
		mock.LastUserAgent = r.Header.Get("User-Agent")
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockStatsAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockStatsAPI) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockStatsAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockStatsAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetResponses configures a sequence of responses for a path, consumed
// one per request; the last repeats once the sequence is exhausted.
func (m *MockStatsAPI) SetResponses(path string, responses ...MockResponse) {
	var mu sync.Mutex
	idx := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[idx]
		if idx < len(responses)-1 {
			idx++
		}
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the total number of requests received.
func (m *MockStatsAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests for one path.
func (m *MockStatsAPI) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestsByPath[path]
}

// defaultHandler serves an empty but well-formed stats response.
func (m *MockStatsAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(NewDatasetBody("DefaultSet")))
}

// GameLogGame is one game entry for building league game log fixtures.
type GameLogGame struct {
	ID   string
	Date string // "2006-01-02"
}

// NewGameLogBody builds a league game log response with two rows per
// game (one per team), mirroring the real API shape.
func NewGameLogBody(games ...GameLogGame) string {
	rows := make([][]any, 0, len(games)*2)
	for _, g := range games {
		rows = append(rows,
			[]any{g.ID, g.Date, "HOME"},
			[]any{g.ID, g.Date, "AWAY"},
		)
	}

	resp := map[string]any{
		"resource": "leaguegamelog",
		"resultSets": []map[string]any{{
			"name":    "LeagueGameLog",
			"headers": []string{"GAME_ID", "GAME_DATE", "MATCHUP"},
			"rowSet":  rows,
		}},
	}

	body, err := json.Marshal(resp)
	if err != nil {
		panic(fmt.Sprintf("marshal game log fixture: %v", err))
	}
	return string(body)
}

// NewDatasetBody builds a minimal valid dataset response.
func NewDatasetBody(setName string) string {
	resp := map[string]any{
		"resource": "boxscore",
		"resultSets": []map[string]any{{
			"name":    setName,
			"headers": []string{"GAME_ID", "PTS"},
			"rowSet":  [][]any{{"0022300001", 110}},
		}},
	}

	body, err := json.Marshal(resp)
	if err != nil {
		panic(fmt.Sprintf("marshal dataset fixture: %v", err))
	}
	return string(body)
}

// NewOKResponse creates a 200 response with a valid stats body.
func NewOKResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
