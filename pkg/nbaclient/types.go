package nbaclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// statsResponse is the envelope every stats endpoint returns. Only the
// fields needed for validation and discovery are modeled; dataset
// payloads pass through as raw bytes once the shape checks out.
type statsResponse struct {
	Resource   string          `json:"resource"`
	Parameters json.RawMessage `json:"parameters"`
	ResultSets []resultSet     `json:"resultSets"`
}

// resultSet is one tabular block within a stats response. Row cells are
// heterogeneous (strings, numbers, nulls), so they stay as interface values.
type resultSet struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
	RowSet  [][]any  `json:"rowSet"`
}

// columnIndex returns the position of a header, or -1.
func (rs *resultSet) columnIndex(name string) int {
	for i, h := range rs.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// stringCell reads a row cell as a string, tolerating nulls.
func stringCell(row []any, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return s
}

// parseStatsResponse validates the response envelope. A 200 with an
// unexpected body (the API serves HTML error pages with 200 on some
// failures) must be caught here, before payload bytes enter the core.
func parseStatsResponse(body []byte) (*statsResponse, error) {
	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(resp.ResultSets) == 0 {
		return nil, fmt.Errorf("%w: no result sets", ErrInvalidResponse)
	}
	return &resp, nil
}

// parseGameDate handles the two date formats the league game log uses
// ("2023-10-24" and "2023-10-24T00:00:00").
func parseGameDate(value string) (time.Time, error) {
	if idx := strings.IndexByte(value, 'T'); idx > 0 {
		value = value[:idx]
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse game date %q: %w", value, err)
	}
	return t, nil
}
