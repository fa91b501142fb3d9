package storage

import (
	"encoding/json"
	"time"
)

// Call is one intercepted database statement.
type Call struct {
	Query    string   `json:"query"`
	Stack    string   `json:"stack"`
	Time     float64  `json:"time"`     // start, seconds since epoch
	Duration float64  `json:"duration"` // milliseconds, 3 decimals
	Columns  []string `json:"columns,omitempty"`
}

// HTTPInfo is the request snapshot kept with the detail record.
type HTTPInfo struct {
	Headers map[string]string `json:"headers"`
	Data    map[string]any    `json:"data"`
}

// Summary is the list entry for one recorded request.
type Summary struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Command     string    `json:"cmd"`
	Time        time.Time `json:"time"`
	Queries     int       `json:"queries"`
	TimeQueries float64   `json:"time_queries"`
	Duration    float64   `json:"duration"`
	Method      string    `json:"method"`
}

// Trace is the detail record for one recorded request. Calls is always
// written, as an empty list when the request ran no statements.
type Trace struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Command     string    `json:"cmd"`
	Time        time.Time `json:"time"`
	Queries     int       `json:"queries"`
	TimeQueries float64   `json:"time_queries"`
	Duration    float64   `json:"duration"`
	Method      string    `json:"method"`
	Calls       []Call    `json:"calls"`
	HTTP        *HTTPInfo `json:"http,omitempty"`
}

// MarshalJSON writes a nil Calls as [].
func (t Trace) MarshalJSON() ([]byte, error) {
	type plain Trace
	if t.Calls == nil {
		t.Calls = []Call{}
	}
	return json.Marshal(plain(t))
}

// Summary returns the list form of t.
func (t *Trace) Summary() Summary {
	return Summary{
		ID:          t.ID,
		Path:        t.Path,
		Command:     t.Command,
		Time:        t.Time,
		Queries:     t.Queries,
		TimeQueries: t.TimeQueries,
		Duration:    t.Duration,
		Method:      t.Method,
	}
}
