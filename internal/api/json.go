package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"autoassign/internal/assign"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// runProblem maps an engine error to a status and title.
// Anything unrecognised is a 500.
func runProblem(err error) (int, string) {
	switch {
	case errors.Is(err, assign.ErrNoDrivers):
		return http.StatusBadRequest, "No drivers available"
	case errors.Is(err, assign.ErrRunInProgress):
		return http.StatusConflict, "Run in progress"
	case errors.Is(err, assign.ErrConfig):
		return http.StatusInternalServerError, "Auto-assign not configured"
	case errors.Is(err, assign.ErrUpstream):
		return http.StatusInternalServerError, "Upstream read failed"
	default:
		return http.StatusInternalServerError, "Auto-assign failed"
	}
}
