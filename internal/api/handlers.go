package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// AutoAssignHandler triggers one auto-assign run. POST only, no body.
func (s *Server) AutoAssignHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "use POST", r.URL.Path)
		return
	}
	// A client hanging up must not abort a run that may already be committing.
	sum, err := s.Engine.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		status, title := runProblem(err)
		log.Printf("auto-assign status=%d err=%v", status, err)
		writeProblem(w, status, title, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// DriverAssignmentsHandler serves /v1/drivers/{id}/assignments/stream (SSE)
// and /v1/drivers/{id}/assignments/ws (WebSocket).
func (s *Server) DriverAssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/drivers/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] != "assignments" {
		writeProblem(w, http.StatusNotFound, "Not Found", "unknown driver resource", path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := parts[0]
	switch parts[2] {
	case "stream":
		s.streamAssignments(w, r, id)
	case "ws":
		s.assignmentsWS(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "unknown driver resource", path)
	}
}

func (s *Server) streamAssignments(w http.ResponseWriter, r *http.Request, driverID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(driverID)
	defer s.Broker.Unsubscribe(driverID, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"driverId\":%q,\"ts\":%q}\n\n", driverID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: %s\n", EventOrderAssigned)
			fmt.Fprintf(w, "id: %s\n", evt.OrderID)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			writeProblem(w, 503, "Not Ready", "redis: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
