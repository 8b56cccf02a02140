package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/config"
)

// wireEnvelope is the JSON frame carried by each SSE "data:" line, per
// SPEC_FULL.md §3's wire envelope — the teacher's RunEvent shape
// (schema_version/type/correlation/payload) simplified to this domain's
// type/deviceId/payload/timestamp.
type wireEnvelope struct {
	Type      bus.MessageType `json:"type"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Payload   interface{}     `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// handleEvents streams server→client pushes as SSE frames, ported from
// handleStreamEvents: same text/event-stream headers, :keepalive comment
// every config.SSEHeartbeatInterval, one frame per bus envelope. Unlike
// the teacher's cursor-replayable run log, the bus has no history — a
// client only sees messages published after it connects. An optional
// ?deviceId= query parameter subscribes the connection to that device's
// scoped messages at connect time.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	id := r.Header.Get("X-Client-Id")
	if id == "" {
		id = uuid.NewString()
	}
	ch := s.bus.Connect(id)
	defer s.bus.Disconnect(id)

	if deviceID := r.URL.Query().Get("deviceId"); deviceID != "" {
		if sess, err := s.sessions.GetSession(deviceID); err == nil {
			sess.Subscribe(id)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(config.SSEHeartbeatInterval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		case env, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(wireEnvelope{
				Type:      env.Type,
				DeviceID:  env.DeviceID,
				Payload:   env.Payload,
				Timestamp: time.Now(),
			})
			if err != nil {
				continue
			}
			seq++
			fmt.Fprintf(w, "event: %s\n", env.Type)
			fmt.Fprintf(w, "id: %d\n", seq)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.healthr.Collect())
}

// handleReadyz reports readiness once the session manager is wired
// (mirrors the teacher's runManager != nil readiness check, generalized
// to "has the device fleet been constructed").
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := s.sessions != nil
	status := "ready"
	if !ready {
		status = "not_ready"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"ready":  ready,
	})
}
