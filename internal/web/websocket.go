package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rdstrack/internal/events"
	"rdstrack/internal/pipeline"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // diagnostics are served on a local address
	},
}

// Message is one frame on /ws: the station state on connect, then events.
type Message struct {
	Type  string                 `json:"type"`
	State *pipeline.StationState `json:"state,omitempty"`
	Event *events.Event          `json:"event,omitempty"`
}

// readLoop drains client frames so control messages are processed, and
// closes the returned channel when the client goes away.
func readLoop(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return closed
}

func writeJSONFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// handleEvents streams pipeline events. ?pi= (hex) restricts the stream
// to one station and sends its current state first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var pi uint16
	if v := r.URL.Query().Get("pi"); v != "" {
		var err error
		if pi, err = parsePI(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe(pi)
	defer s.hub.Unsubscribe(updates)
	closed := readLoop(conn)

	if pi != 0 {
		if st, ok := s.stations.Snapshot(pi); ok {
			if err := writeJSONFrame(conn, Message{Type: "state", State: &st}); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSONFrame(conn, Message{Type: "event", Event: &e}); err != nil {
				s.logger.Debug("WebSocket write: %v", err)
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-closed:
			return

		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handleJobUpdates streams the progress of one replay job until it finishes.
func (s *Server) handleJobUpdates(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}
	job, err := s.jobMgr.GetJob(jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the initial state so no update is lost
	updates := s.jobMgr.Subscribe(jobID)
	defer s.jobMgr.Unsubscribe(jobID, updates)
	closed := readLoop(conn)

	if job, err = s.jobMgr.GetJob(jobID); err != nil {
		return
	}
	if err := writeJSONFrame(conn, job); err != nil || job.Status.Finished() {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case job, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSONFrame(conn, job); err != nil {
				s.logger.Debug("WebSocket write: %v", err)
				return
			}
			// Close connection if job is done
			if job.Status.Finished() {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-closed:
			return

		case <-s.ctx.Done():
			return
		}
	}
}
