package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JustinWangJP/Deep-Research-Agents/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secured by the fronting proxy
}

// statusEvent is one frame on the session event feed.
type statusEvent struct {
	Type   string               `json:"type"` // "status" or "terminal"
	Status models.SessionStatus `json:"status"`
}

// handleEvents streams session status changes over a websocket. The feed
// polls the session record and pushes a frame on every observable change,
// closing after the terminal frame.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Reader pump; client frames are discarded, but reads drive pong
	// handling and disconnect detection.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	last := models.SessionStatus{State: "none"}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-poll.C:
			record, err := s.sessions.Get(r.Context(), id)
			if err != nil {
				s.logger.Warn("Event feed lost its session",
					zap.String("session_id", id),
					zap.Error(err),
				)
				return
			}
			status := record.Status
			if !statusChanged(last, status) {
				continue
			}
			last = status

			event := statusEvent{Type: "status", Status: status}
			if status.Terminal() {
				event.Type = "terminal"
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if status.Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, status.State),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

// statusChanged ignores the update timestamp so unchanged projections do
// not produce duplicate frames.
func statusChanged(prev, next models.SessionStatus) bool {
	return prev.State != next.State ||
		prev.ActiveStage != next.ActiveStage ||
		prev.Partial != next.Partial ||
		prev.WorkersDone != next.WorkersDone ||
		prev.WorkersTotal != next.WorkersTotal ||
		prev.FailureReason != next.FailureReason
}
