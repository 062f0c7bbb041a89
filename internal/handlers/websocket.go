package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dossier/internal/common"
	"github.com/ternarybob/dossier/internal/models"
	"github.com/ternarybob/dossier/internal/services/broadcast"
)

const (
	defaultWriteWait = 10 * time.Second
	closeWait        = time.Second
	maxClientMessage = 4096
)

// StatusHub is the subset of the broadcast manager the stream endpoint needs
type StatusHub interface {
	Attach(jobID string, sub broadcast.Subscriber)
	Detach(sub broadcast.Subscriber, jobID string)
	Replay(ctx context.Context, jobID string, sub broadcast.Subscriber, event models.StatusEvent) bool
}

// JobLookup returns the live record of a job
type JobLookup interface {
	Get(jobID string) (models.JobRecord, error)
}

// WebSocketHandler streams a job's status events to websocket clients
type WebSocketHandler struct {
	hub      StatusHub
	jobs     JobLookup
	upgrader websocket.Upgrader
	logger   arbor.ILogger
}

func NewWebSocketHandler(hub StatusHub, jobs JobLookup, config *common.WebSocketConfig, allowedOrigins []string, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:    hub,
		jobs:   jobs,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// HandleStatusStream handles GET /research/ws/{job_id}. The connection is passive:
// client messages are read only to notice disconnects.
func (h *WebSocketHandler) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to upgrade WebSocket connection")
		return
	}

	sub := newWSSubscriber(conn)
	h.hub.Attach(jobID, sub)

	defer func() {
		h.hub.Detach(sub, jobID)
		sub.Close()
		h.logger.Debug().Str("job_id", jobID).Str("subscriber", sub.ID()).Msg("WebSocket client disconnected")
	}()

	if record, err := h.jobs.Get(jobID); err == nil {
		h.hub.Replay(context.Background(), jobID, sub, models.SnapshotEvent(record, "Connected to status stream"))
	}

	conn.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket error")
			}
			return
		}
	}
}

// originChecker allows requests without an Origin header, and any origin when
// the list is empty or contains "*"
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// wsSubscriber adapts a websocket connection to broadcast.Subscriber
type wsSubscriber struct {
	id        string
	conn      *websocket.Conn
	mu        sync.Mutex // one writer at a time
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (s *wsSubscriber) ID() string {
	return s.id
}

// Send writes one status_update frame, bounded by ctx's deadline
func (s *wsSubscriber) Send(ctx context.Context, event models.StatusEvent) error {
	data, err := json.Marshal(models.WSMessage{
		Type: models.WSMessageStatusUpdate,
		Data: event,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection; safe to call repeatedly
func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		err = s.conn.Close()
	})
	return err
}
