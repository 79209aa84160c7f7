package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository/redis"
)

const writeWait = 10 * time.Second

// hub fans plan events out to websocket clients.
type hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger: logger.Named("events"),
		upgrader: websocket.Upgrader{
			// Origins are already filtered by the CORS layer
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.logger.Info("Plan event client connected", zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		h.logger.Info("Plan event client disconnected")
	}()

	// Reads only detect the disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast sends an event to every connected client.
func (h *hub) broadcast(event redis.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("Failed to send event to client", zap.Error(err))
		}
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		client.Close()
	}
}

// notifier is the plan cache of the DRS engine. With Redis it caches and publishes
// through Redis, whose subscription feeds the hub of every instance. Without Redis it
// feeds the local hub directly.
type notifier struct {
	cache *redis.Cache
	hub   *hub
}

func (n *notifier) SetPlan(ctx context.Context, rec *domain.PlanRecord) error {
	if n.cache != nil {
		return n.cache.SetPlan(ctx, rec)
	}
	event := redis.PlanEvent(rec)
	event.Timestamp = time.Now()
	n.hub.broadcast(event)
	return nil
}

func (n *notifier) GetPlan(ctx context.Context, id string) (*domain.PlanRecord, error) {
	if n.cache == nil {
		return nil, domain.ErrNotFound
	}
	return n.cache.GetPlan(ctx, id)
}

func (s *Server) planEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r)
}

// forwardEvents relays the plan events published by any instance to the local clients.
func (s *Server) forwardEvents(ctx context.Context) {
	for event := range s.cache.Subscribe(ctx, redis.PlanChannel) {
		s.hub.broadcast(event)
	}
	s.logger.Debug("Plan event subscription closed")
}
