package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/callwatch/backend/internal/config"
	"github.com/callwatch/backend/internal/types"
)

// SnapshotSource provides the latest full state for newly-connected
// clients, so a dashboard renders without waiting for the next tick.
type SnapshotSource interface {
	LastSnapshot() *types.Snapshot
}

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub       *Hub
	config    *config.Config
	snapshots SnapshotSource
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, snapshots SnapshotSource, logger zerolog.Logger) *Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub:       hub,
		config:    cfg,
		snapshots: snapshots,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed[origin] || allowed["*"]
			},
		},
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	// Create new client
	client := NewClient(h.hub, conn, h.config, h.logger)

	// Register client with hub
	h.hub.register <- client

	// Start client pumps
	client.Start()

	// Seed the new client with the current state
	if h.snapshots != nil {
		if snap := h.snapshots.LastSnapshot(); snap != nil {
			if data, err := json.Marshal(snap); err == nil {
				select {
				case client.send <- data:
				default:
				}
			}
		}
	}
}
