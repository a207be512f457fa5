package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jmylchreest/dubarr/internal/models"
	"github.com/jmylchreest/dubarr/internal/service"
	"github.com/jmylchreest/dubarr/internal/service/progress"
)

const (
	// wsWriteTimeout bounds one event write to a client.
	wsWriteTimeout = 10 * time.Second
	// wsPingInterval keeps NAT mappings and proxies alive.
	wsPingInterval = 30 * time.Second
)

// PushHandler serves the per-task push channel. The server sends JSON
// events (progress_update, batch_state); client messages are heartbeat only
// and are discarded.
type PushHandler struct {
	tasks    *service.TaskService
	registry *progress.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewPushHandler creates a new push channel handler.
func NewPushHandler(tasks *service.TaskService, registry *progress.Registry, logger *slog.Logger) *PushHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushHandler{
		tasks:    tasks,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The UI is served from arbitrary origins in local deployments.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "push_handler"),
	}
}

// Register mounts the push route on the router.
func (h *PushHandler) Register(router chi.Router) {
	router.Get("/ws/tasks/{task_id}", h.Serve)
}

// Serve upgrades the connection and streams the task's events until the
// client disconnects, the task is deleted, or a write fails.
func (h *PushHandler) Serve(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	id, err := models.ParseULID(taskID)
	if err != nil {
		http.Error(w, "invalid task ID", http.StatusBadRequest)
		return
	}
	if _, err := h.tasks.Get(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
		} else {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub, unsubscribe := h.registry.Subscribe(id.String())
	defer unsubscribe()

	h.logger.Debug("push client connected",
		slog.String("task_id", id.String()),
		slog.String("subscriber_id", sub.ID),
	)

	// Reader: discard client messages, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				// Registry dropped us: task deleted or slow consumer.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("push write failed, dropping client",
					slog.String("task_id", id.String()),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
