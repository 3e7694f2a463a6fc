// Package api exposes the coordinator's control surface over HTTP. Pods
// call POST /shardmgr/register on startup and POST /shardmgr/unregister
// on graceful shutdown; GET /shardmgr/assignments serves the current
// shard-to-pod map. The paths mirror the control endpoints every pod
// serves for the coordinator.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/sharding"
	"github.com/codewandler/shardmgr-go/internal/codec"
)

// Coordinator is the slice of [manager.Manager] the control surface needs.
type Coordinator interface {
	Register(ctx context.Context, pod sharding.Pod) error
	Unregister(ctx context.Context, addr sharding.PodAddress) error
	GetAssignments() map[sharding.ShardID]*sharding.PodAddress
}

var _ Coordinator = (*manager.Manager)(nil)

type HandlerConfig struct {
	Log *slog.Logger
}

// NewHandler returns the HTTP handler serving the control surface on top
// of c.
func NewHandler(c Coordinator, cfg HandlerConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	h := &handler{log: log, coordinator: c}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /shardmgr/register", h.register)
	mux.HandleFunc("POST /shardmgr/unregister", h.unregister)
	mux.HandleFunc("GET /shardmgr/assignments", h.assignments)
	return mux
}

type handler struct {
	log         *slog.Logger
	coordinator Coordinator
}

type registerRequest struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Version string `json:"version"`
}

type unregisterRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Host == "" || body.Port <= 0 || body.Version == "" {
		http.Error(w, "host, port and version are required", http.StatusBadRequest)
		return
	}

	pod := sharding.Pod{
		Address: sharding.PodAddress{Host: body.Host, Port: body.Port},
		Version: body.Version,
	}
	if err := h.coordinator.Register(r.Context(), pod); err != nil {
		h.log.Error("pod registration failed",
			slog.String("pod", pod.Address.String()),
			slog.Any("error", err),
		)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) unregister(w http.ResponseWriter, r *http.Request) {
	var body unregisterRequest
	if err := decodeBody(r, &body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Host == "" || body.Port <= 0 {
		http.Error(w, "host and port are required", http.StatusBadRequest)
		return
	}

	addr := sharding.PodAddress{Host: body.Host, Port: body.Port}
	if err := h.coordinator.Unregister(r.Context(), addr); err != nil {
		h.log.Error("pod unregistration failed",
			slog.String("pod", addr.String()),
			slog.Any("error", err),
		)
		http.Error(w, "unregistration failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) assignments(w http.ResponseWriter, r *http.Request) {
	data, err := manager.EncodeAssignments(h.coordinator.GetAssignments())
	if err != nil {
		h.log.Error("encoding assignments failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return codec.Default.Unmarshal(data, v)
}
