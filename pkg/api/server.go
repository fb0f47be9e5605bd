package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/agent"
	"github.com/OmniCloudOrg/OmniAgent/pkg/cpi"
	"github.com/OmniCloudOrg/OmniAgent/pkg/instance"
	"github.com/OmniCloudOrg/OmniAgent/pkg/runtime"
	"github.com/OmniCloudOrg/OmniAgent/pkg/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Server handles API requests
type Server struct {
	manager *instance.Manager
	store   storage.Storage
	client  runtime.Client
	engine  *cpi.Executor
	agent   *agent.Agent
}

// NewServer creates a new API server
func NewServer(manager *instance.Manager, store storage.Storage, client runtime.Client, engine *cpi.Executor, ag *agent.Agent) *Server {
	return &Server{
		manager: manager,
		store:   store,
		client:  client,
		engine:  engine,
		agent:   ag,
	}
}

// Handler returns a handler for all API routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealthCheck)
	r.Get("/images", s.handleListImages)
	r.Get("/events", s.handleStreamEvents)

	// Container routes backed by the CPI engine
	r.Route("/containers", func(r chi.Router) {
		r.Get("/", s.handleListContainers)
		r.Post("/deploy", s.handleDeployContainer)
		r.Get("/{name}", s.handleInspectContainer)
		r.Post("/{name}/start", s.handleStartContainer)
		r.Post("/{name}/stop", s.handleStopContainer)
		r.Post("/{name}/restart", s.handleRestartContainer)
		r.Post("/{name}/delete", s.handleDeleteContainer)
	})

	// Instance routes backed by the runtime client
	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.handleListInstances)
		r.Post("/", s.handleCreateInstance)
		r.Get("/{id}", s.handleGetInstance)
		r.Patch("/{id}", s.handleUpdateInstance)
		r.Delete("/{id}", s.handleDeleteInstance)
		r.Put("/{id}/start", s.handleStartInstance)
		r.Put("/{id}/stop", s.handleStopInstance)
		r.Put("/{id}/restart", s.handleRestartInstance)
		r.Get("/{id}/logs", s.handleGetLogs)
		r.Get("/{id}/metrics", s.handleGetMetrics)
		r.Get("/{id}/metrics/history", s.handleGetMetricsHistory)
		r.Post("/{id}/network/connect", s.handleConnectNetwork)
		r.Post("/{id}/network/disconnect", s.handleDisconnectNetwork)
	})

	return r
}

// Response helpers

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// payloadResponse writes engine output. Valid JSON passes through raw so
// callers get the runtime's structure; anything else is wrapped as a JSON
// string for the caller to interpret.
func payloadResponse(w http.ResponseWriter, payload string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if json.Valid([]byte(payload)) {
		w.Write([]byte(payload))
		return
	}
	json.NewEncoder(w).Encode(payload)
}

// Landing page handler

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(indexHTML)
}

// Health check handler

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	runtimeStatus := "ok"
	if err := s.client.Ping(r.Context()); err != nil {
		status = "degraded"
		runtimeStatus = err.Error()
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"agentId": s.agent.ID,
		"name":    s.agent.Name,
		"version": s.agent.Version,
		"runtime": runtimeStatus,
	})
}

// Container handlers. Each builds a typed command and hands it to the CPI
// engine; the shell templates in the action config decide what actually runs.

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd cpi.Command) {
	payload, err := s.engine.Execute(r.Context(), cmd)
	if err != nil {
		log.Error().Err(err).Str("action", cmd.Tag()).Msg("CPI command failed")
		if errors.Is(err, cpi.ErrActionNotDefined) {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	payloadResponse(w, payload)
}

func (s *Server) handleDeployContainer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string            `json:"name"`
		Image       string            `json:"image"`
		Ports       []string          `json:"ports"`
		Environment map[string]string `json:"environment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.Image == "" {
		errorResponse(w, http.StatusBadRequest, "Image is required")
		return
	}

	log.Info().Str("name", req.Name).Str("image", req.Image).Msg("Deploying container")
	s.runCommand(w, r, cpi.CreateContainer{
		Image: req.Image,
		Name:  req.Name,
		Ports: req.Ports,
		Env:   req.Environment,
	})
}

func (s *Server) handleStartContainer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "Container name is required")
		return
	}
	s.runCommand(w, r, cpi.StartContainer{Name: name})
}

func (s *Server) handleStopContainer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "Container name is required")
		return
	}
	s.runCommand(w, r, cpi.StopContainer{Name: name})
}

func (s *Server) handleRestartContainer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "Container name is required")
		return
	}
	s.runCommand(w, r, cpi.RestartContainer{Name: name})
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "Container name is required")
		return
	}
	s.runCommand(w, r, cpi.DeleteContainer{Name: name})
}

func (s *Server) handleInspectContainer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		errorResponse(w, http.StatusBadRequest, "Container name is required")
		return
	}
	s.runCommand(w, r, cpi.InspectContainer{Name: name})
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, cpi.ListContainers{})
}

// Instance handlers

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances := s.manager.List()
	jsonResponse(w, http.StatusOK, instances)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req instance.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.Image == "" {
		errorResponse(w, http.StatusBadRequest, "Image is required")
		return
	}

	inst, err := s.manager.Create(r.Context(), &req)
	if err != nil {
		log.Error().Err(err).Str("name", req.Name).Str("image", req.Image).Msg("Failed to create instance")
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("id", inst.ID).Str("name", inst.Name).Str("image", inst.Image).Msg("Instance creation initiated")
	jsonResponse(w, http.StatusCreated, inst)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	inst, err := s.manager.Get(id)
	if err != nil {
		errorResponse(w, http.StatusNotFound, "Instance not found")
		return
	}

	jsonResponse(w, http.StatusOK, inst)
}

func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	var req instance.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := s.manager.Get(id); err != nil {
		errorResponse(w, http.StatusNotFound, "Instance not found")
		return
	}

	inst, err := s.manager.Update(r.Context(), id, &req)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	if err := s.manager.Delete(r.Context(), id); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	if err := s.manager.Start(r.Context(), id); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	inst, _ := s.manager.Get(id)
	jsonResponse(w, http.StatusOK, inst)
}

func (s *Server) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	if err := s.manager.Stop(r.Context(), id); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	inst, _ := s.manager.Get(id)
	jsonResponse(w, http.StatusOK, inst)
}

func (s *Server) handleRestartInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	if err := s.manager.Restart(r.Context(), id); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	inst, _ := s.manager.Get(id)
	jsonResponse(w, http.StatusOK, inst)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	tail := 0
	if t := r.URL.Query().Get("tail"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil || n < 0 {
			errorResponse(w, http.StatusBadRequest, "Invalid tail value")
			return
		}
		tail = n
	}

	logs, err := s.manager.Logs(r.Context(), id, tail)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"logs": logs})
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	inst, err := s.manager.Get(id)
	if err != nil {
		errorResponse(w, http.StatusNotFound, "Instance not found")
		return
	}

	if inst.ContainerID == "" {
		errorResponse(w, http.StatusBadRequest, "Instance has no container")
		return
	}

	stats, err := s.manager.GetContainerStats(r.Context(), inst.ContainerID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Record metrics for history
	s.manager.RecordMetrics(id, instance.MetricsPoint{
		Timestamp:     time.Now(),
		CPUPercent:    stats.CPUPercent,
		MemoryUsage:   stats.MemoryUsage,
		MemoryLimit:   stats.MemoryLimit,
		MemoryPercent: stats.MemoryPercent,
		NetworkRx:     stats.NetworkRx,
		NetworkTx:     stats.NetworkTx,
	})

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"cpuPercent":    stats.CPUPercent,
		"memoryUsage":   stats.MemoryUsage,
		"memoryLimit":   stats.MemoryLimit,
		"memoryPercent": stats.MemoryPercent,
		"networkRx":     stats.NetworkRx,
		"networkTx":     stats.NetworkTx,
	})
}

func (s *Server) handleGetMetricsHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	history := s.manager.GetMetricsHistory(id)
	jsonResponse(w, http.StatusOK, history)
}

func (s *Server) handleConnectNetwork(w http.ResponseWriter, r *http.Request) {
	s.handleNetworkChange(w, r, s.manager.ConnectNetwork)
}

func (s *Server) handleDisconnectNetwork(w http.ResponseWriter, r *http.Request) {
	s.handleNetworkChange(w, r, s.manager.DisconnectNetwork)
}

func (s *Server) handleNetworkChange(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, id, network string) error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		errorResponse(w, http.StatusBadRequest, "Instance ID is required")
		return
	}

	var req struct {
		Network string `json:"network"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Network == "" {
		errorResponse(w, http.StatusBadRequest, "Network name is required")
		return
	}

	if err := change(r.Context(), id, req.Network); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	inst, _ := s.manager.Get(id)
	jsonResponse(w, http.StatusOK, inst)
}

// System handlers

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.client.ListImages(r.Context())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if images == nil {
		images = []string{}
	}
	jsonResponse(w, http.StatusOK, images)
}

// handleStreamEvents forwards runtime lifecycle events as Server-Sent Events
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	events, errs := s.client.StreamEvents(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-errs:
			if err != nil {
				log.Warn().Err(err).Msg("Event stream ended")
			}
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// corsMiddleware allows browser clients on other origins to reach the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
