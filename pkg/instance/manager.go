// Package instance manages the containers this agent deployed and tracks
// their state in storage, reconciling against the runtime in the background.
package instance

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/runtime"
	"github.com/OmniCloudOrg/OmniAgent/pkg/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Instance status values
const (
	StatusCreating = "creating"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// StopTimeoutSeconds is how long a container gets to exit before SIGKILL
const StopTimeoutSeconds = 30

// CreateRequest holds parameters for deploying an instance
type CreateRequest struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Ports       []string          `json:"ports,omitempty"` // "hostPort:containerPort"
	Environment map[string]string `json:"environment,omitempty"`
	Volumes     map[string]string `json:"volumes,omitempty"`
	MemoryLimit int64             `json:"memoryLimit,omitempty"` // MB
	CPULimit    float64           `json:"cpuLimit,omitempty"`
}

// UpdateRequest holds the fields that may change on an existing instance.
// Applying one recreates the container.
type UpdateRequest struct {
	Image       string            `json:"image,omitempty"`
	Ports       []string          `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Volumes     map[string]string `json:"volumes,omitempty"`
}

// Manager handles instance operations
type Manager struct {
	store          storage.Storage
	client         runtime.Client // Interface type, not concrete
	agentID        string
	metricsHistory *MetricsHistory
}

// validNameRegex matches names Docker accepts for containers
var validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// sanitizeName validates and returns a safe container name
func sanitizeName(name string) (string, error) {
	if len(name) < 1 || len(name) > 63 {
		return "", fmt.Errorf("name must be 1-63 characters")
	}
	if !validNameRegex.MatchString(name) {
		return "", fmt.Errorf("name must start with an alphanumeric and contain only alphanumeric, underscore, period, or hyphen")
	}
	return name, nil
}

// parsePorts converts "hostPort:containerPort" specs into runtime port bindings
func parsePorts(specs []string) (map[string]string, error) {
	bindings := make(map[string]string, len(specs))
	for _, spec := range specs {
		host, container, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid port mapping %q, expected hostPort:containerPort", spec)
		}
		if _, err := strconv.Atoi(host); err != nil {
			return nil, fmt.Errorf("invalid host port %q", host)
		}
		if _, err := strconv.Atoi(container); err != nil {
			return nil, fmt.Errorf("invalid container port %q", container)
		}
		bindings[container+"/tcp"] = host
	}
	return bindings, nil
}

// envList flattens an environment map into sorted KEY=value form
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// NewManager creates a new instance manager
func NewManager(store storage.Storage, client runtime.Client, agentID string) *Manager {
	return &Manager{
		store:          store,
		client:         client,
		agentID:        agentID,
		metricsHistory: NewMetricsHistory(),
	}
}

// containerConfig builds the runtime config for an instance record
func (m *Manager) containerConfig(inst *storage.InstanceRecord) (*runtime.ContainerConfig, error) {
	bindings, err := parsePorts(inst.Ports)
	if err != nil {
		return nil, err
	}

	return &runtime.ContainerConfig{
		Name:         inst.Name,
		Image:        inst.Image,
		Env:          envList(inst.Environment),
		PortBindings: bindings,
		Volumes:      inst.Volumes,
		MemoryLimit:  inst.MemoryLimit,
		CPULimit:     inst.CPULimit,
		Labels: map[string]string{
			"omniagent.managed": "true",
			"omniagent.id":      inst.ID,
		},
	}, nil
}

// Create deploys a new instance.
// Returns immediately with status "creating", actual provisioning happens in background
func (m *Manager) Create(ctx context.Context, req *CreateRequest) (*storage.InstanceRecord, error) {
	if _, err := sanitizeName(req.Name); err != nil {
		return nil, fmt.Errorf("invalid name: %w", err)
	}
	if req.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	if existing, err := m.store.GetInstanceByName(req.Name); err == nil && existing != nil {
		return nil, fmt.Errorf("instance name already in use: %s", req.Name)
	}
	if _, err := parsePorts(req.Ports); err != nil {
		return nil, err
	}

	id := "inst-" + uuid.New().String()[:8]
	now := time.Now()

	inst := &storage.InstanceRecord{
		ID:          id,
		Name:        req.Name,
		Image:       req.Image,
		Status:      StatusCreating,
		Ports:       req.Ports,
		Environment: req.Environment,
		Volumes:     req.Volumes,
		MemoryLimit: req.MemoryLimit * 1024 * 1024, // Convert MB to bytes
		CPULimit:    req.CPULimit,
		AgentID:     m.agentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Save to storage immediately so the record is visible while provisioning
	if err := m.store.CreateInstance(inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	// Process container creation in background
	go m.provision(inst)

	// Return immediately with "creating" status
	return inst, nil
}

// provision runs in background to pull the image and create/start the container
func (m *Manager) provision(inst *storage.InstanceRecord) {
	ctx := context.Background()

	log.Info().
		Str("id", inst.ID).
		Str("name", inst.Name).
		Str("image", inst.Image).
		Msg("Starting instance provisioning")

	if err := m.startFresh(ctx, inst); err != nil {
		log.Error().Err(err).Str("id", inst.ID).Msg("Provisioning failed")
		inst.Status = StatusError
		inst.ErrorMessage = err.Error()
		inst.UpdatedAt = time.Now()
		m.store.UpdateInstance(inst)
		return
	}

	inst.Status = StatusRunning
	inst.ErrorMessage = "" // Clear any previous error
	inst.UpdatedAt = time.Now()
	m.store.UpdateInstance(inst)

	log.Info().
		Str("id", inst.ID).
		Str("name", inst.Name).
		Str("container_id", shortID(inst.ContainerID)).
		Msg("Instance provisioned successfully")
}

// startFresh pulls, creates, and starts a container for the record,
// setting inst.ContainerID on the way through
func (m *Manager) startFresh(ctx context.Context, inst *storage.InstanceRecord) error {
	log.Info().Str("id", inst.ID).Str("image", inst.Image).Msg("Pulling image (this may take a few minutes)...")
	if err := m.client.PullImage(ctx, inst.Image); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	cfg, err := m.containerConfig(inst)
	if err != nil {
		return err
	}

	containerID, err := m.client.CreateContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	inst.ContainerID = containerID
	log.Info().Str("id", inst.ID).Str("container_id", shortID(containerID)).Msg("Container created")

	if err := m.client.StartContainer(ctx, containerID); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Get retrieves an instance by ID
func (m *Manager) Get(id string) (*storage.InstanceRecord, error) {
	return m.store.GetInstance(id)
}

// List returns all instances
func (m *Manager) List() []*storage.InstanceRecord {
	return m.store.ListInstances()
}

// SyncAllStatuses queries the container runtime for actual status and updates any that differ.
// This is called by the background status sync worker.
func (m *Manager) SyncAllStatuses(ctx context.Context) {
	for _, inst := range m.store.ListInstances() {
		m.syncStatus(ctx, inst)
	}
}

// syncStatus queries the runtime for actual container state and updates inst.Status if needed
func (m *Manager) syncStatus(ctx context.Context, inst *storage.InstanceRecord) {
	// Skip if no container or still creating
	if inst.ContainerID == "" || inst.Status == StatusCreating {
		return
	}

	actualStatus, err := m.client.GetContainerStatus(ctx, inst.ContainerID)
	if err != nil {
		// If we can't query and it was running, mark as error
		if inst.Status == StatusRunning {
			log.Debug().Err(err).Str("id", inst.ID).Msg("Container not accessible")
			inst.Status = StatusError
			inst.ErrorMessage = "Container not accessible"
			inst.UpdatedAt = time.Now()
			m.store.UpdateInstance(inst)
		}
		return
	}

	// If actual status differs from stored status, update it
	if actualStatus != inst.Status {
		log.Info().
			Str("id", inst.ID).
			Str("old_status", inst.Status).
			Str("new_status", actualStatus).
			Msg("Container status changed externally")

		inst.Status = actualStatus
		if actualStatus == StatusRunning {
			inst.ErrorMessage = ""
		}
		inst.UpdatedAt = time.Now()
		m.store.UpdateInstance(inst)
	}
}

// Start starts a stopped instance
func (m *Manager) Start(ctx context.Context, id string) error {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}

	if inst.ContainerID == "" {
		return fmt.Errorf("no container associated with instance")
	}

	if err := m.client.StartContainer(ctx, inst.ContainerID); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	inst.Status = StatusRunning
	inst.ErrorMessage = ""
	inst.UpdatedAt = time.Now()
	return m.store.UpdateInstance(inst)
}

// Stop stops a running instance
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}

	if inst.ContainerID == "" {
		return fmt.Errorf("no container associated with instance")
	}

	if err := m.client.StopContainer(ctx, inst.ContainerID, StopTimeoutSeconds); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	inst.Status = StatusStopped
	inst.UpdatedAt = time.Now()
	return m.store.UpdateInstance(inst)
}

// Restart restarts an instance
func (m *Manager) Restart(ctx context.Context, id string) error {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}

	if inst.ContainerID == "" {
		return fmt.Errorf("no container associated with instance")
	}

	if err := m.client.RestartContainer(ctx, inst.ContainerID, StopTimeoutSeconds); err != nil {
		return fmt.Errorf("failed to restart container: %w", err)
	}

	inst.Status = StatusRunning
	inst.ErrorMessage = ""
	inst.UpdatedAt = time.Now()
	return m.store.UpdateInstance(inst)
}

// Delete deletes an instance and its container
func (m *Manager) Delete(ctx context.Context, id string) error {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}

	// Remove container if exists
	if inst.ContainerID != "" {
		if err := m.client.RemoveContainer(ctx, inst.ContainerID, true); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to remove container")
		}
	}

	m.metricsHistory.Delete(id)
	return m.store.DeleteInstance(id)
}

// Update applies an update by recreating the instance's container.
// Unlike Create this runs synchronously so the caller sees the final state.
func (m *Manager) Update(ctx context.Context, id string, req *UpdateRequest) (*storage.InstanceRecord, error) {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return nil, err
	}

	log.Info().Str("id", id).Str("name", inst.Name).Msg("Recreating instance")

	if req.Image != "" {
		inst.Image = req.Image
	}
	if req.Ports != nil {
		if _, err := parsePorts(req.Ports); err != nil {
			return nil, err
		}
		inst.Ports = req.Ports
	}
	if req.Environment != nil {
		inst.Environment = req.Environment
	}
	if req.Volumes != nil {
		inst.Volumes = req.Volumes
	}

	// Tear down the existing container before recreating
	if inst.ContainerID != "" {
		if err := m.client.StopContainer(ctx, inst.ContainerID, StopTimeoutSeconds); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to stop container before recreate")
		}
		if err := m.client.RemoveContainer(ctx, inst.ContainerID, true); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to remove container before recreate")
		}
		inst.ContainerID = ""
	}

	if err := m.startFresh(ctx, inst); err != nil {
		inst.Status = StatusError
		inst.ErrorMessage = err.Error()
		inst.UpdatedAt = time.Now()
		m.store.UpdateInstance(inst)
		return nil, err
	}

	inst.Status = StatusRunning
	inst.ErrorMessage = ""
	inst.UpdatedAt = time.Now()
	if err := m.store.UpdateInstance(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Logs returns the last tail lines of the instance's container logs
func (m *Manager) Logs(ctx context.Context, id string, tail int) (string, error) {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return "", err
	}

	if inst.ContainerID == "" {
		return "", fmt.Errorf("no container associated with instance")
	}

	return m.client.GetContainerLogs(ctx, inst.ContainerID, tail)
}

// ConnectNetwork attaches the instance's container to a network
func (m *Manager) ConnectNetwork(ctx context.Context, id, network string) error {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}
	if inst.ContainerID == "" {
		return fmt.Errorf("no container associated with instance")
	}
	return m.client.ConnectNetwork(ctx, inst.ContainerID, network)
}

// DisconnectNetwork detaches the instance's container from a network
func (m *Manager) DisconnectNetwork(ctx context.Context, id, network string) error {
	inst, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}
	if inst.ContainerID == "" {
		return fmt.Errorf("no container associated with instance")
	}
	return m.client.DisconnectNetwork(ctx, inst.ContainerID, network)
}

// GetContainerStats returns live stats for an instance's container
func (m *Manager) GetContainerStats(ctx context.Context, containerID string) (*runtime.ContainerStats, error) {
	return m.client.GetContainerStats(ctx, containerID)
}

// GetMetricsHistory returns historical metrics for an instance
func (m *Manager) GetMetricsHistory(id string) []MetricsPoint {
	return m.metricsHistory.Get(id)
}

// RecordMetrics records a metrics point for an instance
func (m *Manager) RecordMetrics(id string, point MetricsPoint) {
	m.metricsHistory.Record(id, point)
}
