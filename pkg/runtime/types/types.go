// Package types defines shared types for the runtime package hierarchy.
// This package exists to avoid import cycles between runtime and its sub-packages.
package types

import (
	"context"
	"time"
)

// Client defines the container runtime operations interface.
// Implementations: docker.Client, containerd.Client, cli.Client
type Client interface {
	// Lifecycle
	Close() error
	Ping(ctx context.Context) error

	// Image operations
	PullImage(ctx context.Context, imageName string) error
	ListImages(ctx context.Context) ([]string, error)

	// Container operations
	CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error
	RestartContainer(ctx context.Context, containerID string, timeoutSeconds int) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// Container inspection
	GetContainerStatus(ctx context.Context, containerID string) (string, error)
	GetContainerStats(ctx context.Context, containerID string) (*ContainerStats, error)
	GetContainerLogs(ctx context.Context, containerID string, tail int) (string, error)
	ListContainers(ctx context.Context, all bool) ([]ContainerSummary, error)

	// Network operations
	ConnectNetwork(ctx context.Context, containerID, networkName string) error
	DisconnectNetwork(ctx context.Context, containerID, networkName string) error

	// Event stream. The events channel is closed when the stream ends;
	// a terminal error is delivered on the error channel.
	StreamEvents(ctx context.Context) (<-chan Event, <-chan error)
}

// ContainerConfig holds configuration for creating a container
type ContainerConfig struct {
	Name         string
	Image        string
	Env          []string          // KEY=value pairs
	PortBindings map[string]string // containerPort/proto -> hostPort
	Volumes      map[string]string // hostPath -> containerPath
	Labels       map[string]string
	MemoryLimit  int64   // bytes
	CPULimit     float64 // cores
	HealthCheck  *HealthCheck
}

// HealthCheck configures a container-level health probe.
type HealthCheck struct {
	Command  string
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// ContainerSummary is one entry of a container listing.
type ContainerSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"`
	Created int64  `json:"created"` // unix seconds
}

// ContainerStats holds container resource statistics
type ContainerStats struct {
	CPUPercent    float64
	MemoryUsage   int64
	MemoryLimit   int64
	MemoryPercent float64
	NetworkRx     int64
	NetworkTx     int64
}

// Event is one normalized runtime event.
type Event struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Time   int64  `json:"time"` // unix seconds
}
