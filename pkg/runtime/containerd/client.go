package containerd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/runtime/types"
	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Namespace is the containerd namespace for OmniAgent
	Namespace = "omniagent"

	// volumeRoot is where emulated named volumes live
	volumeRoot = "/var/lib/omniagent/volumes"
)

// Client wraps the containerd SDK client
type Client struct {
	cli     *containerd.Client
	network string
}

// Verify Client implements types.Client interface
var _ types.Client = (*Client)(nil)

// NewClient creates a new containerd SDK client
func NewClient(socketPath string, networkName string) (*Client, error) {
	cli, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create containerd client: %w", err)
	}

	c := &Client{
		cli:     cli,
		network: networkName,
	}

	return c, nil
}

// Close closes the containerd client
func (c *Client) Close() error {
	return c.cli.Close()
}

// ctx returns a context with the OmniAgent namespace
func (c *Client) ctx(parent context.Context) context.Context {
	return namespaces.WithNamespace(parent, Namespace)
}

// Ping checks if containerd is accessible
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Version(c.ctx(ctx))
	return err
}

// PullImage pulls a container image
func (c *Client) PullImage(ctx context.Context, imageName string) error {
	// Normalize image name for containerd
	// containerd requires fully qualified names like docker.io/library/nginx:latest
	normalizedName := normalizeImageName(imageName)

	// Use native snapshotter which works better in Docker-in-Docker environments
	_, err := c.cli.Pull(c.ctx(ctx), normalizedName,
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter("native"),
	)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	return nil
}

// normalizeImageName converts Docker Hub short names to fully qualified references
func normalizeImageName(name string) string {
	// If already fully qualified, return as-is
	if strings.Contains(name, "/") && strings.Contains(strings.Split(name, "/")[0], ".") {
		return name
	}

	// Add docker.io prefix
	if !strings.Contains(name, "/") {
		// Official image like "nginx:latest" -> "docker.io/library/nginx:latest"
		return "docker.io/library/" + name
	}

	// User image like "user/repo:tag" -> "docker.io/user/repo:tag"
	return "docker.io/" + name
}

// ListImages returns the references of all images in the namespace
func (c *Client) ListImages(ctx context.Context) ([]string, error) {
	images, err := c.cli.ListImages(c.ctx(ctx))
	if err != nil {
		return nil, err
	}

	var refs []string
	for _, img := range images {
		refs = append(refs, img.Name())
	}
	return refs, nil
}

// CreateContainer creates a new container
func (c *Client) CreateContainer(ctx context.Context, cfg *types.ContainerConfig) (string, error) {
	ctx = c.ctx(ctx)

	// Get image (use normalized name)
	imageName := normalizeImageName(cfg.Image)
	image, err := c.cli.GetImage(ctx, imageName)
	if err != nil {
		return "", fmt.Errorf("image %s not found: %w", cfg.Image, err)
	}

	// Build OCI spec options
	// Port bindings and health checks are Docker engine features; with
	// containerd, networking comes from CNI and health checking from the
	// application itself.
	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(cfg.Env),
	}

	// Add mounts
	for hostPath, containerPath := range cfg.Volumes {
		source := hostPath

		// If source doesn't start with / or ., assume it's a named volume
		// Emulate named volumes for containerd by using a standard host directory
		if !strings.HasPrefix(source, "/") && !strings.HasPrefix(source, ".") {
			source = filepath.Join(volumeRoot, hostPath)
			// Ensure directory exists
			if err := os.MkdirAll(source, 0755); err != nil {
				return "", fmt.Errorf("failed to create volume directory %s: %w", source, err)
			}
		}

		specOpts = append(specOpts, oci.WithMounts([]specs.Mount{
			{
				Type:        "bind",
				Source:      source,
				Destination: containerPath,
				Options:     []string{"rbind", "rw"},
			},
		}))
	}

	// Add resource limits
	if cfg.MemoryLimit > 0 || cfg.CPULimit > 0 {
		specOpts = append(specOpts, func(_ context.Context, _ oci.Client, _ *containers.Container, s *oci.Spec) error {
			if s.Linux == nil {
				s.Linux = &specs.Linux{}
			}
			if s.Linux.Resources == nil {
				s.Linux.Resources = &specs.LinuxResources{}
			}
			if cfg.MemoryLimit > 0 {
				if s.Linux.Resources.Memory == nil {
					s.Linux.Resources.Memory = &specs.LinuxMemory{}
				}
				s.Linux.Resources.Memory.Limit = &cfg.MemoryLimit
			}
			if cfg.CPULimit > 0 {
				if s.Linux.Resources.CPU == nil {
					s.Linux.Resources.CPU = &specs.LinuxCPU{}
				}
				period := uint64(100000)
				quota := int64(cfg.CPULimit * float64(period))
				s.Linux.Resources.CPU.Period = &period
				s.Linux.Resources.CPU.Quota = &quota
			}
			return nil
		})
	}

	// Create container with native snapshotter (works in Docker-in-Docker)
	container, err := c.cli.NewContainer(
		ctx,
		cfg.Name,
		containerd.WithImage(image),
		containerd.WithSnapshotter("native"),
		containerd.WithNewSnapshot(cfg.Name+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
		containerd.WithContainerLabels(cfg.Labels),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return container.ID(), nil
}

// StartContainer starts a container
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	ctx = c.ctx(ctx)

	container, err := c.cli.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("container not found: %w", err)
	}

	// Create task (the running process)
	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

// StopContainer stops a container, giving it timeoutSeconds before SIGKILL
func (c *Client) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	ctx = c.ctx(ctx)

	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}

	container, err := c.cli.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("container not found: %w", err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // No running task
	}

	// Send SIGTERM
	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	// Wait for exit with timeout
	exitCh, err := task.Wait(ctx)
	if err != nil {
		return err
	}

	select {
	case <-exitCh:
	case <-time.After(time.Duration(timeoutSeconds) * time.Second):
		task.Kill(ctx, syscall.SIGKILL)
	}

	_, err = task.Delete(ctx)
	return err
}

// RestartContainer stops the container's task and starts a new one
func (c *Client) RestartContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	if err := c.StopContainer(ctx, containerID, timeoutSeconds); err != nil {
		return err
	}
	return c.StartContainer(ctx, containerID)
}

// RemoveContainer removes a container
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	ctx = c.ctx(ctx)

	container, err := c.cli.LoadContainer(ctx, containerID)
	if err != nil {
		return nil // Already removed
	}

	// Stop task if running
	if task, err := container.Task(ctx, nil); err == nil {
		if force {
			task.Kill(ctx, syscall.SIGKILL)
		}
		task.Delete(ctx, containerd.WithProcessKill)
	}

	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}

// GetContainerStatus returns the container's running status
func (c *Client) GetContainerStatus(ctx context.Context, containerID string) (string, error) {
	ctx = c.ctx(ctx)

	container, err := c.cli.LoadContainer(ctx, containerID)
	if err != nil {
		return "error", nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return "stopped", nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return "error", nil
	}

	return mapTaskStatus(status.Status), nil
}

func mapTaskStatus(s containerd.ProcessStatus) string {
	switch s {
	case containerd.Running:
		return "running"
	case containerd.Created, containerd.Pausing:
		return "creating"
	case containerd.Stopped, containerd.Paused:
		return "stopped"
	default:
		return "error"
	}
}

// GetContainerStats returns container resource usage statistics
func (c *Client) GetContainerStats(ctx context.Context, containerID string) (*types.ContainerStats, error) {
	ctx = c.ctx(ctx)

	container, err := c.cli.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("container not found: %w", err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("no running task: %w", err)
	}

	if _, err := task.Metrics(ctx); err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	// containerd returns metrics as a typed protobuf whose shape depends on
	// the cgroup version; decoding it is not wired up yet, so report zeros
	return &types.ContainerStats{}, nil
}

// GetContainerLogs retrieves the last N lines of container logs
func (c *Client) GetContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	// containerd doesn't store logs like Docker
	// Applications should use a logging driver
	return "", fmt.Errorf("containerd does not support log retrieval directly; use a logging driver")
}

// ListContainers lists containers in the OmniAgent namespace
func (c *Client) ListContainers(ctx context.Context, all bool) ([]types.ContainerSummary, error) {
	ctx = c.ctx(ctx)

	containers, err := c.cli.Containers(ctx)
	if err != nil {
		return nil, err
	}

	var result []types.ContainerSummary
	for _, ctr := range containers {
		state := "stopped"
		if task, err := ctr.Task(ctx, nil); err == nil {
			if status, err := task.Status(ctx); err == nil {
				state = mapTaskStatus(status.Status)
			}
		}
		if !all && state != "running" {
			continue
		}

		summary := types.ContainerSummary{
			ID:    ctr.ID(),
			Name:  ctr.ID(),
			State: state,
		}
		if info, err := ctr.Info(ctx); err == nil {
			summary.Image = info.Image
			summary.Created = info.CreatedAt.Unix()
		}
		result = append(result, summary)
	}
	return result, nil
}

// ConnectNetwork attaches a container to a network
func (c *Client) ConnectNetwork(ctx context.Context, containerID, networkName string) error {
	// containerd networking is CNI configuration files, not an API
	return fmt.Errorf("containerd does not support network attach via API; configure CNI instead")
}

// DisconnectNetwork detaches a container from a network
func (c *Client) DisconnectNetwork(ctx context.Context, containerID, networkName string) error {
	return fmt.Errorf("containerd does not support network detach via API; configure CNI instead")
}

// StreamEvents subscribes to containerd events for the lifetime of ctx
func (c *Client) StreamEvents(ctx context.Context) (<-chan types.Event, <-chan error) {
	ctx = c.ctx(ctx)

	out := make(chan types.Event)
	errs := make(chan error, 1)

	envelopes, errC := c.cli.Subscribe(ctx)
	go func() {
		defer close(out)
		for {
			select {
			case env := <-envelopes:
				if env == nil {
					return
				}
				// Topics look like /tasks/start or /containers/create.
				// Decoding the typed payload for the container ID is not
				// wired up, so the namespace stands in for the actor.
				parts := strings.Split(strings.TrimPrefix(env.Topic, "/"), "/")
				ev := types.Event{
					Type:   parts[0],
					Action: parts[len(parts)-1],
					Actor:  env.Namespace,
					Time:   env.Timestamp.Unix(),
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case err := <-errC:
				if err != nil {
					errs <- err
				}
				return
			}
		}
	}()
	return out, errs
}
