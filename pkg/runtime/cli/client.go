package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/runtime/types"
)

// Client implements the types.Client interface using container runtime CLIs.
// Supports docker, podman, and nerdctl (containerd).
type Client struct {
	binary  string // Runtime binary: "docker", "podman", or "nerdctl"
	network string
}

// Verify Client implements types.Client interface
var _ types.Client = (*Client)(nil)

// NewClient creates a new CLI client for a container runtime.
// binary should be "docker", "podman", or "nerdctl"
func NewClient(binary, networkName string) (*Client, error) {
	c := &Client{
		binary:  binary,
		network: networkName,
	}

	// Verify CLI is available
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%s CLI not found: %w", binary, err)
	}

	// Ensure network exists
	if err := c.ensureNetwork(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

// Close is a no-op for CLI client
func (c *Client) Close() error {
	return nil
}

// runCommand executes a runtime command and returns stdout
func (c *Client) runCommand(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s failed: %w, stderr: %s", c.binary, args[0], err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ensureNetwork creates the agent network if it doesn't exist
func (c *Client) ensureNetwork(ctx context.Context) error {
	_, err := c.runCommand(ctx, "network", "inspect", c.network)
	if err == nil {
		return nil
	}

	_, err = c.runCommand(ctx, "network", "create",
		"--driver", "bridge",
		"--label", "omniagent.managed=true",
		c.network)
	return err
}

// Ping checks if the runtime is accessible
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.runCommand(ctx, "info", "--format", "{{.ID}}")
	return err
}

// PullImage pulls a container image
func (c *Client) PullImage(ctx context.Context, imageName string) error {
	_, err := c.runCommand(ctx, "pull", imageName)
	return err
}

// ListImages returns the repo tags of all local images
func (c *Client) ListImages(ctx context.Context) ([]string, error) {
	output, err := c.runCommand(ctx, "images", "--format", "{{.Repository}}:{{.Tag}}")
	if err != nil {
		return nil, err
	}

	var tags []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "<none>") {
			continue
		}
		tags = append(tags, line)
	}
	return tags, nil
}

// CreateContainer creates a new container
func (c *Client) CreateContainer(ctx context.Context, cfg *types.ContainerConfig) (string, error) {
	args := []string{"create", "--name", cfg.Name}

	args = append(args, "--network", c.network)

	for _, env := range cfg.Env {
		args = append(args, "-e", env)
	}

	for containerPort, hostPort := range cfg.PortBindings {
		args = append(args, "-p", fmt.Sprintf("%s:%s", hostPort, containerPort))
	}

	for hostPath, containerPath := range cfg.Volumes {
		args = append(args, "-v", fmt.Sprintf("%s:%s", hostPath, containerPath))
	}

	if cfg.MemoryLimit > 0 {
		args = append(args, "--memory", fmt.Sprintf("%d", cfg.MemoryLimit))
	}
	if cfg.CPULimit > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%.2f", cfg.CPULimit))
	}

	for k, v := range cfg.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}

	if hc := cfg.HealthCheck; hc != nil {
		args = append(args, "--health-cmd", hc.Command)
		if hc.Interval > 0 {
			args = append(args, "--health-interval", hc.Interval.String())
		}
		if hc.Timeout > 0 {
			args = append(args, "--health-timeout", hc.Timeout.String())
		}
		if hc.Retries > 0 {
			args = append(args, "--health-retries", strconv.Itoa(hc.Retries))
		}
	}

	args = append(args, "--restart", "unless-stopped")
	args = append(args, cfg.Image)

	containerID, err := c.runCommand(ctx, args...)
	if err != nil {
		return "", err
	}
	return containerID, nil
}

// StartContainer starts a container
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	_, err := c.runCommand(ctx, "start", containerID)
	return err
}

// StopContainer stops a container
func (c *Client) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	_, err := c.runCommand(ctx, "stop", "-t", strconv.Itoa(timeoutSeconds), containerID)
	return err
}

// RestartContainer restarts a container
func (c *Client) RestartContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	_, err := c.runCommand(ctx, "restart", "-t", strconv.Itoa(timeoutSeconds), containerID)
	return err
}

// RemoveContainer removes a container
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	args := []string{"rm", "-v"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, containerID)
	_, err := c.runCommand(ctx, args...)
	return err
}

// GetContainerStatus returns the container's running status
func (c *Client) GetContainerStatus(ctx context.Context, containerID string) (string, error) {
	output, err := c.runCommand(ctx, "inspect", "--format", "{{.State.Status}}", containerID)
	if err != nil {
		if strings.Contains(err.Error(), "No such") {
			return "error", nil
		}
		return "", err
	}

	switch output {
	case "running":
		return "running", nil
	case "paused", "exited", "dead":
		return "stopped", nil
	case "restarting", "created":
		return "creating", nil
	default:
		return "error", nil
	}
}

// GetContainerStats returns container resource usage statistics
func (c *Client) GetContainerStats(ctx context.Context, containerID string) (*types.ContainerStats, error) {
	output, err := c.runCommand(ctx, "stats", "--no-stream", "--format",
		`{"cpu":"{{.CPUPerc}}","mem_usage":"{{.MemUsage}}","net_io":"{{.NetIO}}"}`,
		containerID)
	if err != nil {
		return nil, err
	}

	var raw struct {
		CPU      string `json:"cpu"`
		MemUsage string `json:"mem_usage"`
		NetIO    string `json:"net_io"`
	}
	if err := json.Unmarshal([]byte(output), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse stats: %w", err)
	}

	stats := &types.ContainerStats{}

	if cpu := strings.TrimSuffix(raw.CPU, "%"); cpu != "" {
		if v, err := strconv.ParseFloat(cpu, 64); err == nil {
			stats.CPUPercent = v
		}
	}

	if parts := strings.Split(raw.MemUsage, " / "); len(parts) == 2 {
		stats.MemoryUsage = parseBytes(parts[0])
		stats.MemoryLimit = parseBytes(parts[1])
		if stats.MemoryLimit > 0 {
			stats.MemoryPercent = float64(stats.MemoryUsage) / float64(stats.MemoryLimit) * 100
		}
	}

	if parts := strings.Split(raw.NetIO, " / "); len(parts) == 2 {
		stats.NetworkRx = parseBytes(parts[0])
		stats.NetworkTx = parseBytes(parts[1])
	}

	return stats, nil
}

// parseBytes parses a human-readable byte string like "1.5GiB", "100MiB", "2.3kB"
func parseBytes(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0
	}

	re := regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)
	matches := re.FindStringSubmatch(s)
	if len(matches) != 3 {
		return 0
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0
	}

	unit := strings.ToLower(matches[2])
	var multiplier float64 = 1

	switch unit {
	case "b":
		multiplier = 1
	case "kb", "kib":
		multiplier = 1024
	case "mb", "mib":
		multiplier = 1024 * 1024
	case "gb", "gib":
		multiplier = 1024 * 1024 * 1024
	case "tb", "tib":
		multiplier = 1024 * 1024 * 1024 * 1024
	}

	return int64(value * multiplier)
}

// GetContainerLogs retrieves the last N lines of container logs
func (c *Client) GetContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	return c.runCommand(ctx, "logs", "--tail", fmt.Sprintf("%d", tail), containerID)
}

// ListContainers lists containers known to the runtime
func (c *Client) ListContainers(ctx context.Context, all bool) ([]types.ContainerSummary, error) {
	args := []string{"ps", "--format", "{{json .}}"}
	if all {
		args = []string{"ps", "-a", "--format", "{{json .}}"}
	}
	output, err := c.runCommand(ctx, args...)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, nil
	}

	var result []types.ContainerSummary
	for _, line := range strings.Split(output, "\n") {
		var row struct {
			ID        string `json:"ID"`
			Names     string `json:"Names"`
			Image     string `json:"Image"`
			State     string `json:"State"`
			CreatedAt string `json:"CreatedAt"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}

		var created int64
		if t, err := time.Parse("2006-01-02 15:04:05 -0700 MST", row.CreatedAt); err == nil {
			created = t.Unix()
		}

		result = append(result, types.ContainerSummary{
			ID:      row.ID,
			Name:    row.Names,
			Image:   row.Image,
			State:   row.State,
			Created: created,
		})
	}
	return result, nil
}

// ConnectNetwork attaches a container to a network
func (c *Client) ConnectNetwork(ctx context.Context, containerID, networkName string) error {
	_, err := c.runCommand(ctx, "network", "connect", networkName, containerID)
	return err
}

// DisconnectNetwork detaches a container from a network
func (c *Client) DisconnectNetwork(ctx context.Context, containerID, networkName string) error {
	_, err := c.runCommand(ctx, "network", "disconnect", networkName, containerID)
	return err
}

// StreamEvents follows runtime events for the lifetime of ctx
func (c *Client) StreamEvents(ctx context.Context) (<-chan types.Event, <-chan error) {
	out := make(chan types.Event)
	errs := make(chan error, 1)

	cmd := exec.CommandContext(ctx, c.binary, "events", "--format", "{{json .}}")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errs <- err
		close(out)
		return out, errs
	}
	if err := cmd.Start(); err != nil {
		errs <- fmt.Errorf("%s events failed: %w", c.binary, err)
		close(out)
		return out, errs
	}

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			var raw struct {
				Type   string `json:"Type"`
				Action string `json:"Action"`
				Actor  struct {
					ID         string            `json:"ID"`
					Attributes map[string]string `json:"Attributes"`
				} `json:"Actor"`
				Time int64 `json:"time"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
				continue
			}

			actor := raw.Actor.ID
			if name, ok := raw.Actor.Attributes["name"]; ok && name != "" {
				actor = name
			}
			ev := types.Event{
				Type:   raw.Type,
				Action: raw.Action,
				Actor:  actor,
				Time:   raw.Time,
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("%s events exited: %w", c.binary, err)
		}
	}()
	return out, errs
}
