// Package metrics snapshots per-container resource usage and forwards it
// to the platform's metrics endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/instance"
	"github.com/OmniCloudOrg/OmniAgent/pkg/runtime"
	"github.com/OmniCloudOrg/OmniAgent/pkg/storage"
	"github.com/rs/zerolog/log"
)

// ContainerMetrics is one sample in the platform wire format
type ContainerMetrics struct {
	ContainerID    string  `json:"container_id"`
	Name           string  `json:"name"`
	Timestamp      int64   `json:"timestamp"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    int64   `json:"memory_usage"`
	MemoryLimit    int64   `json:"memory_limit"`
	NetworkRxBytes int64   `json:"network_rx_bytes"`
	NetworkTxBytes int64   `json:"network_tx_bytes"`
}

// InstanceSource is the slice of the instance manager the collector needs
type InstanceSource interface {
	List() []*storage.InstanceRecord
	GetContainerStats(ctx context.Context, containerID string) (*runtime.ContainerStats, error)
	RecordMetrics(id string, point instance.MetricsPoint)
}

// Collector samples stats for every running instance
type Collector struct {
	source InstanceSource
	pusher *Pusher // nil when no endpoint is configured
}

// NewCollector creates a collector. pusher may be nil.
func NewCollector(source InstanceSource, pusher *Pusher) *Collector {
	return &Collector{source: source, pusher: pusher}
}

// CollectAll takes one sampling pass over all running instances.
// Failures are logged per instance and never abort the pass.
func (c *Collector) CollectAll(ctx context.Context) {
	for _, inst := range c.source.List() {
		if inst.Status != instance.StatusRunning || inst.ContainerID == "" {
			continue
		}

		stats, err := c.source.GetContainerStats(ctx, inst.ContainerID)
		if err != nil {
			log.Debug().Err(err).Str("id", inst.ID).Msg("Failed to collect stats")
			continue
		}

		now := time.Now()
		c.source.RecordMetrics(inst.ID, instance.MetricsPoint{
			Timestamp:     now,
			CPUPercent:    stats.CPUPercent,
			MemoryUsage:   stats.MemoryUsage,
			MemoryLimit:   stats.MemoryLimit,
			MemoryPercent: stats.MemoryPercent,
			NetworkRx:     stats.NetworkRx,
			NetworkTx:     stats.NetworkTx,
		})

		if c.pusher == nil {
			continue
		}
		sample := ContainerMetrics{
			ContainerID:    inst.ContainerID,
			Name:           inst.Name,
			Timestamp:      now.Unix(),
			CPUUsage:       stats.CPUPercent,
			MemoryUsage:    stats.MemoryUsage,
			MemoryLimit:    stats.MemoryLimit,
			NetworkRxBytes: stats.NetworkRx,
			NetworkTxBytes: stats.NetworkTx,
		}
		if err := c.pusher.Push(sample); err != nil {
			log.Warn().Err(err).Str("id", inst.ID).Msg("Failed to push metrics sample")
		}
	}
}
