package instance

import (
	"sync"
	"time"
)

const (
	// MaxHistoryPoints is the maximum number of metrics points to keep per instance
	MaxHistoryPoints = 60 // 10 minutes at 10-second intervals
)

// MetricsPoint represents a single metrics snapshot
type MetricsPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryUsage   int64     `json:"memoryUsage"`
	MemoryLimit   int64     `json:"memoryLimit"`
	MemoryPercent float64   `json:"memoryPercent"`
	NetworkRx     int64     `json:"networkRx"`
	NetworkTx     int64     `json:"networkTx"`
}

// MetricsHistory stores historical metrics for instances
type MetricsHistory struct {
	mu      sync.RWMutex
	history map[string][]MetricsPoint // instance ID -> metrics points
}

// NewMetricsHistory creates a new metrics history store
func NewMetricsHistory() *MetricsHistory {
	return &MetricsHistory{
		history: make(map[string][]MetricsPoint),
	}
}

// Record adds a new metrics point for an instance
func (mh *MetricsHistory) Record(id string, point MetricsPoint) {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	points := mh.history[id]

	// Add new point
	points = append(points, point)

	// Keep only the last MaxHistoryPoints
	if len(points) > MaxHistoryPoints {
		points = points[len(points)-MaxHistoryPoints:]
	}

	mh.history[id] = points
}

// Get returns the metrics history for an instance
func (mh *MetricsHistory) Get(id string) []MetricsPoint {
	mh.mu.RLock()
	defer mh.mu.RUnlock()

	points := mh.history[id]
	if points == nil {
		return []MetricsPoint{}
	}

	// Return a copy to avoid race conditions
	result := make([]MetricsPoint, len(points))
	copy(result, points)
	return result
}

// Delete removes the metrics history for an instance
func (mh *MetricsHistory) Delete(id string) {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	delete(mh.history, id)
}

// Clear removes all metrics history
func (mh *MetricsHistory) Clear() {
	mh.mu.Lock()
	defer mh.mu.Unlock()
	mh.history = make(map[string][]MetricsPoint)
}
