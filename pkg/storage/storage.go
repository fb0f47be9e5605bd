package storage

import (
	"time"
)

// InstanceRecord is the persisted state of a managed container instance
type InstanceRecord struct {
	ID           string            `json:"id" msgpack:"id"`
	Name         string            `json:"name" msgpack:"name"`
	Image        string            `json:"image" msgpack:"image"`
	ContainerID  string            `json:"containerId,omitempty" msgpack:"container_id"`
	Status       string            `json:"status" msgpack:"status"`
	Ports        []string          `json:"ports" msgpack:"ports"` // "hostPort:containerPort"
	Environment  map[string]string `json:"environment" msgpack:"environment"`
	Volumes      map[string]string `json:"volumes,omitempty" msgpack:"volumes"`
	MemoryLimit  int64             `json:"memoryLimit,omitempty" msgpack:"memory_limit"` // bytes
	CPULimit     float64           `json:"cpuLimit,omitempty" msgpack:"cpu_limit"`
	AgentID      string            `json:"agentId" msgpack:"agent_id"`
	ErrorMessage string            `json:"errorMessage,omitempty" msgpack:"error_message"` // Error details if deployment failed
	CreatedAt    time.Time         `json:"createdAt" msgpack:"created_at"`
	UpdatedAt    time.Time         `json:"updatedAt" msgpack:"updated_at"`
}

// Storage defines the interface for data persistence
type Storage interface {
	Close() error
	DataDir() string

	// Instance operations
	CreateInstance(inst *InstanceRecord) error
	GetInstance(id string) (*InstanceRecord, error)
	GetInstanceByName(name string) (*InstanceRecord, error)
	ListInstances() []*InstanceRecord
	UpdateInstance(inst *InstanceRecord) error
	DeleteInstance(id string) error

	// Settings operations
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// New creates a new storage instance based on type
func New(path, dataDir string) (Storage, error) {
	return NewBoltStorage(path, dataDir)
}
