// Package agent holds the identity this process reports to the platform.
package agent

import (
	"fmt"
	"os"

	"github.com/OmniCloudOrg/OmniAgent/pkg/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Version is the agent version, overridable at build time
var Version = "0.1.0"

const idKey = "agent_id"

// Agent identifies this process
type Agent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Load returns the persisted agent identity, generating one on first run.
// The ID survives restarts so the platform can correlate this host over
// time; the name is taken from the hostname on every boot.
func Load(store storage.Storage) (*Agent, error) {
	id, err := store.GetSetting(idKey)
	if err != nil {
		id = uuid.New().String()
		if err := store.SetSetting(idKey, id); err != nil {
			return nil, fmt.Errorf("failed to persist agent id: %w", err)
		}
		log.Info().Str("agent_id", id).Msg("Generated new agent identity")
	}

	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "omniagent"
	}

	return &Agent{ID: id, Name: name, Version: Version}, nil
}
