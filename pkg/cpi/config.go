package cpi

import (
	"encoding/json"
	"fmt"
	"os"
)

// Action is one named entry in the CPI config: a main command template and
// an optional ordered chain of post-exec templates. Post-exec templates
// draw their placeholders from the same parameter set as the main command.
type Action struct {
	Command  string   `json:"command"`
	PostExec []string `json:"post_exec,omitempty"`
}

// Config is a parsed CPI file. Actions is keyed by command tag; every tag
// the executor may receive must have an entry, absence is a configuration
// error rather than a no-op.
type Config struct {
	Name    string            `json:"name,omitempty"`
	Type    string            `json:"type,omitempty"`
	Actions map[string]Action `json:"actions"`
}

// LoadConfig reads and parses the CPI file at path. The executor re-loads
// on every invocation, so edits take effect on the next call without a
// restart.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}
	if cfg.Actions == nil {
		return nil, fmt.Errorf("%w: %s: no top-level \"actions\" object", ErrConfigParse, path)
	}
	return &cfg, nil
}

// Resolve returns the action registered for a command tag.
func (c *Config) Resolve(tag string) (Action, error) {
	action, ok := c.Actions[tag]
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrActionNotDefined, tag)
	}
	return action, nil
}
