package cpi

// Command is one container-lifecycle operation the engine can execute.
// The set of implementations is closed: params is unexported, so outside
// packages cannot add variants and every tag the engine may receive is
// known at compile time. Behavior stays swappable through the action
// config, keyed by Tag.
type Command interface {
	// Tag returns the stable string key used to look up the action config.
	Tag() string

	// params flattens the variant's fields into placeholder values. Pure:
	// the map is rebuilt from the fields on every call, keyed exactly by
	// the declared field names.
	params() map[string]any
}

// CreateContainer creates a named container from an image, with published
// ports ("host:container" form) and environment variables.
type CreateContainer struct {
	Image string            `json:"image"`
	Name  string            `json:"name"`
	Ports []string          `json:"ports"`
	Env   map[string]string `json:"env"`
}

func (CreateContainer) Tag() string { return "create_container" }

func (c CreateContainer) params() map[string]any {
	ports := c.Ports
	if ports == nil {
		ports = []string{}
	}
	env := c.Env
	if env == nil {
		env = map[string]string{}
	}
	return map[string]any{
		"image": c.Image,
		"name":  c.Name,
		"ports": ports,
		"env":   env,
	}
}

// DeleteContainer removes a container by name.
type DeleteContainer struct {
	Name string `json:"name"`
}

func (DeleteContainer) Tag() string { return "delete_container" }

func (c DeleteContainer) params() map[string]any {
	return map[string]any{"name": c.Name}
}

// StartContainer starts a stopped container by name.
type StartContainer struct {
	Name string `json:"name"`
}

func (StartContainer) Tag() string { return "start_container" }

func (c StartContainer) params() map[string]any {
	return map[string]any{"name": c.Name}
}

// StopContainer stops a running container by name.
type StopContainer struct {
	Name string `json:"name"`
}

func (StopContainer) Tag() string { return "stop_container" }

func (c StopContainer) params() map[string]any {
	return map[string]any{"name": c.Name}
}

// RestartContainer restarts a container by name.
type RestartContainer struct {
	Name string `json:"name"`
}

func (RestartContainer) Tag() string { return "restart_container" }

func (c RestartContainer) params() map[string]any {
	return map[string]any{"name": c.Name}
}

// InspectContainer returns the runtime's inspection output for a container.
type InspectContainer struct {
	Name string `json:"name"`
}

func (InspectContainer) Tag() string { return "inspect_container" }

func (c InspectContainer) params() map[string]any {
	return map[string]any{"name": c.Name}
}

// ListContainers lists all containers. It carries no parameters, so
// templates for it render unchanged.
type ListContainers struct{}

func (ListContainers) Tag() string { return "list_containers" }

func (ListContainers) params() map[string]any { return map[string]any{} }
