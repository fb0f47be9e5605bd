package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelTrace LogLevel = "trace"
)

// Config holds all agent configuration
type Config struct {
	LogLevel      LogLevel `yaml:"log_level"`
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	DataDir       string   `yaml:"data_dir"`
	Socket        string   `yaml:"socket"`  // Runtime socket path (probed when empty)
	Runtime       string   `yaml:"runtime"` // Container runtime: "docker", "podman", or "containerd"
	CPIPath       string   `yaml:"cpi_path"`
	Network       string   `yaml:"network"`
	MetricsURL    string   `yaml:"metrics_url"`    // Websocket endpoint for metrics push, empty disables
	MaxConcurrent int      `yaml:"max_concurrent"` // Max concurrent CPI subprocesses, 0 = unlimited
}

func defaults() *Config {
	return &Config{
		LogLevel: LogLevelInfo,
		Host:     "0.0.0.0",
		Port:     8081,
		DataDir:  "./data",
		Runtime:  "docker",
		CPIPath:  "./CPIs/cpi-container.json",
		Network:  "omniagent",
	}
}

// StoragePath returns the path to the bbolt database file
func (c *Config) StoragePath() string {
	return filepath.Join(c.DataDir, "omniagent.db")
}

// Addr returns the HTTP server address
func (c *Config) Addr() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.Port
	if port == 0 {
		port = 8081
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// FromArgs creates a Config from CLI arguments, an optional YAML config
// file, and HOST/PORT environment fallbacks. Flags take precedence over the
// environment, which takes precedence over the file.
func FromArgs() (*Config, error) {
	return fromArgs(os.Args[1:])
}

func fromArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("omniagent", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to optional YAML config file")
	host := fs.String("host", "", "Listen host (default 0.0.0.0, or HOST env)")
	port := fs.Int("port", 0, "Listen port (default 8081, or PORT env)")
	dataDir := fs.String("data", "", "Data directory for storage")
	socket := fs.String("socket", "", "Runtime socket path (probed when empty)")
	runtimeName := fs.String("runtime", "", "Container runtime: docker, podman, or containerd")
	cpiPath := fs.String("cpi", "", "Path to the CPI action config file")
	network := fs.String("network", "", "Managed container network name")
	metricsURL := fs.String("metrics-url", "", "Websocket URL for metrics push (empty disables)")
	maxConcurrent := fs.Int("max-concurrent", 0, "Max concurrent CPI subprocesses (0 = unlimited)")
	logLevel := fs.String("log-level", "", "Logging level (info, debug, error, trace)")
	fs.Parse(args)

	cfg := defaults()

	if *configFile != "" {
		if err := cfg.loadFile(*configFile); err != nil {
			return nil, err
		}
	}

	// Environment fallbacks for the listen address
	if h := os.Getenv("HOST"); h != "" {
		cfg.Host = h
	}
	if p := os.Getenv("PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT value %q", p)
		}
		cfg.Port = n
	}

	// Flags win over both
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if *runtimeName != "" {
		cfg.Runtime = *runtimeName
	}
	if *cpiPath != "" {
		cfg.CPIPath = *cpiPath
	}
	if *network != "" {
		cfg.Network = *network
	}
	if *metricsURL != "" {
		cfg.MetricsURL = *metricsURL
	}
	if *maxConcurrent != 0 {
		cfg.MaxConcurrent = *maxConcurrent
	}
	if *logLevel != "" {
		cfg.LogLevel = LogLevel(*logLevel)
	}

	return cfg, nil
}

// loadFile merges a YAML config file over the current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration and creates necessary directories
func (c *Config) Validate() error {
	if c.CPIPath == "" {
		return fmt.Errorf("cpi config path is required")
	}
	// Ensure data directory exists
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return nil
}
