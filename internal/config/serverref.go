package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerRef is one candidate KGB server a client may deliver a commit to
// (§3 "ServerRef (client side)").
type ServerRef struct {
	URI      string        `yaml:"uri"`
	Proxy    string        `yaml:"proxy,omitempty"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Verbose  bool          `yaml:"verbose,omitempty"`
}

const defaultClientTimeout = 15 * time.Second

// Normalize fills in the ServerRef defaults: Proxy defaults to
// uri+"?session="+serviceName ("KGB" when serviceName is empty) and Timeout
// defaults to 15s.
func (s *ServerRef) Normalize(serviceName string) error {
	if s.URI == "" {
		return fmt.Errorf("config: server ref missing uri")
	}
	if s.Password == "" {
		return fmt.Errorf("config: server ref %s missing password", s.URI)
	}
	if s.Proxy == "" {
		if serviceName == "" {
			serviceName = defaultServiceName
		}
		s.Proxy = s.URI + "?session=" + serviceName
	}
	if s.Timeout == 0 {
		s.Timeout = defaultClientTimeout
	}
	return nil
}

// ClientConfig is the client-side configuration file: a repo id and the set
// of servers it may deliver to.
type ClientConfig struct {
	RepoID      string      `yaml:"repo_id"`
	ServiceName string      `yaml:"service_name,omitempty"`
	Servers     []ServerRef `yaml:"servers"`
}

// LoadClientConfig reads and normalizes a client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("config: %s declares no servers", path)
	}
	for i := range cfg.Servers {
		if err := cfg.Servers[i].Normalize(cfg.ServiceName); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
