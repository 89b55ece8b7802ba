// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/playq/internal/node"
)

type rosterFile struct {
	Nodes []node.Config `yaml:"nodes"`
}

// LoadRoster reads and validates the node roster YAML. An empty roster is
// valid: the daemon starts and reports not-ready until nodes are added.
func LoadRoster(path string) ([]node.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if err := validateRoster(f.Nodes); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return f.Nodes, nil
}

func validateRoster(nodes []node.Config) error {
	seen := make(map[string]struct{}, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: id must not be empty", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Endpoint == "" {
			return fmt.Errorf("node %q: endpoint must not be empty", n.ID)
		}
		if n.Secret == "" {
			return fmt.Errorf("node %q: secret must not be empty", n.ID)
		}
	}
	return nil
}
