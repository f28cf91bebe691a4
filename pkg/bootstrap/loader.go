package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/morezero/message-relay/pkg/classify"
)

const logPrefix = "bootstrap:loader"

// DefaultPaths are tried after explicit paths and RELAY_BOOTSTRAP_FILE.
var DefaultPaths = []string{
	"config/topology.yaml",
	"config/topology.toml",
	"config/topology.json",
}

// LoadTopology loads the topology from the first readable file, trying explicit paths, then
// RELAY_BOOTSTRAP_FILE, then DefaultPaths. The file is merged over the default topology.
// A file that exists but does not parse is an error.
func LoadTopology(paths ...string) (*TopologyConfig, error) {
	all := make([]string, 0, len(paths)+len(DefaultPaths)+1)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("RELAY_BOOTSTRAP_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, DefaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		cfg, err := ParseTopology(p, data)
		if err != nil {
			return nil, err
		}
		slog.Info(fmt.Sprintf("%s - Loaded topology from %s", logPrefix, p))
		return MergeTopology(GetDefaultTopology(), cfg), nil
	}

	slog.Info(fmt.Sprintf("%s - Using default topology", logPrefix))
	return GetDefaultTopology(), nil
}

// ParseTopology decodes data using the format implied by name's extension.
func ParseTopology(name string, data []byte) (*TopologyConfig, error) {
	var cfg TopologyConfig
	var err error
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		return nil, fmt.Errorf("%s - unsupported topology format %q for %s", logPrefix, ext, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse %s: %w", logPrefix, name, err)
	}
	return &cfg, nil
}

// GetDefaultTopology returns the built-in topology: the known network processes and no nodes.
func GetDefaultTopology() *TopologyConfig {
	known := make([]string, len(classify.KnownProcessIDs))
	copy(known, classify.KnownProcessIDs)
	return &TopologyConfig{
		Name:            "message-relay",
		Version:         "1.0.0",
		KnownProcessIDs: known,
	}
}

// MergeTopology merges override into base. Known process ids are unioned; any compute unit
// list, constraint or endpoint set in override replaces base's.
func MergeTopology(base, override *TopologyConfig) *TopologyConfig {
	merged := *base
	merged.KnownProcessIDs = append(append([]string{}, base.KnownProcessIDs...), override.KnownProcessIDs...)

	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	if len(override.ComputeUnits) > 0 {
		merged.ComputeUnits = append([]ComputeUnit{}, override.ComputeUnits...)
	}
	if override.CUVersionConstraint != "" {
		merged.CUVersionConstraint = override.CUVersionConstraint
	}
	if override.Endpoints.Gateway != "" {
		merged.Endpoints.Gateway = override.Endpoints.Gateway
	}
	if override.Endpoints.Uploader != "" {
		merged.Endpoints.Uploader = override.Endpoints.Uploader
	}
	if override.Endpoints.SchedulerRouter != "" {
		merged.Endpoints.SchedulerRouter = override.Endpoints.SchedulerRouter
	}
	return &merged
}

// CreateResolvedTopology builds a ResolvedTopology for lookups.
func CreateResolvedTopology(cfg *TopologyConfig) *ResolvedTopology {
	known := make(map[string]struct{}, len(cfg.KnownProcessIDs))
	for _, id := range cfg.KnownProcessIDs {
		if id = strings.TrimSpace(id); id != "" {
			known[id] = struct{}{}
		}
	}

	seen := make(map[string]bool, len(cfg.ComputeUnits))
	cuURLs := make([]string, 0, len(cfg.ComputeUnits))
	for _, cu := range cfg.ComputeUnits {
		u := strings.TrimRight(strings.TrimSpace(cu.URL), "/")
		if cu.Disabled || u == "" || seen[u] {
			continue
		}
		seen[u] = true
		cuURLs = append(cuURLs, u)
	}

	return &ResolvedTopology{
		name:       cfg.Name,
		version:    cfg.Version,
		known:      known,
		cuURLs:     cuURLs,
		constraint: cfg.CUVersionConstraint,
		endpoints:  cfg.Endpoints,
	}
}
