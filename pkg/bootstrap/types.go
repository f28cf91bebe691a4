// Package bootstrap loads the relay's network topology: known process ids, evaluation
// nodes and upstream endpoints.
package bootstrap

import "sort"

// ComputeUnit is one evaluation node.
type ComputeUnit struct {
	URL         string `json:"url" yaml:"url" toml:"url"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	// Disabled nodes are kept in the file but never selected.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// Endpoints are upstream base URLs. Empty values defer to configuration.
type Endpoints struct {
	Gateway         string `json:"gateway,omitempty" yaml:"gateway,omitempty" toml:"gateway,omitempty"`
	Uploader        string `json:"uploader,omitempty" yaml:"uploader,omitempty" toml:"uploader,omitempty"`
	SchedulerRouter string `json:"schedulerRouter,omitempty" yaml:"schedulerRouter,omitempty" toml:"schedulerRouter,omitempty"`
}

// TopologyConfig is the root bootstrap configuration.
type TopologyConfig struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Version string `json:"version" yaml:"version" toml:"version"`
	// KnownProcessIDs are classified as processes without a store lookup or probe.
	KnownProcessIDs     []string      `json:"knownProcessIds" yaml:"knownProcessIds" toml:"knownProcessIds"`
	ComputeUnits        []ComputeUnit `json:"computeUnits" yaml:"computeUnits" toml:"computeUnits"`
	CUVersionConstraint string        `json:"cuVersionConstraint,omitempty" yaml:"cuVersionConstraint,omitempty" toml:"cuVersionConstraint,omitempty"`
	Endpoints           Endpoints     `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
}

// ResolvedTopology provides deduplicated, read-only views of a TopologyConfig.
type ResolvedTopology struct {
	name       string
	version    string
	known      map[string]struct{}
	cuURLs     []string
	constraint string
	endpoints  Endpoints
}

// IsKnownProcess reports whether id is in the known-process set.
func (rt *ResolvedTopology) IsKnownProcess(id string) bool {
	_, ok := rt.known[id]
	return ok
}

// KnownProcessIDs returns the known-process set, sorted.
func (rt *ResolvedTopology) KnownProcessIDs() []string {
	out := make([]string, 0, len(rt.known))
	for id := range rt.known {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ComputeUnitURLs returns the enabled evaluation nodes in file order.
func (rt *ResolvedTopology) ComputeUnitURLs() []string {
	out := make([]string, len(rt.cuURLs))
	copy(out, rt.cuURLs)
	return out
}

// CUVersionConstraint returns the node version constraint, possibly empty.
func (rt *ResolvedTopology) CUVersionConstraint() string {
	return rt.constraint
}

// Endpoints returns the upstream endpoints from the file.
func (rt *ResolvedTopology) Endpoints() Endpoints {
	return rt.endpoints
}

// Name returns the topology name.
func (rt *ResolvedTopology) Name() string {
	return rt.name
}

// Version returns the topology version.
func (rt *ResolvedTopology) Version() string {
	return rt.version
}
