package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/cespare/xxhash/v2"

	"github.com/morezero/message-relay/pkg/relay"
)

const cuLogPrefix = "clients:cu"

// CUClient selects evaluation nodes and fetches results from them.
type CUClient struct {
	nodes      []string
	constraint *semver.Constraints
	http       *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	eligible map[string]bool
}

// NewCUClientParams holds dependencies for NewCUClient.
type NewCUClientParams struct {
	Nodes []string
	// VersionConstraint, when set, excludes nodes whose reported version does not satisfy it.
	VersionConstraint string
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// NewCUClient creates a CUClient. At least one node is required.
func NewCUClient(params NewCUClientParams) (*CUClient, error) {
	if len(params.Nodes) == 0 {
		return nil, fmt.Errorf("%s - at least one evaluation node is required", cuLogPrefix)
	}
	var constraint *semver.Constraints
	if params.VersionConstraint != "" {
		c, err := semver.NewConstraint(params.VersionConstraint)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid version constraint %q: %w", cuLogPrefix, params.VersionConstraint, err)
		}
		constraint = c
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nodes := make([]string, len(params.Nodes))
	copy(nodes, params.Nodes)
	return &CUClient{
		nodes:      nodes,
		constraint: constraint,
		http:       defaultHTTPClient(params.HTTPClient),
		logger:     logger,
		eligible:   make(map[string]bool),
	}, nil
}

// rankNodes orders nodes by rendezvous score for processID, highest first.
func rankNodes(nodes []string, processID string) []string {
	type scored struct {
		node  string
		score uint64
	}
	ranked := make([]scored, len(nodes))
	for i, n := range nodes {
		ranked[i] = scored{node: n, score: xxhash.Sum64String(n + "|" + processID)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].node < ranked[j].node
		}
		return ranked[i].score > ranked[j].score
	})
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.node
	}
	return out
}

// SelectNode returns the highest ranked eligible node for processID.
func (c *CUClient) SelectNode(ctx context.Context, processID string) (string, error) {
	var lastErr error
	for _, node := range rankNodes(c.nodes, processID) {
		ok, err := c.isEligible(ctx, node)
		if err != nil {
			lastErr = err
			c.logger.Warn(fmt.Sprintf("%s - skipping node %s: %v", cuLogPrefix, node, err))
			continue
		}
		if ok {
			return node, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%s - no eligible node for %s: %w", cuLogPrefix, processID, lastErr)
	}
	return "", fmt.Errorf("%s - no node satisfies %s for %s", cuLogPrefix, c.constraint, processID)
}

type nodeInfo struct {
	Version string `json:"version"`
}

// isEligible checks a node's version once and remembers the answer. Errors are not cached.
func (c *CUClient) isEligible(ctx context.Context, node string) (bool, error) {
	if c.constraint == nil {
		return true, nil
	}
	c.mu.Lock()
	ok, seen := c.eligible[node]
	c.mu.Unlock()
	if seen {
		return ok, nil
	}

	var info nodeInfo
	if err := do(ctx, c.http, http.MethodGet, joinURL(node, ""), nil, "", &info); err != nil {
		return false, err
	}
	v, err := semver.NewVersion(info.Version)
	if err != nil {
		return false, fmt.Errorf("%s - node %s reported version %q: %w", cuLogPrefix, node, info.Version, err)
	}
	ok = c.constraint.Check(v)
	if !ok {
		c.logger.Info(fmt.Sprintf("%s - node %s version %s does not satisfy %s", cuLogPrefix, node, v, c.constraint))
	}

	c.mu.Lock()
	c.eligible[node] = ok
	c.mu.Unlock()
	return ok, nil
}

// FetchResult asks the node to evaluate tx within its process and returns the result.
func (c *CUClient) FetchResult(ctx context.Context, cuAddress string, tx *relay.Tx) (*relay.EvaluationResult, error) {
	if tx == nil || tx.ProcessID == "" {
		return nil, fmt.Errorf("%s - fetch result requires a process tx", cuLogPrefix)
	}
	endpoint := joinURL(cuAddress, "result", url.PathEscape(tx.ID)) + "?process-id=" + url.QueryEscape(tx.ProcessID)
	var out relay.EvaluationResult
	if err := do(ctx, c.http, http.MethodGet, endpoint, nil, "", &out); err != nil {
		return nil, fmt.Errorf("%s - result for %s: %w", cuLogPrefix, tx.ID, err)
	}
	if out.Messages == nil {
		out.Messages = []relay.Message{}
	}
	return &out, nil
}
