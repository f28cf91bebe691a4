package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/morezero/message-relay/pkg/relay"
)

const gatewayLogPrefix = "clients:gateway"

// GatewayClient talks to the ledger gateway (existence probes) and the uploader (direct
// ledger writes).
type GatewayClient struct {
	gatewayURL  string
	uploaderURL string
	http        *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewGatewayClientParams holds dependencies for NewGatewayClient.
type NewGatewayClientParams struct {
	GatewayURL  string
	UploaderURL string
	HTTPClient  *http.Client
	// ProbeRate caps existence probes per second. Zero means unlimited.
	ProbeRate float64
	Logger    *slog.Logger
}

// NewGatewayClient creates a GatewayClient. GatewayURL and UploaderURL are required.
func NewGatewayClient(params NewGatewayClientParams) (*GatewayClient, error) {
	if params.GatewayURL == "" {
		return nil, fmt.Errorf("%s - gateway URL is required", gatewayLogPrefix)
	}
	if params.UploaderURL == "" {
		return nil, fmt.Errorf("%s - uploader URL is required", gatewayLogPrefix)
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if params.ProbeRate > 0 {
		burst := int(params.ProbeRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(params.ProbeRate), burst)
	}
	return &GatewayClient{
		gatewayURL:  params.GatewayURL,
		uploaderURL: params.UploaderURL,
		http:        defaultHTTPClient(params.HTTPClient),
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// ProbeLedgerExistence issues HEAD {gateway}/{id}. 2xx is found, 404 is not found and
// anything else is an error.
func (c *GatewayClient) ProbeLedgerExistence(ctx context.Context, id string) (bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("%s - probe rate limit: %w", gatewayLogPrefix, err)
		}
	}
	err := do(ctx, c.http, http.MethodHead, joinURL(c.gatewayURL, url.PathEscape(id)), nil, "", nil)
	switch {
	case err == nil:
		return true, nil
	case IsStatus(err, http.StatusNotFound):
		return false, nil
	default:
		return false, err
	}
}

// WriteDataItemArweave posts the signed item straight to the ledger uploader.
func (c *GatewayClient) WriteDataItemArweave(ctx context.Context, tx *relay.Tx) (*relay.WriteResult, error) {
	if tx == nil || len(tx.Data) == 0 {
		return nil, errors.New(gatewayLogPrefix + " - tx has no data")
	}
	if err := do(ctx, c.http, http.MethodPost, joinURL(c.uploaderURL, "tx"), bytes.NewReader(tx.Data), "application/octet-stream", nil); err != nil {
		return nil, fmt.Errorf("%s - ledger write of %s failed: %w", gatewayLogPrefix, tx.ID, err)
	}
	c.logger.Debug(fmt.Sprintf("%s - wrote %s to ledger", gatewayLogPrefix, tx.ID))
	return &relay.WriteResult{ArweaveTx: true, ID: tx.ID}, nil
}
