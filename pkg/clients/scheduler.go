package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/morezero/message-relay/pkg/relay"
)

const schedulerLogPrefix = "clients:scheduler"

// SchedulerClient locates a process's scheduler unit through the router and writes data
// items to it. Located URLs are cached for the life of the client.
type SchedulerClient struct {
	routerURL string
	http      *http.Client
	logger    *slog.Logger

	mu        sync.RWMutex
	locations map[string]string
	flights   singleflight.Group
}

// NewSchedulerClient creates a SchedulerClient. routerURL is required.
func NewSchedulerClient(routerURL string, hc *http.Client, logger *slog.Logger) (*SchedulerClient, error) {
	if routerURL == "" {
		return nil, fmt.Errorf("%s - scheduler router URL is required", schedulerLogPrefix)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerClient{
		routerURL: routerURL,
		http:      defaultHTTPClient(hc),
		logger:    logger,
		locations: make(map[string]string),
	}, nil
}

type locateResponse struct {
	URL string `json:"url"`
}

// LocateScheduler returns the scheduler URL for processID.
func (c *SchedulerClient) LocateScheduler(ctx context.Context, processID string) (string, error) {
	c.mu.RLock()
	cached, ok := c.locations[processID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// The shared lookup outlives any one caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	if c.http.Timeout <= 0 {
		var cancel context.CancelFunc
		flightCtx, cancel = context.WithTimeout(flightCtx, DefaultTimeout)
		defer cancel()
	}
	v, err, _ := c.flights.Do(processID, func() (interface{}, error) {
		var out locateResponse
		endpoint := joinURL(c.routerURL, "") + "?process-id=" + url.QueryEscape(processID)
		if err := do(flightCtx, c.http, http.MethodGet, endpoint, nil, "", &out); err != nil {
			return "", fmt.Errorf("%s - locate %s: %w", schedulerLogPrefix, processID, err)
		}
		if out.URL == "" {
			return "", fmt.Errorf("%s - router returned no scheduler for %s", schedulerLogPrefix, processID)
		}
		c.mu.Lock()
		c.locations[processID] = out.URL
		c.mu.Unlock()
		c.logger.Debug(fmt.Sprintf("%s - process %s is scheduled by %s", schedulerLogPrefix, processID, out.URL))
		return out.URL, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type writeResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// WriteDataItem posts the signed item to the tx's scheduler unit.
func (c *SchedulerClient) WriteDataItem(ctx context.Context, tx *relay.Tx) (*relay.WriteResult, error) {
	if tx == nil || len(tx.Data) == 0 {
		return nil, errors.New(schedulerLogPrefix + " - tx has no data")
	}
	if tx.SchedulerURL == "" {
		return nil, fmt.Errorf("%s - tx %s has no scheduler", schedulerLogPrefix, tx.ID)
	}
	var out writeResponse
	if err := do(ctx, c.http, http.MethodPost, joinURL(tx.SchedulerURL, ""), bytes.NewReader(tx.Data), "application/octet-stream", &out); err != nil {
		return nil, fmt.Errorf("%s - write %s failed: %w", schedulerLogPrefix, tx.ID, err)
	}
	id := out.ID
	if id == "" {
		id = tx.ID
	}
	return &relay.WriteResult{ArweaveTx: false, ID: id, Timestamp: out.Timestamp}, nil
}

// Transport combines both write paths into a relay.MessageWriter.
type Transport struct {
	*SchedulerClient
	*GatewayClient
}
