package syncproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"phicore/internal/crdt"
	"phicore/internal/pkgerr"
)

// Puller pulls new remote operations given the caller's current vector clock.
type Puller interface {
	Pull(ctx context.Context, nodeID uint64, vc crdt.VectorClock) (PullResponse, error)
}

// Pusher pushes locally queued operations to the remote peer, batched at
// batchSize per call.
type Pusher interface {
	Push(ctx context.Context, nodeID uint64, ops []crdt.Operation, batchSize int) (PushResponse, error)
}

// Client is the HTTP Puller/Pusher pair, authenticated with a static
// bearer token and retrying failed calls with exponential backoff.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	backoff    Backoff
	maxRetries int
}

// NewClient builds a Client. httpClient defaults to http.DefaultClient
// when nil.
func NewClient(baseURL, token string, httpClient *http.Client, backoff Backoff, maxRetries int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, token: token, backoff: backoff, maxRetries: maxRetries}
}

func (c *Client) Pull(ctx context.Context, nodeID uint64, vc crdt.VectorClock) (PullResponse, error) {
	req := PullRequest{NodeID: nodeID, VectorClock: vectorClockString(vc)}
	var resp PullResponse
	err := c.doWithRetry(ctx, "/sync/pull", req, &resp)
	return resp, err
}

func (c *Client) Push(ctx context.Context, nodeID uint64, ops []crdt.Operation, batchSize int) (PushResponse, error) {
	if batchSize <= 0 {
		batchSize = len(ops)
	}
	merged := PushResponse{Rejected: make(map[string]string)}
	for start := 0; start < len(ops); start += batchSize {
		end := start + batchSize
		if end > len(ops) {
			end = len(ops)
		}
		wire := make([]OperationWire, 0, end-start)
		for _, op := range ops[start:end] {
			wire = append(wire, ToWire(op))
		}
		var resp PushResponse
		if err := c.doWithRetry(ctx, "/sync/push", PushRequest{NodeID: nodeID, Operations: wire}, &resp); err != nil {
			return merged, err
		}
		merged.Accepted = append(merged.Accepted, resp.Accepted...)
		merged.Conflicts = append(merged.Conflicts, resp.Conflicts...)
		for id, reason := range resp.Rejected {
			merged.Rejected[id] = reason
		}
	}
	return merged, nil
}

func (c *Client) doWithRetry(ctx context.Context, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff.Delay(attempt - 1)):
			}
		}
		err := c.do(ctx, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if isTerminal(err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	payload, err := marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerr.Wrap(pkgerr.Internal, "build sync request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerr.Wrap(pkgerr.StorageError, "execute sync request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return pkgerr.Wrap(pkgerr.RateLimitExceeded, "sync request rate limited", &RateLimitExceeded{RetryAfter: retryAfter})
	}
	if resp.StatusCode >= 300 {
		return pkgerr.New(pkgerr.StorageError, fmt.Sprintf("sync request failed: status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		return pkgerr.Wrap(pkgerr.ValidationError, "decode sync response", decodeErr)
	}
	return nil
}

func parseRetryAfter(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}

// isTerminal reports whether err should stop the retry loop immediately
// rather than be retried with backoff (authentication and validation
// failures never succeed on retry).
func isTerminal(err error) bool {
	var pe *pkgerr.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case pkgerr.ValidationError, pkgerr.AuthenticationFailed, pkgerr.Denied:
			return true
		}
	}
	return false
}
