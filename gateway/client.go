// Package gateway is the typed façade over the Availability Gateway's HTTPS
// API, per spec §4.5/§6. It owns retry/backoff on transient network and 5xx
// classes, leaving structural 4xx failures to the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/starkware-libs/starkex-data-availability-committee/batch"
	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
	"github.com/starkware-libs/starkex-data-availability-committee/internal/backoff"
)

// BatchStatus is the sum type from spec §9's Design Notes, replacing a raw
// "nil means not-yet-available" contract with an explicit discriminated
// result the committee loop switches on.
type BatchStatus struct {
	// Descriptor is set iff Kind == FreshHead.
	Descriptor *batch.Descriptor
	// ReorgFromID is set iff Kind == ReorgFrom.
	ReorgFromID int64
	Kind        StatusKind
}

// StatusKind discriminates the variants of BatchStatus.
type StatusKind int

const (
	// FreshHead means the requested batch is available as Descriptor.
	FreshHead StatusKind = iota
	// ReorgFrom means the gateway's view of history now diverges starting
	// at ReorgFromID; the caller should rewind before re-fetching.
	ReorgFrom
	// NotYetAvailable means the requested batch has not been published.
	NotYetAvailable
)

// Client speaks HTTPS with mutual TLS to one Availability Gateway endpoint.
// It is stateless between calls, per spec §4.5.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    backoff.Backoff
}

// Config carries the subset of config.Config the gateway client needs to
// build its transport.
type Config struct {
	Endpoint          string
	CertificatesPath  string
	RequestTimeout    time.Duration
}

// New builds a Client with mTLS transport, per spec §4.5 and the
// client/server tls.Config pattern grounded in jam-duna/jamduna/node/node.go.
func New(cfg Config) (*Client, error) {
	tlsConfig, err := loadClientTLSConfig(cfg.CertificatesPath)
	if err != nil {
		return nil, dacerrors.Errorf(dacerrors.Internal, "gateway: %v", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return newWithHTTPClient(cfg.Endpoint, &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}), nil
}

// newWithHTTPClient builds a Client around an already-constructed
// *http.Client, letting tests substitute a plain-HTTP httptest.Server
// instead of standing up a real mTLS listener.
func newWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		backoff: backoff.Backoff{
			Min:         200 * time.Millisecond,
			Max:         10 * time.Second,
			Factor:      2,
			Jitter:      true,
			MaxAttempts: 5,
		},
	}
}

// batchDataResponse mirrors the JSON shape of get_batch_data, per spec §6.
type batchDataResponse struct {
	BatchID          int64           `json:"batch_id"`
	ReferenceBatchID int64           `json:"reference_batch_id"`
	PrevBatchRoot    string          `json:"prev_batch_root"`
	NextBatchRoot    string          `json:"next_batch_root"`
	OrderRoot        string          `json:"order_root,omitempty"`
	RollupVaultRoot  string          `json:"rollup_vault_root,omitempty"`
	UpdateEntries    [][]interface{} `json:"update_entries"`
}

// GetBatchData fetches the batch with the given id, returning NotYetAvailable
// if the gateway has no such batch yet. primaryTree names whichever of
// batch.TreeVault/batch.TreePosition the configured profile uses: the wire
// schema's single update_entries list carries that tree's deltas, while
// order/rollup roots travel declared-only: the descriptor carries no updates
// for those trees, so the applier's recomputed root for them is the
// reference batch's root unchanged.
// Retries transient/5xx failures; 4xx responses are returned as structural
// errors without retry.
func (c *Client) GetBatchData(ctx context.Context, batchID int64, primaryTree string) (BatchStatus, error) {
	var status BatchStatus
	err := c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/availability_gateway/get_batch_data",
			map[string]string{"batch_id": strconv.FormatInt(batchID, 10)})
		if err != nil {
			return dacerrors.Errorf(dacerrors.Internal, "gateway: build request: %v", err)
		}
		body, statusCode, err := c.do(req)
		if err != nil {
			return err
		}
		if statusCode >= 400 {
			return classifyHTTPStatus(statusCode, body)
		}
		if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
			status = BatchStatus{Kind: NotYetAvailable}
			return nil
		}
		var resp batchDataResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return dacerrors.Errorf(dacerrors.Internal, "gateway: malformed get_batch_data response: %v", err)
		}
		desc, err := decodeBatchDescriptor(resp, primaryTree)
		if err != nil {
			return err
		}
		status = BatchStatus{Kind: FreshHead, Descriptor: desc}
		return nil
	})
	return status, err
}

func decodeBatchDescriptor(resp batchDataResponse, primaryTree string) (*batch.Descriptor, error) {
	prevRoot, err := hex.DecodeString(resp.PrevBatchRoot)
	if err != nil {
		return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: malformed prev_batch_root: %v", err)
	}
	nextRoot, err := hex.DecodeString(resp.NextBatchRoot)
	if err != nil {
		return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: malformed next_batch_root: %v", err)
	}
	desc := &batch.Descriptor{
		BatchID:           resp.BatchID,
		ReferenceBatchID:  resp.ReferenceBatchID,
		DeclaredRoots:     map[string][]byte{primaryTree: nextRoot},
		DeclaredPrevRoots: map[string][]byte{primaryTree: prevRoot},
	}
	if resp.OrderRoot != "" {
		orderRoot, err := hex.DecodeString(resp.OrderRoot)
		if err != nil {
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: malformed order_root: %v", err)
		}
		desc.DeclaredRoots[batch.TreeOrder] = orderRoot
	}
	if resp.RollupVaultRoot != "" {
		rollupRoot, err := hex.DecodeString(resp.RollupVaultRoot)
		if err != nil {
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: malformed rollup_vault_root: %v", err)
		}
		desc.DeclaredRoots[batch.TreeRollupVault] = rollupRoot
	}
	for _, entry := range resp.UpdateEntries {
		if len(entry) < 2 {
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: malformed update_entries entry: %v", entry)
		}
		idxFloat, ok := entry[0].(float64)
		if !ok {
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: update index is not a number: %v", entry[0])
		}
		valueHex, ok := entry[1].(string)
		if !ok {
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: update value is not a hex string: %v", entry[1])
		}
		value, err := hex.DecodeString(valueHex)
		if err != nil {
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: malformed update value: %v", err)
		}
		desc.Updates = append(desc.Updates, batch.Update{
			Tree:  primaryTree,
			Index: uint64(idxFloat),
			Value: value,
		})
	}
	return desc, nil
}

// GetLatestBatchID returns the gateway's current head, per spec §4.5. May
// decrease after a reorg, which is why the committee loop never assumes
// monotonicity between polls.
func (c *Client) GetLatestBatchID(ctx context.Context) (int64, error) {
	var id int64
	err := c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/availability_gateway/get_last_batch_id", nil)
		if err != nil {
			return dacerrors.Errorf(dacerrors.Internal, "gateway: build request: %v", err)
		}
		body, statusCode, err := c.do(req)
		if err != nil {
			return err
		}
		if statusCode >= 400 {
			return classifyHTTPStatus(statusCode, body)
		}
		if err := json.Unmarshal(body, &id); err != nil {
			return dacerrors.Errorf(dacerrors.Internal, "gateway: malformed get_last_batch_id response: %v", err)
		}
		return nil
	})
	return id, err
}

type approveRootsRequest struct {
	BatchID   int64  `json:"batch_id"`
	Signature string `json:"signature"`
	ClaimHash string `json:"claim_hash"`
	MemberKey string `json:"member_key"`
}

// SendSignature submits a signed attestation, per spec §4.5/§6. A 4xx
// response is returned unretried so the committee loop can decide between
// re-fetch and rewind (spec §7).
func (c *Client) SendSignature(ctx context.Context, batchID int64, claimHash, signature, memberKey []byte) error {
	payload, err := json.Marshal(approveRootsRequest{
		BatchID:   batchID,
		Signature: hex.EncodeToString(signature),
		ClaimHash: hex.EncodeToString(claimHash),
		MemberKey: hex.EncodeToString(memberKey),
	})
	if err != nil {
		return dacerrors.Errorf(dacerrors.Internal, "gateway: encode approve_new_roots body: %v", err)
	}
	return c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/availability_gateway/approve_new_roots", bytes.NewReader(payload))
		if err != nil {
			return dacerrors.Errorf(dacerrors.Internal, "gateway: build request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		body, statusCode, err := c.do(req)
		if err != nil {
			return err
		}
		if statusCode >= 400 {
			return classifyHTTPStatus(statusCode, body)
		}
		return nil
	})
}

// IsAlive probes the gateway's liveness endpoint. Not required for
// correctness, but present in the original and used by the committee loop's
// own health surface.
func (c *Client) IsAlive(ctx context.Context) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/availability_gateway/is_alive", nil)
	if err != nil {
		return false, dacerrors.Errorf(dacerrors.Internal, "gateway: build request: %v", err)
	}
	_, statusCode, err := c.do(req)
	if err != nil {
		return false, nil
	}
	return statusCode < 400, nil
}

// OrderTreeHeight asks the gateway for the order tree's height, letting the
// node cross-check config.Config.TreeHeight at startup per SPEC_FULL.md §5.5.
func (c *Client) OrderTreeHeight(ctx context.Context) (int, error) {
	var height int
	err := c.retry(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/availability_gateway/order_tree_height", nil)
		if err != nil {
			return dacerrors.Errorf(dacerrors.Internal, "gateway: build request: %v", err)
		}
		body, statusCode, err := c.do(req)
		if err != nil {
			return err
		}
		if statusCode >= 400 {
			return classifyHTTPStatus(statusCode, body)
		}
		if err := json.Unmarshal(body, &height); err != nil {
			return dacerrors.Errorf(dacerrors.Internal, "gateway: malformed order_tree_height response: %v", err)
		}
		return nil
	})
	return height, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, query map[string]string) (*http.Request, error) {
	url := c.baseURL + path
	if len(query) > 0 {
		first := true
		for k, v := range query {
			sep := "&"
			if first {
				sep = "?"
				first = false
			}
			url += sep + k + "=" + v
		}
	}
	return http.NewRequestWithContext(ctx, method, url, nil)
}

// do executes req once, returning the response body and status code. A
// non-nil error here means a network-level failure or a 5xx status, both
// classified Unavailable (retryable); 4xx statuses come back with a nil
// error, via the status code, for the caller to classify.
func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, dacerrors.Errorf(dacerrors.Unavailable, "gateway: request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, dacerrors.Errorf(dacerrors.Unavailable, "gateway: read response: %v", err)
	}
	if resp.StatusCode >= 500 {
		return body, resp.StatusCode, dacerrors.Errorf(dacerrors.Unavailable, "gateway: %s returned %d", req.URL.Path, resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

func classifyHTTPStatus(statusCode int, body []byte) error {
	return dacerrors.Errorf(dacerrors.InvalidArgument, "gateway: %d: %s", statusCode, string(bytes.TrimSpace(body)))
}

// retry wraps op with the client's backoff policy. Only dacerrors.Unavailable
// failures (network errors, 5xx) are retried; InvalidArgument (4xx) and
// Internal errors return immediately.
func (c *Client) retry(ctx context.Context, op func() error) error {
	b := c.backoff
	err := b.Retry(ctx, func() error {
		err := op()
		if err != nil && dacerrors.GetCode(err) != dacerrors.Unavailable {
			glog.Warningf("gateway: non-retryable failure: %v", err)
			b.MaxAttempts = 1 // ends b.Retry after this attempt
			return &terminal{err}
		}
		return err
	})
	if t, ok := err.(*terminal); ok {
		return t.err
	}
	return err
}

type terminal struct{ err error }

func (t *terminal) Error() string { return t.err.Error() }
