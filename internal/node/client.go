// SPDX-License-Identifier: MIT

package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/playq/internal/fault"
)

// client is the per-node REST client for track resolution. Control ops
// (play/stop) ride the websocket; see manage.go.
type client struct {
	base    string
	secret  string
	http    *http.Client
	limiter *rate.Limiter // paces REST calls so one tenant cannot starve a node
	headers headerIdentity
}

// headerIdentity is attached to every call and to the websocket dial.
type headerIdentity struct {
	Identity   string // stable daemon identity, e.g. "playq-<host>"
	ClientName string // "playq/<version>"
}

const rpcTimeout = 10 * time.Second

func newClient(cfg Config, id headerIdentity) *client {
	return &client{
		base:    strings.TrimRight(cfg.Endpoint, "/"),
		secret:  cfg.Secret,
		http:    &http.Client{Timeout: rpcTimeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		headers: id,
	}
}

func (c *client) authHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", c.secret)
	h.Set("User-Id", c.headers.Identity)
	h.Set("Client-Name", c.headers.ClientName)
	return h
}

// loadTrackResponse is the node's track resolution payload.
type loadTrackResponse struct {
	LoadType string `json:"loadType"` // "TRACK_LOADED" | "NO_MATCHES" | "LOAD_FAILED"
	Track    struct {
		Ref        string `json:"ref"`
		Title      string `json:"title"`
		DurationMS int64  `json:"durationMs"`
	} `json:"track"`
	Cause string `json:"cause,omitempty"`
}

// LoadTrack resolves a query or URI into playable track metadata.
func (c *client) LoadTrack(ctx context.Context, query string) (TrackMetadata, error) {
	const op = "node.loadTrack"
	var zero TrackMetadata

	if err := c.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	u := c.base + "/v1/loadtracks?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, fault.Wrap(fault.KindInternal, op, err)
	}
	for k, vals := range c.authHeaders() {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return zero, classifyTransport(op, err)
	}
	defer func() { _ = res.Body.Close() }()

	if err := classifyStatus(op, res); err != nil {
		return zero, err
	}

	var payload loadTrackResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return zero, fault.Wrap(fault.KindRemotePeer, op, err)
	}

	switch payload.LoadType {
	case "TRACK_LOADED":
		return TrackMetadata{
			Ref:      payload.Track.Ref,
			Title:    payload.Track.Title,
			Duration: time.Duration(payload.Track.DurationMS) * time.Millisecond,
		}, nil
	case "NO_MATCHES":
		return zero, fault.Errorf(fault.KindNotFound, op, "no matches for %q", query)
	default:
		return zero, fault.Errorf(fault.KindRemotePeer, op, "track load failed: %s", payload.Cause)
	}
}

// classifyTransport tags transport-level failures. A timeout on the bounded
// per-call context is a retryable network fault, not a caller cancellation.
func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.Wrap(fault.KindNetwork, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindNetwork, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fault.Wrap(fault.KindNetwork, op, err)
}

// classifyStatus maps HTTP status classes onto the fault taxonomy.
func classifyStatus(op string, res *http.Response) error {
	switch {
	case res.StatusCode == http.StatusOK:
		return nil
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return fault.Errorf(fault.KindPermission, op, "node rejected credentials (HTTP %d)", res.StatusCode)
	case res.StatusCode == http.StatusNotFound:
		return fault.Errorf(fault.KindNotFound, op, "HTTP %d", res.StatusCode)
	case res.StatusCode == http.StatusTooManyRequests:
		return &fault.Error{
			Kind:       fault.KindRateLimit,
			Op:         op,
			RetryAfter: parseRetryAfter(res.Header.Get("Retry-After")),
			Err:        fmt.Errorf("HTTP %d", res.StatusCode),
		}
	case res.StatusCode >= 500:
		return fault.Errorf(fault.KindRemotePeer, op, "HTTP %d", res.StatusCode)
	default:
		return fault.Errorf(fault.KindValidation, op, "HTTP %d", res.StatusCode)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
