package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// medianTimeSpan is the number of trailing block timestamps that feed the
// median time calculation. Matches consensus: a transaction lock time is
// satisfied once it is below the median of the last eleven blocks.
const medianTimeSpan = 11

const (
	tipPath       = "/api/v1/chain/tip"
	headerPathFmt = "/api/v1/chain/header/%d"
)

// HeadersClient resolves chain time from a block headers service. The tip is
// fetched fresh on every call; the trailing window is served from the header
// store and only refetched on a cache miss or a reorg.
type HeadersClient struct {
	baseURL string
	apiKey  string
	store   HeaderStore
	http    *http.Client
}

// NewHeadersClient constructs a client against the headers service at
// baseURL. apiKey may be empty for unauthenticated services. A nil store
// falls back to an in-memory cache.
func NewHeadersClient(baseURL, apiKey string, store HeaderStore) (*HeadersClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("headers client: base URL is required")
	}
	if store == nil {
		store = NewMemHeaderStore()
	}
	return &HeadersClient{
		baseURL: trimmed,
		apiKey:  strings.TrimSpace(apiKey),
		store:   store,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Now implements Tracker. MedianTime is the median of the last
// medianTimeSpan header timestamps ending at the tip; near genesis the
// window shrinks to the headers that exist.
func (c *HeadersClient) Now(ctx context.Context) (Time, error) {
	tip, err := c.fetchTip(ctx)
	if err != nil {
		return Time{}, err
	}
	if err := c.store.PutHeader(tip); err != nil {
		return Time{}, err
	}
	times, err := c.window(ctx, tip)
	if err != nil {
		return Time{}, err
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return Time{Height: tip.Height, MedianTime: times[len(times)/2]}, nil
}

// Tip returns the highest header the store has seen without touching the
// network. The bool is false until the first successful Now.
func (c *HeadersClient) Tip() (Header, bool, error) {
	return c.store.Tip()
}

func (c *HeadersClient) window(ctx context.Context, tip Header) ([]uint64, error) {
	span := medianTimeSpan
	if int(tip.Height)+1 < span {
		span = int(tip.Height) + 1
	}
	times := make([]uint64, 0, span)
	times = append(times, tip.Time)
	child := tip
	for i := 1; i < span; i++ {
		header, err := c.headerAt(ctx, tip.Height-uint32(i), child)
		if err != nil {
			return nil, err
		}
		times = append(times, header.Time)
		child = header
	}
	return times, nil
}

// headerAt returns the header at height, trusting the cache only while it
// still connects to child. A stale entry after a reorg fails the linkage
// check and is refetched.
func (c *HeadersClient) headerAt(ctx context.Context, height uint32, child Header) (Header, error) {
	cached, ok, err := c.store.HeaderAt(height)
	if err != nil {
		return Header{}, err
	}
	if ok && cached.Connects(child) {
		return cached, nil
	}
	fetched, err := c.fetchHeader(ctx, height)
	if err != nil {
		return Header{}, err
	}
	if !fetched.Connects(child) {
		return Header{}, fmt.Errorf("headers client: header %s at height %d does not connect to %s", fetched.Hash, height, child.Hash)
	}
	if err := c.store.PutHeader(fetched); err != nil {
		return Header{}, err
	}
	return fetched, nil
}

func (c *HeadersClient) fetchTip(ctx context.Context) (Header, error) {
	var tip Header
	if err := c.get(ctx, tipPath, &tip); err != nil {
		return Header{}, err
	}
	if tip.Hash == "" {
		return Header{}, fmt.Errorf("headers client: tip response missing hash")
	}
	return tip, nil
}

func (c *HeadersClient) fetchHeader(ctx context.Context, height uint32) (Header, error) {
	var header Header
	if err := c.get(ctx, fmt.Sprintf(headerPathFmt, height), &header); err != nil {
		return Header{}, err
	}
	if header.Hash == "" {
		return Header{}, fmt.Errorf("headers client: header response at height %d missing hash", height)
	}
	if header.Height != height {
		return Header{}, fmt.Errorf("headers client: requested height %d, got %d", height, header.Height)
	}
	return header, nil
}

func (c *HeadersClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("headers client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("headers client: %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("headers client: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("headers client: %s failed: status=%d body=%s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("headers client: decode %s response: %w", path, err)
	}
	return nil
}
