// Package broadcast submits signed transactions to the network through a
// transaction processor endpoint.
package broadcast

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

const submitPath = "/api/v1/broadcast"

// Rejection codes that mean the spent outpoint is gone: either another
// transaction took it first or it never reached the mempool we see. Both
// resolve the same way, re-read the escrow and retry on the fresh state.
var staleOutpointCodes = map[string]bool{
	"double-spend":           true,
	"double-spend-attempted": true,
	"missing-inputs":         true,
}

// Client implements escrow.Broadcaster.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
}

// NewClient constructs a broadcaster against the processor at baseURL.
func NewClient(baseURL string, tokens auth.TokenSource) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("broadcast: base URL is required")
	}
	if tokens == nil {
		tokens = auth.None
	}
	return &Client{
		baseURL: trimmed,
		tokens:  tokens,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type wireSubmission struct {
	RawTx string `json:"rawTx"`
}

type wireAck struct {
	TxID string `json:"txid"`
}

type wireRejection struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	DoubleSpend bool   `json:"doubleSpend"`
}

// Broadcast implements escrow.Broadcaster. Processor refusals surface as
// *escrow.BroadcastRejection; transport and server faults stay plain errors
// so callers never mistake an outage for a consensus verdict.
func (c *Client) Broadcast(ctx context.Context, raw []byte) (*escrow.BroadcastAck, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("broadcast: empty transaction")
	}
	payload, err := json.Marshal(wireSubmission{RawTx: hex.EncodeToString(raw)})
	if err != nil {
		return nil, fmt.Errorf("broadcast: encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("broadcast: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("broadcast: bearer token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broadcast: submit: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("broadcast: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		var ack wireAck
		if err := json.Unmarshal(body, &ack); err != nil {
			return nil, fmt.Errorf("broadcast: decode ack: %w", err)
		}
		txid, err := chainhash.NewHashFromHex(ack.TxID)
		if err != nil {
			return nil, fmt.Errorf("broadcast: invalid txid in ack: %w", err)
		}
		return &escrow.BroadcastAck{TxID: *txid}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var rejection wireRejection
		if err := json.Unmarshal(body, &rejection); err != nil || rejection.Code == "" {
			return nil, fmt.Errorf("broadcast: submit failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, &escrow.BroadcastRejection{
			Code:        rejection.Code,
			Description: rejection.Description,
			DoubleSpend: rejection.DoubleSpend || staleOutpointCodes[rejection.Code],
		}

	default:
		return nil, fmt.Errorf("broadcast: submit failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
