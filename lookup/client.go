// Package lookup is the client side of the overlay index that admits escrow
// outputs: criteria queries, DNS endpoint discovery, and a websocket stream
// of admitted transitions.
package lookup

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
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

const queryPath = "/api/v1/lookup"

// Polling agents share one index; the default budget keeps a misbehaving
// loop from hammering it.
const (
	defaultQueriesPerSecond = 25
	defaultQueryBurst       = 50
)

// Client queries an overlay lookup service over HTTP. It implements
// escrow.LookupResolver.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	limiter *rate.Limiter
	http    *http.Client
}

// NewClient constructs a resolver against the lookup service at baseURL.
// tokens may be nil for unauthenticated services.
func NewClient(baseURL string, tokens auth.TokenSource) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("lookup: base URL is required")
	}
	if tokens == nil {
		tokens = auth.None
	}
	return &Client{
		baseURL: trimmed,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(defaultQueriesPerSecond), defaultQueryBurst),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// SetRateLimit replaces the client-side query budget.
func (c *Client) SetRateLimit(perSecond float64, burst int) {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

type wireQuestion struct {
	Service string   `json:"service"`
	Query   wireFind `json:"query"`
}

type wireFind struct {
	States       []string      `json:"states,omitempty"`
	Party        string        `json:"party,omitempty"`
	Outpoint     *wireOutpoint `json:"outpoint,omitempty"`
	IncludeSpent bool          `json:"includeSpent,omitempty"`
}

type wireOutpoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type wireAnswer struct {
	Outputs []wireOutput `json:"outputs"`
}

type wireOutput struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Satoshis      uint64 `json:"satoshis"`
	LockingScript string `json:"lockingScript"`
	SourceTx      string `json:"sourceTx,omitempty"`
	Spent         bool   `json:"spent,omitempty"`
}

// Query implements escrow.LookupResolver. The service answers with candidate
// outputs; record decoding and re-filtering happen in the escrow package.
func (c *Client) Query(ctx context.Context, question escrow.LookupQuestion) (*escrow.LookupAnswer, error) {
	service := strings.TrimSpace(question.Service)
	if service == "" {
		return nil, fmt.Errorf("lookup: service name is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("lookup: rate limit: %w", err)
	}
	payload, err := json.Marshal(questionToWire(service, question.Find))
	if err != nil {
		return nil, fmt.Errorf("lookup: encode question: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("lookup: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup: bearer token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup: query %s: %w", service, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lookup: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup: query %s failed: status=%d body=%s", service, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var answer wireAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("lookup: decode response: %w", err)
	}
	return answerFromWire(&answer)
}

func questionToWire(service string, find escrow.Criteria) wireQuestion {
	wire := wireFind{IncludeSpent: find.IncludeSpent}
	for _, state := range find.States {
		wire.States = append(wire.States, state.String())
	}
	if find.Party != nil && !find.Party.IsZero() {
		wire.Party = find.Party.String()
	}
	if find.Outpoint != nil && !find.Outpoint.IsZero() {
		wire.Outpoint = &wireOutpoint{TxID: find.Outpoint.TxID.String(), Vout: find.Outpoint.Vout}
	}
	return wireQuestion{Service: service, Query: wire}
}

func answerFromWire(answer *wireAnswer) (*escrow.LookupAnswer, error) {
	out := &escrow.LookupAnswer{}
	for i, entry := range answer.Outputs {
		txid, err := chainhash.NewHashFromHex(entry.TxID)
		if err != nil {
			return nil, fmt.Errorf("lookup: output %d: invalid txid %q: %w", i, entry.TxID, err)
		}
		lockingScript, err := hex.DecodeString(entry.LockingScript)
		if err != nil {
			return nil, fmt.Errorf("lookup: output %d: invalid locking script: %w", i, err)
		}
		var sourceTx []byte
		if entry.SourceTx != "" {
			sourceTx, err = hex.DecodeString(entry.SourceTx)
			if err != nil {
				return nil, fmt.Errorf("lookup: output %d: invalid source transaction: %w", i, err)
			}
		}
		out.Outputs = append(out.Outputs, escrow.LookupOutput{
			TxID:          *txid,
			Vout:          entry.Vout,
			Satoshis:      entry.Satoshis,
			LockingScript: lockingScript,
			SourceTx:      sourceTx,
			Spent:         entry.Spent,
		})
	}
	return out, nil
}
