// Package wallet is the JSON-RPC client for the key-custody wallet service.
// The service holds the party's keys, funds transactions from its own basket
// and returns fully signed raw transactions; nothing in this process ever
// sees a private key.
package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

const (
	methodDerivePublicKey = "wallet_derivePublicKey"
	methodSignAction      = "wallet_signAction"

	// deriveProtocol namespaces key derivation so escrow keys never collide
	// with other protocols sharing the same wallet.
	deriveProtocol = "escrow"
)

// Client implements escrow.Wallet against a wallet service endpoint.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
	nextID  atomic.Int64
}

// NewClient constructs a wallet client. tokens may be nil when the endpoint
// is protected by network boundaries instead of bearer auth.
func NewClient(baseURL string, tokens auth.TokenSource) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("wallet: base URL is required")
	}
	if tokens == nil {
		tokens = auth.None
	}
	return &Client{
		baseURL: trimmed,
		tokens:  tokens,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type deriveParams struct {
	Protocol string `json:"protocol"`
	Role     string `json:"role"`
}

type deriveResult struct {
	PublicKey string `json:"publicKey"`
}

type wireAction struct {
	Description string           `json:"description,omitempty"`
	Labels      []string         `json:"labels,omitempty"`
	Inputs      []wireInput      `json:"inputs,omitempty"`
	Outputs     []wireOutputSpec `json:"outputs,omitempty"`
	LockTime    uint32           `json:"lockTime,omitempty"`
	FeeRate     uint64           `json:"feeRate,omitempty"`
}

type wireInput struct {
	Outpoint              string     `json:"outpoint"`
	SourceTx              string     `json:"sourceTx,omitempty"`
	SequenceNumber        uint32     `json:"sequenceNumber"`
	UnlockingScriptLength uint32     `json:"unlockingScriptLength"`
	Unlock                wireUnlock `json:"unlock"`
	Description           string     `json:"description,omitempty"`
}

type wireUnlock struct {
	Method string   `json:"method"`
	Role   string   `json:"role"`
	Args   []string `json:"args,omitempty"`
}

type wireOutputSpec struct {
	LockingScript string `json:"lockingScript"`
	Satoshis      uint64 `json:"satoshis"`
	Description   string `json:"description,omitempty"`
}

type signResult struct {
	TxID  string `json:"txid"`
	RawTx string `json:"rawTx"`
}

// DerivePublicKey implements escrow.Wallet.
func (c *Client) DerivePublicKey(ctx context.Context, role escrow.Role) (crypto.PubKey, error) {
	switch role {
	case escrow.RoleSeeker, escrow.RoleFurnisher, escrow.RolePlatform:
	default:
		return crypto.PubKey{}, fmt.Errorf("wallet: unknown role %s", role)
	}
	var result deriveResult
	if err := c.call(ctx, methodDerivePublicKey, []interface{}{deriveParams{Protocol: deriveProtocol, Role: role.String()}}, &result); err != nil {
		return crypto.PubKey{}, err
	}
	key, err := crypto.ParsePubKey(result.PublicKey)
	if err != nil {
		return crypto.PubKey{}, fmt.Errorf("wallet: %s key: %w", role, err)
	}
	return key, nil
}

// SignAction implements escrow.Wallet. The returned transaction id is
// re-derived from the raw bytes; successor outpoints are built from it, so a
// wallet that reports a mismatched id must not be trusted.
func (c *Client) SignAction(ctx context.Context, action *escrow.Action) (*escrow.SignedAction, error) {
	if action == nil {
		return nil, fmt.Errorf("wallet: nil action")
	}
	var result signResult
	if err := c.call(ctx, methodSignAction, []interface{}{actionToWire(action)}, &result); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(result.RawTx)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("wallet: invalid raw transaction in signing result")
	}
	reported, err := chainhash.NewHashFromHex(result.TxID)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid txid in signing result: %w", err)
	}
	tx, err := transaction.NewTransactionFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet: unparseable signed transaction: %w", err)
	}
	if actual := tx.TxID(); !actual.IsEqual(reported) {
		return nil, fmt.Errorf("wallet: signed transaction id mismatch: reported %s, computed %s", reported, actual)
	}
	return &escrow.SignedAction{TxID: *reported, Raw: raw}, nil
}

func actionToWire(action *escrow.Action) wireAction {
	wire := wireAction{
		Description: action.Description,
		Labels:      action.Labels,
		LockTime:    action.LockTime,
		FeeRate:     action.FeeRate,
	}
	for i := range action.Inputs {
		in := &action.Inputs[i]
		args := make([]string, 0, len(in.Unlock.Args))
		for _, arg := range in.Unlock.Args {
			args = append(args, hex.EncodeToString(arg))
		}
		wire.Inputs = append(wire.Inputs, wireInput{
			Outpoint:              in.Outpoint.String(),
			SourceTx:              hex.EncodeToString(in.SourceTx),
			SequenceNumber:        in.SequenceNumber,
			UnlockingScriptLength: in.UnlockingScriptLength,
			Unlock: wireUnlock{
				Method: in.Unlock.Method.String(),
				Role:   in.Unlock.Role.String(),
				Args:   args,
			},
			Description: in.Description,
		})
	}
	for i := range action.Outputs {
		out := &action.Outputs[i]
		wire.Outputs = append(wire.Outputs, wireOutputSpec{
			LockingScript: hex.EncodeToString(out.LockingScript),
			Satoshis:      out.Satoshis,
			Description:   out.Description,
		})
	}
	return wire
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("wallet: encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wallet: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("wallet: bearer token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("wallet: %s: %w", method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("wallet: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet: %s failed: status=%d body=%s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("wallet: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("wallet: %s failed: code=%d message=%s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("wallet: empty %s result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("wallet: decode %s result: %w", method, err)
	}
	return nil
}
