package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

type rpcCapture struct {
	mu     sync.Mutex
	bodies [][]byte
	header http.Header
}

func (c *rpcCapture) record(r *http.Request, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	c.header = r.Header.Clone()
}

func (c *rpcCapture) body(t *testing.T, i int) []byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Greater(t, len(c.bodies), i)
	return c.bodies[i]
}

// newRPCClient serves respond() for every request and captures what the
// client sent.
func newRPCClient(t *testing.T, captured *rpcCapture, respond func() string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		captured.record(r, buf.Bytes())
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, respond())
	}))
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, auth.Static("wallet-token"))
	require.NoError(t, err)
	return client
}

// signedFixture is a minimal but genuine transaction for signing results.
func signedFixture(t *testing.T, satoshis uint64) (txidHex string, rawHex string) {
	t.Helper()
	tx := transaction.NewTransaction()
	lock := &script.Script{}
	require.NoError(t, lock.AppendOpcodes(script.OpTRUE))
	tx.AddOutput(&transaction.TransactionOutput{LockingScript: lock, Satoshis: satoshis})
	return tx.TxID().String(), hex.EncodeToString(tx.Bytes())
}

func TestDerivePublicKey(t *testing.T) {
	_, pub := ec.PrivateKeyFromBytes(bytes.Repeat([]byte{0x2a}, 32))
	want := crypto.FromEC(pub)

	captured := &rpcCapture{}
	client := newRPCClient(t, captured, func() string {
		return fmt.Sprintf(`{"result":{"publicKey":%q}}`, want.String())
	})

	got, err := client.DerivePublicKey(context.Background(), escrow.RoleFurnisher)
	require.NoError(t, err)
	require.Equal(t, want, got)

	type envelope struct {
		JSONRPC string         `json:"jsonrpc"`
		Method  string         `json:"method"`
		Params  []deriveParams `json:"params"`
		ID      int64          `json:"id"`
	}
	var req envelope
	require.NoError(t, json.Unmarshal(captured.body(t, 0), &req))
	require.Equal(t, "2.0", req.JSONRPC)
	require.Equal(t, methodDerivePublicKey, req.Method)
	require.Equal(t, []deriveParams{{Protocol: "escrow", Role: "furnisher"}}, req.Params)
	require.Equal(t, int64(1), req.ID)

	captured.mu.Lock()
	require.Equal(t, "Bearer wallet-token", captured.header.Get("Authorization"))
	require.Equal(t, "application/json", captured.header.Get("Content-Type"))
	captured.mu.Unlock()

	// Request ids increment per call.
	_, err = client.DerivePublicKey(context.Background(), escrow.RoleSeeker)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(captured.body(t, 1), &req))
	require.Equal(t, int64(2), req.ID)
	require.Equal(t, "seeker", req.Params[0].Role)
}

func TestDerivePublicKeyRejects(t *testing.T) {
	captured := &rpcCapture{}
	client := newRPCClient(t, captured, func() string {
		return `{"result":{"publicKey":"02` + strings.Repeat("00", 32) + `"}}`
	})

	_, err := client.DerivePublicKey(context.Background(), escrow.Role(9))
	require.ErrorContains(t, err, "unknown role")
	captured.mu.Lock()
	require.Empty(t, captured.bodies)
	captured.mu.Unlock()

	_, err = client.DerivePublicKey(context.Background(), escrow.RolePlatform)
	require.ErrorContains(t, err, "platform key")
}

func TestSignActionRoundTrip(t *testing.T) {
	txidHex, rawHex := signedFixture(t, 1000)
	captured := &rpcCapture{}
	client := newRPCClient(t, captured, func() string {
		return fmt.Sprintf(`{"result":{"txid":%q,"rawTx":%q}}`, txidHex, rawHex)
	})

	prior := escrow.Outpoint{Vout: 1}
	prior.TxID[0] = 0x9c
	action := &escrow.Action{
		Description: "escrow acceptBid",
		Labels:      []string{"escrow", "acceptBid"},
		LockTime:    0,
		FeeRate:     50,
		Inputs: []escrow.ActionInput{{
			Outpoint:              prior,
			SourceTx:              []byte{0xbe, 0xef},
			SequenceNumber:        0xFFFFFFFF,
			UnlockingScriptLength: 180,
			Unlock: escrow.UnlockPlan{
				Method: escrow.MethodAcceptBid,
				Role:   escrow.RoleSeeker,
				Args:   [][]byte{{0x00, 0x01}},
			},
			Description: "escrow " + prior.String(),
		}},
		Outputs: []escrow.ActionOutput{
			{LockingScript: []byte{0x51}, Satoshis: 1000, Description: "escrow state assigned"},
			{LockingScript: []byte{0x52}, Satoshis: 95, Description: "refunded bond"},
		},
	}

	signed, err := client.SignAction(context.Background(), action)
	require.NoError(t, err)
	require.Equal(t, txidHex, signed.TxID.String())
	wantRaw, _ := hex.DecodeString(rawHex)
	require.Equal(t, wantRaw, signed.Raw)

	type envelope struct {
		Method string       `json:"method"`
		Params []wireAction `json:"params"`
	}
	var req envelope
	require.NoError(t, json.Unmarshal(captured.body(t, 0), &req))
	require.Equal(t, methodSignAction, req.Method)
	require.Len(t, req.Params, 1)
	wire := req.Params[0]
	require.Equal(t, "escrow acceptBid", wire.Description)
	require.Equal(t, []string{"escrow", "acceptBid"}, wire.Labels)
	require.Equal(t, uint64(50), wire.FeeRate)
	require.Zero(t, wire.LockTime)

	require.Len(t, wire.Inputs, 1)
	in := wire.Inputs[0]
	require.Equal(t, prior.String(), in.Outpoint)
	require.Equal(t, "beef", in.SourceTx)
	require.Equal(t, uint32(0xFFFFFFFF), in.SequenceNumber)
	require.Equal(t, uint32(180), in.UnlockingScriptLength)
	require.Equal(t, "acceptBid", in.Unlock.Method)
	require.Equal(t, "seeker", in.Unlock.Role)
	require.Equal(t, []string{"0001"}, in.Unlock.Args)

	require.Len(t, wire.Outputs, 2)
	require.Equal(t, "51", wire.Outputs[0].LockingScript)
	require.Equal(t, uint64(1000), wire.Outputs[0].Satoshis)
	require.Equal(t, "refunded bond", wire.Outputs[1].Description)
}

func TestSignActionVerifiesTxID(t *testing.T) {
	_, rawHex := signedFixture(t, 1000)
	otherTxID, _ := signedFixture(t, 2000)
	captured := &rpcCapture{}
	client := newRPCClient(t, captured, func() string {
		return fmt.Sprintf(`{"result":{"txid":%q,"rawTx":%q}}`, otherTxID, rawHex)
	})

	_, err := client.SignAction(context.Background(), &escrow.Action{})
	require.ErrorContains(t, err, "transaction id mismatch")
}

func TestSignActionMalformedResults(t *testing.T) {
	txidHex, _ := signedFixture(t, 1000)
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad raw hex", fmt.Sprintf(`{"result":{"txid":%q,"rawTx":"zz"}}`, txidHex), "invalid raw transaction"},
		{"empty raw", fmt.Sprintf(`{"result":{"txid":%q,"rawTx":""}}`, txidHex), "invalid raw transaction"},
		{"bad txid", `{"result":{"txid":"nope","rawTx":"00"}}`, "invalid txid"},
		{"truncated tx", fmt.Sprintf(`{"result":{"txid":%q,"rawTx":"00"}}`, txidHex), "unparseable signed transaction"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			captured := &rpcCapture{}
			client := newRPCClient(t, captured, func() string { return tc.body })
			_, err := client.SignAction(context.Background(), &escrow.Action{})
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestCallFailureSurfaces(t *testing.T) {
	t.Run("rpc error", func(t *testing.T) {
		captured := &rpcCapture{}
		client := newRPCClient(t, captured, func() string {
			return `{"error":{"code":-32000,"message":"insufficient funds in basket"}}`
		})
		_, err := client.SignAction(context.Background(), &escrow.Action{})
		require.ErrorContains(t, err, "code=-32000")
		require.ErrorContains(t, err, "insufficient funds in basket")
	})

	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gateway timeout", http.StatusBadGateway)
		}))
		t.Cleanup(server.Close)
		client, err := NewClient(server.URL, nil)
		require.NoError(t, err)
		_, err = client.DerivePublicKey(context.Background(), escrow.RoleSeeker)
		require.ErrorContains(t, err, "status=502")
	})

	t.Run("empty result", func(t *testing.T) {
		captured := &rpcCapture{}
		client := newRPCClient(t, captured, func() string { return `{}` })
		_, err := client.DerivePublicKey(context.Background(), escrow.RoleSeeker)
		require.ErrorContains(t, err, "empty")
	})

	t.Run("invalid response", func(t *testing.T) {
		captured := &rpcCapture{}
		client := newRPCClient(t, captured, func() string { return `{"result":` })
		_, err := client.DerivePublicKey(context.Background(), escrow.RoleSeeker)
		require.ErrorContains(t, err, "decode")
	})

	t.Run("nil action", func(t *testing.T) {
		captured := &rpcCapture{}
		client := newRPCClient(t, captured, func() string { return `{}` })
		_, err := client.SignAction(context.Background(), nil)
		require.ErrorContains(t, err, "nil action")
		captured.mu.Lock()
		require.Empty(t, captured.bodies)
		captured.mu.Unlock()
	})
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("  ", nil)
	require.Error(t, err)
}
