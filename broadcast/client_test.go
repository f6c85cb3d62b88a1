package broadcast

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

type submitCapture struct {
	mu     sync.Mutex
	path   string
	header http.Header
	body   []byte
}

func newSubmitClient(t *testing.T, captured *submitCapture, status int, respond string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		captured.mu.Lock()
		captured.path = r.URL.Path
		captured.header = r.Header.Clone()
		captured.body = buf.Bytes()
		captured.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, respond)
	}))
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, auth.Static("arc-token"))
	require.NoError(t, err)
	return client
}

func rawTxFixture(t *testing.T) ([]byte, string) {
	t.Helper()
	tx := transaction.NewTransaction()
	lock := &script.Script{}
	require.NoError(t, lock.AppendOpcodes(script.OpTRUE))
	tx.AddOutput(&transaction.TransactionOutput{LockingScript: lock, Satoshis: 500})
	return tx.Bytes(), tx.TxID().String()
}

func TestBroadcastAccepted(t *testing.T) {
	raw, txid := rawTxFixture(t)
	captured := &submitCapture{}
	client := newSubmitClient(t, captured, http.StatusAccepted, fmt.Sprintf(`{"txid":%q}`, txid))

	ack, err := client.Broadcast(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, txid, ack.TxID.String())

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Equal(t, submitPath, captured.path)
	require.Equal(t, "Bearer arc-token", captured.header.Get("Authorization"))
	var sub wireSubmission
	require.NoError(t, json.Unmarshal(captured.body, &sub))
	require.Equal(t, hex.EncodeToString(raw), sub.RawTx)
}

func TestBroadcastDoubleSpendRejection(t *testing.T) {
	raw, _ := rawTxFixture(t)
	cases := []struct {
		name string
		body string
	}{
		{"known code", `{"code":"double-spend","description":"input 0 spent by 9c3f"}`},
		{"missing inputs", `{"code":"missing-inputs","description":"input 0 not found"}`},
		{"explicit flag", `{"code":"tx-rejected","description":"conflict","doubleSpend":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			captured := &submitCapture{}
			client := newSubmitClient(t, captured, http.StatusConflict, tc.body)
			_, err := client.Broadcast(context.Background(), raw)
			var rejection *escrow.BroadcastRejection
			require.ErrorAs(t, err, &rejection)
			require.True(t, rejection.DoubleSpend)
		})
	}
}

func TestBroadcastOtherRejection(t *testing.T) {
	raw, _ := rawTxFixture(t)
	captured := &submitCapture{}
	client := newSubmitClient(t, captured, http.StatusUnprocessableEntity, `{"code":"fee-too-low","description":"0 sat/kb"}`)

	_, err := client.Broadcast(context.Background(), raw)
	var rejection *escrow.BroadcastRejection
	require.ErrorAs(t, err, &rejection)
	require.False(t, rejection.DoubleSpend)
	require.Equal(t, "fee-too-low", rejection.Code)
	require.Contains(t, rejection.Error(), "fee-too-low")
}

func TestBroadcastFaultsStayPlainErrors(t *testing.T) {
	raw, _ := rawTxFixture(t)

	t.Run("unparseable refusal", func(t *testing.T) {
		captured := &submitCapture{}
		client := newSubmitClient(t, captured, http.StatusBadRequest, `bad gateway page`)
		_, err := client.Broadcast(context.Background(), raw)
		require.Error(t, err)
		var rejection *escrow.BroadcastRejection
		require.False(t, errors.As(err, &rejection))
		require.ErrorContains(t, err, "status=400")
	})

	t.Run("server fault", func(t *testing.T) {
		captured := &submitCapture{}
		client := newSubmitClient(t, captured, http.StatusInternalServerError, `{"code":"double-spend"}`)
		_, err := client.Broadcast(context.Background(), raw)
		var rejection *escrow.BroadcastRejection
		require.False(t, errors.As(err, &rejection))
		require.ErrorContains(t, err, "status=500")
	})

	t.Run("bad ack", func(t *testing.T) {
		captured := &submitCapture{}
		client := newSubmitClient(t, captured, http.StatusOK, `{"txid":"not-hex"}`)
		_, err := client.Broadcast(context.Background(), raw)
		require.ErrorContains(t, err, "invalid txid")
	})
}

func TestBroadcastValidation(t *testing.T) {
	_, err := NewClient(" ", nil)
	require.Error(t, err)

	client, err := NewClient("http://localhost:1", nil)
	require.NoError(t, err)
	_, err = client.Broadcast(context.Background(), nil)
	require.ErrorContains(t, err, "empty transaction")
}
