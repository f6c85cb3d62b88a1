package lookup

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
	"github.com/stretchr/testify/require"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

type capturedQuery struct {
	mu      sync.Mutex
	header  http.Header
	method  string
	path    string
	body    []byte
	queries int
}

func (c *capturedQuery) record(r *http.Request, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header = r.Header.Clone()
	c.method = r.Method
	c.path = r.URL.Path
	c.body = body
	c.queries++
}

func newQueryServer(t *testing.T, captured *capturedQuery, respond func(w http.ResponseWriter)) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		captured.record(r, buf.Bytes())
		respond(w)
	}))
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, auth.Static("query-token"))
	require.NoError(t, err)
	return client
}

func fixturePubKey(t *testing.T, fill byte) crypto.PubKey {
	t.Helper()
	_, pub := ec.PrivateKeyFromBytes(bytes.Repeat([]byte{fill}, 32))
	return crypto.FromEC(pub)
}

func TestClientQueryMapsCriteriaAndAnswer(t *testing.T) {
	party := fixturePubKey(t, 0x21)
	txidHex := strings.Repeat("ab", 32)
	scriptHex := "76a914" + strings.Repeat("11", 20) + "88ac"
	sourceHex := "0100beef"

	captured := &capturedQuery{}
	client := newQueryServer(t, captured, func(w http.ResponseWriter) {
		fmt.Fprintf(w, `{"outputs":[
			{"txid":%q,"vout":0,"satoshis":1000,"lockingScript":%q,"sourceTx":%q},
			{"txid":%q,"vout":2,"satoshis":90,"lockingScript":%q,"spent":true}
		]}`, txidHex, scriptHex, sourceHex, txidHex, scriptHex)
	})

	outpoint := escrow.Outpoint{Vout: 1}
	outpoint.TxID[5] = 0x77
	answer, err := client.Query(context.Background(), escrow.LookupQuestion{
		Service: escrow.LookupService,
		Find: escrow.Criteria{
			States:       []escrow.State{escrow.StateOpen, escrow.StateAssigned},
			Party:        &party,
			Outpoint:     &outpoint,
			IncludeSpent: true,
		},
	})
	require.NoError(t, err)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Equal(t, http.MethodPost, captured.method)
	require.Equal(t, queryPath, captured.path)
	require.Equal(t, "application/json", captured.header.Get("Content-Type"))
	require.Equal(t, "Bearer query-token", captured.header.Get("Authorization"))
	require.NotEmpty(t, captured.header.Get("X-Request-ID"))

	var wire wireQuestion
	require.NoError(t, json.Unmarshal(captured.body, &wire))
	require.Equal(t, escrow.LookupService, wire.Service)
	require.Equal(t, []string{"open", "assigned"}, wire.Query.States)
	require.Equal(t, party.String(), wire.Query.Party)
	require.True(t, wire.Query.IncludeSpent)
	require.NotNil(t, wire.Query.Outpoint)
	require.Equal(t, outpoint.TxID.String(), wire.Query.Outpoint.TxID)
	require.Equal(t, uint32(1), wire.Query.Outpoint.Vout)

	require.Len(t, answer.Outputs, 2)
	first := answer.Outputs[0]
	require.Equal(t, txidHex, first.TxID.String())
	require.Equal(t, uint32(0), first.Vout)
	require.Equal(t, uint64(1000), first.Satoshis)
	wantScript, _ := hex.DecodeString(scriptHex)
	require.Equal(t, wantScript, first.LockingScript)
	wantSource, _ := hex.DecodeString(sourceHex)
	require.Equal(t, wantSource, first.SourceTx)
	require.False(t, first.Spent)

	second := answer.Outputs[1]
	require.Nil(t, second.SourceTx)
	require.True(t, second.Spent)
}

func TestClientQueryOmitsEmptyCriteria(t *testing.T) {
	captured := &capturedQuery{}
	client := newQueryServer(t, captured, func(w http.ResponseWriter) {
		fmt.Fprint(w, `{"outputs":[]}`)
	})

	answer, err := client.Query(context.Background(), escrow.LookupQuestion{Service: escrow.LookupService})
	require.NoError(t, err)
	require.Empty(t, answer.Outputs)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(captured.body, &raw))
	var query map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["query"], &query))
	require.NotContains(t, query, "states")
	require.NotContains(t, query, "party")
	require.NotContains(t, query, "outpoint")
	require.NotContains(t, query, "includeSpent")
}

func TestClientQueryValidation(t *testing.T) {
	_, err := NewClient("   ", nil)
	require.Error(t, err)

	client, err := NewClient("http://localhost:1", nil)
	require.NoError(t, err)
	_, err = client.Query(context.Background(), escrow.LookupQuestion{Service: "  "})
	require.ErrorContains(t, err, "service name is required")
}

func TestClientQueryServerFailure(t *testing.T) {
	captured := &capturedQuery{}
	client := newQueryServer(t, captured, func(w http.ResponseWriter) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	})
	_, err := client.Query(context.Background(), escrow.LookupQuestion{Service: escrow.LookupService})
	require.ErrorContains(t, err, "status=503")
	require.ErrorContains(t, err, "index rebuilding")
}

func TestClientQueryMalformedAnswers(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"outputs":`, "decode response"},
		{"bad txid", `{"outputs":[{"txid":"zz","vout":0,"satoshis":1,"lockingScript":""}]}`, "invalid txid"},
		{"bad script", `{"outputs":[{"txid":"` + strings.Repeat("ab", 32) + `","vout":0,"satoshis":1,"lockingScript":"xx"}]}`, "invalid locking script"},
		{"bad source tx", `{"outputs":[{"txid":"` + strings.Repeat("ab", 32) + `","vout":0,"satoshis":1,"lockingScript":"","sourceTx":"qq"}]}`, "invalid source transaction"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			captured := &capturedQuery{}
			client := newQueryServer(t, captured, func(w http.ResponseWriter) {
				fmt.Fprint(w, tc.body)
			})
			_, err := client.Query(context.Background(), escrow.LookupQuestion{Service: escrow.LookupService})
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestClientQueryRateLimit(t *testing.T) {
	captured := &capturedQuery{}
	client := newQueryServer(t, captured, func(w http.ResponseWriter) {
		fmt.Fprint(w, `{"outputs":[]}`)
	})
	// A zero budget can never admit a request.
	client.SetRateLimit(0, 0)
	_, err := client.Query(context.Background(), escrow.LookupQuestion{Service: escrow.LookupService})
	require.ErrorContains(t, err, "rate limit")

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Zero(t, captured.queries)
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", fmt.Errorf("vault sealed")
}

func TestClientQueryTokenFailure(t *testing.T) {
	captured := &capturedQuery{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.record(r, nil)
		fmt.Fprint(w, `{"outputs":[]}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, failingTokens{})
	require.NoError(t, err)
	_, err = client.Query(context.Background(), escrow.LookupQuestion{Service: escrow.LookupService})
	require.ErrorContains(t, err, "bearer token")
	require.ErrorContains(t, err, "vault sealed")

	// Unauthenticated sources send no Authorization header at all.
	client, err = NewClient(server.URL, nil)
	require.NoError(t, err)
	_, err = client.Query(context.Background(), escrow.LookupQuestion{Service: escrow.LookupService})
	require.NoError(t, err)
	captured.mu.Lock()
	defer captured.mu.Unlock()
	_, present := captured.header["Authorization"]
	require.False(t, present)
}
