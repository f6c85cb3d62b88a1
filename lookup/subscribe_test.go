package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
)

type streamServer struct {
	mu     sync.Mutex
	topics []string
	auth   string
	frames []streamFrame
}

type streamFrame struct {
	msgType websocket.MessageType
	payload []byte
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.topics = r.URL.Query()["topic"]
	s.auth = r.Header.Get("Authorization")
	frames := s.frames
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	for _, frame := range frames {
		if err := conn.Write(ctx, frame.msgType, frame.payload); err != nil {
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "stream drained")
}

func textFrame(t *testing.T, notice Notice) streamFrame {
	t.Helper()
	payload, err := json.Marshal(notice)
	require.NoError(t, err)
	return streamFrame{msgType: websocket.MessageText, payload: payload}
}

func newStreamClient(t *testing.T, svc *streamServer) *Client {
	t.Helper()
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, auth.Static("stream-token"))
	require.NoError(t, err)
	return client
}

func TestSubscribeStreamsNotices(t *testing.T) {
	first := Notice{Topic: "tm_escrow", TxID: "ab12", Vout: 0, Method: "placeBid", State: "open", Satoshis: 1100, Height: 820_001}
	second := Notice{Topic: "tm_escrow", TxID: "cd34", Vout: 0, Method: "acceptBid", State: "assigned"}
	svc := &streamServer{}
	client := newStreamClient(t, svc)
	svc.mu.Lock()
	svc.frames = []streamFrame{textFrame(t, first), textFrame(t, second)}
	svc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	svc.mu.Lock()
	require.Equal(t, []string{"tm_escrow"}, svc.topics)
	require.Equal(t, "Bearer stream-token", svc.auth)
	svc.mu.Unlock()

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, first, got)

	got, err = sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, second, got)

	// The server drained its frames and closed normally.
	_, err = sub.Next(ctx)
	require.Error(t, err)
}

func TestSubscribeExplicitTopics(t *testing.T) {
	svc := &streamServer{}
	client := newStreamClient(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sub, err := client.Subscribe(ctx, "tm_escrow", "tm_identity")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Equal(t, []string{"tm_escrow", "tm_identity"}, svc.topics)
}

func TestSubscribeRejectsBinaryFrames(t *testing.T) {
	svc := &streamServer{frames: []streamFrame{{msgType: websocket.MessageBinary, payload: []byte{0x01}}}}
	client := newStreamClient(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	_, err = sub.Next(ctx)
	require.ErrorContains(t, err, "unexpected")
}

func TestSubscribeDialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no stream here", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = client.Subscribe(ctx)
	require.ErrorContains(t, err, "subscribe")
}
