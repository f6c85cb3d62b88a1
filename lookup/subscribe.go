package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"

	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

const subscribePath = "/api/v1/subscribe"

// Notice is one admitted transition pushed by the overlay. It carries enough
// to know which escrow advanced; subscribers re-query for the full record.
type Notice struct {
	Topic    string `json:"topic"`
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Satoshis uint64 `json:"satoshis,omitempty"`
	Method   string `json:"method,omitempty"`
	State    string `json:"state,omitempty"`
	Height   uint32 `json:"height,omitempty"`
}

// Subscription is a live stream of admitted transitions. Close it when done;
// cancelling the context passed to Next also tears the stream down.
type Subscription struct {
	conn *websocket.Conn
}

// Subscribe opens a transition stream for the given topics, defaulting to
// the escrow topic when none are named.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	target, err := url.Parse(c.baseURL + subscribePath)
	if err != nil {
		return nil, fmt.Errorf("lookup: subscribe url: %w", err)
	}
	if len(topics) == 0 {
		topics = []string{escrow.TopicName}
	}
	query := target.Query()
	for _, topic := range topics {
		query.Add("topic", topic)
	}
	target.RawQuery = query.Encode()

	header := http.Header{}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup: bearer token: %w", err)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("lookup: subscribe: %w", err)
	}
	return &Subscription{conn: conn}, nil
}

// Next blocks until the overlay pushes the next transition.
func (s *Subscription) Next(ctx context.Context) (Notice, error) {
	msgType, data, err := s.conn.Read(ctx)
	if err != nil {
		return Notice{}, fmt.Errorf("lookup: read stream: %w", err)
	}
	if msgType != websocket.MessageText {
		return Notice{}, fmt.Errorf("lookup: unexpected %v frame on stream", msgType)
	}
	var notice Notice
	if err := json.Unmarshal(data, &notice); err != nil {
		return Notice{}, fmt.Errorf("lookup: decode notice: %w", err)
	}
	return notice, nil
}

func (s *Subscription) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "subscription closed")
}
