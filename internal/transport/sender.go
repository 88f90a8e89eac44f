package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender delivers a message to a peer and returns its reply.
type Sender interface {
	Send(ctx context.Context, address string, msg Message) (Message, error)
}

// DefaultTimeout bounds one outbound call.
const DefaultTimeout = 30 * time.Second

// maxReplyBytes caps how much of a peer's reply is read.
const maxReplyBytes = 4 << 20

// ErrTimeout is returned when a peer does not answer in time.
var ErrTimeout = errors.New("transport: timed out")

// HTTPSender posts messages as JSON to a peer's /a2a endpoint.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender returns a sender whose calls are bounded by timeout. A zero
// timeout uses DefaultTimeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

// Endpoint returns the /a2a URL for a registered agent address.
func Endpoint(address string) string {
	address = strings.TrimRight(address, "/")
	if strings.HasSuffix(address, "/a2a") {
		return address
	}
	return address + "/a2a"
}

func (s *HTTPSender) Send(ctx context.Context, address string, msg Message) (Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("transport: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint(address), bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Message{}, fmt.Errorf("%w after %s", ErrTimeout, s.client.Timeout)
		}
		return Message{}, fmt.Errorf("transport: post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Message{}, fmt.Errorf("transport: read reply: %w", err)
	}
	// 402 carries a payment-required message; surface it like any reply.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusPaymentRequired {
		return Message{}, fmt.Errorf("transport: peer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	reply, err := Decode(data)
	if err != nil {
		return Message{}, err
	}
	if reply.ConversationID == "" {
		reply.ConversationID = msg.ConversationID
	}
	return reply, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
