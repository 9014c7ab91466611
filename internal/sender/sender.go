package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/signer"
)

var (
	ErrCircuitOpen = errors.New("endpoint circuit open")

	// ErrClientStatus wraps non-2xx 4xx responses so the worker can
	// short-circuit them to a terminal failure when configured to.
	ErrClientStatus = errors.New("client error status")
)

// responseBodyLimit caps the stored response summary.
const responseBodyLimit = 2 << 10

// deliveryBody is the outbound wire format.
type deliveryBody struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Result summarizes a completed (2xx) delivery call.
type Result struct {
	StatusCode int
	Body       string
	Duration   time.Duration
}

// Sender performs the signed outbound POST. One breaker per webhook: a burst
// of consecutive failures opens it and subsequent attempts fail fast into the
// normal retry path instead of tying up a worker for the full timeout.
type Sender struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*MicroBreaker

	failThreshold int
	openFor       time.Duration
}

func New(timeoutMs, failThreshold, openForMs int) *Sender {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	if failThreshold <= 0 {
		failThreshold = 5
	}
	if openForMs <= 0 {
		openForMs = 30000
	}
	return &Sender{
		client:        &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		breakers:      make(map[string]*MicroBreaker),
		failThreshold: failThreshold,
		openFor:       time.Duration(openForMs) * time.Millisecond,
	}
}

func (s *Sender) breakerFor(webhookID string) *MicroBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	br, ok := s.breakers[webhookID]
	if !ok {
		br = NewMicroBreaker(s.failThreshold, s.openFor)
		s.breakers[webhookID] = br
	}
	return br
}

// Deliver signs payload with secret and POSTs it to the webhook URL.
// A nil error means a 2xx response was received within the timeout.
func (s *Sender) Deliver(ctx context.Context, wh *model.Webhook, eventType string, payload json.RawMessage, secret string) (*Result, error) {
	br := s.breakerFor(wh.ID)
	if !br.TryAcquire() {
		return nil, ErrCircuitOpen
	}

	res, err := s.post(ctx, wh, eventType, payload, secret)
	if err != nil {
		br.OnFailure()
		return nil, err
	}

	br.OnSuccess()
	return res, nil
}

func (s *Sender) post(ctx context.Context, wh *model.Webhook, eventType string, payload json.RawMessage, secret string) (*Result, error) {
	sig, err := signer.Sign(payload, secret)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	body, err := json.Marshal(deliveryBody{Event: eventType, Payload: payload, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Event", eventType)
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	summary, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))

	if resp.StatusCode/100 != 2 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("webhook=%s status=%d: %w", wh.ID, resp.StatusCode, ErrClientStatus)
		}
		return nil, fmt.Errorf("webhook=%s status=%d", wh.ID, resp.StatusCode)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       string(summary),
		Duration:   time.Since(start),
	}, nil
}
