package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-pipeline"
)

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, ep *Endpoint, evt pipeline.Event) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ep *Endpoint, evt pipeline.Event) error

func (f SenderFunc) Send(ctx context.Context, ep *Endpoint, evt pipeline.Event) error {
	return f(ctx, ep, evt)
}

// HTTPSender posts events as JSON. Request authentication is the
// receiving side's concern, not the engine's.
type HTTPSender struct {
	client  *http.Client
	timeout time.Duration
}

// HTTPSenderOption customizes an HTTPSender.
type HTTPSenderOption func(*HTTPSender)

// WithHTTPClient overrides the underlying client.
func WithHTTPClient(c *http.Client) HTTPSenderOption {
	return func(s *HTTPSender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithAttemptTimeout bounds each delivery attempt.
func WithAttemptTimeout(d time.Duration) HTTPSenderOption {
	return func(s *HTTPSender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewHTTPSender constructs an HTTPSender.
func NewHTTPSender(opts ...HTTPSenderOption) *HTTPSender {
	s := &HTTPSender{
		client:  http.DefaultClient,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Send implements Sender. Any non-2xx response is a failed attempt.
func (s *HTTPSender) Send(ctx context.Context, ep *Endpoint, evt pipeline.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", ep.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pipeline-Event", evt.Type)
	req.Header.Set("X-Pipeline-Delivery", evt.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint %s responded %d", ep.ID, resp.StatusCode)
	}
	return nil
}
