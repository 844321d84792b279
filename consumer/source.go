/*
source.go - Event source abstraction and the Cashcog HTTP stream source

PURPOSE:
  The consumer core only needs three things from a transport: payload
  bytes, an acknowledgment hook, and at-least-once delivery. Source
  captures exactly that, so the loop is testable with a channel-backed
  fake and the HTTP stream stays swappable for a queue later.

HTTP STREAM:
  The upstream service emits concatenated JSON objects over a chunked
  HTTP response. json.Decoder consumes them incrementally straight off
  the body. On any stream error the source reconnects after a wait;
  redeliveries that reconnection causes are absorbed downstream by the
  idempotency guard.
*/
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Delivery is one raw payload plus its acknowledgment hook. Ack must be
// called exactly once, after the event reaches a terminal disposition.
type Delivery struct {
	Raw []byte
	Ack func()
}

// Source delivers raw event payloads with at-least-once semantics.
type Source interface {
	// Receive blocks until a payload is available or ctx is done.
	Receive(ctx context.Context) (Delivery, error)
}

// =============================================================================
// HTTP STREAM SOURCE
// =============================================================================

// HTTPStreamSource consumes the expense event stream endpoint.
type HTTPStreamSource struct {
	URL           string
	Client        *http.Client
	Log           *zap.Logger
	ReconnectWait time.Duration

	body io.ReadCloser
	dec  *json.Decoder
}

func NewHTTPStreamSource(url string, log *zap.Logger) *HTTPStreamSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPStreamSource{
		URL:           url,
		Client:        &http.Client{Timeout: 0}, // streaming: no overall deadline
		Log:           log,
		ReconnectWait: 5 * time.Second,
	}
}

// Receive returns the next JSON object from the stream, reconnecting as
// needed. The HTTP transport has no application-level ack, so Ack is a no-op;
// at-least-once arises from reconnection replays.
func (s *HTTPStreamSource) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			s.disconnect()
			return Delivery{}, err
		}

		if s.dec == nil {
			if err := s.connect(ctx); err != nil {
				s.Log.Error("stream connection failed, retrying",
					zap.String("url", s.URL), zap.Error(err))
				if err := s.wait(ctx); err != nil {
					return Delivery{}, err
				}
				continue
			}
			s.Log.Info("connected to event stream", zap.String("url", s.URL))
		}

		var raw json.RawMessage
		if err := s.dec.Decode(&raw); err != nil {
			s.Log.Error("stream read failed, reconnecting", zap.Error(err))
			s.disconnect()
			if err := s.wait(ctx); err != nil {
				return Delivery{}, err
			}
			continue
		}
		return Delivery{Raw: raw, Ack: func() {}}, nil
	}
}

func (s *HTTPStreamSource) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}
	s.body = resp.Body
	s.dec = json.NewDecoder(resp.Body)
	return nil
}

func (s *HTTPStreamSource) disconnect() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	s.dec = nil
}

func (s *HTTPStreamSource) wait(ctx context.Context) error {
	t := time.NewTimer(s.ReconnectWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
