// Package transport posts JSON-RPC requests to agent endpoints over HTTP and
// maps every failure onto the resilience error kinds.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
)

const maxResponseBytes = 1 << 20

// HTTP implements resilience.Transport.
type HTTP struct {
	client *http.Client
}

// NewHTTP returns a transport whose requests never outlive timeout, even
// when the caller's context has no deadline.
func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{client: &http.Client{Timeout: timeout}}
}

func (t *HTTP) Send(ctx context.Context, addr string, req *protocol.Request) (*protocol.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, resilience.Protocol(fmt.Errorf("encoding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Protocol(fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.Connection(fmt.Errorf("http %s: %d", addr, resp.StatusCode))
	case resp.StatusCode >= 300:
		return nil, resilience.Protocol(fmt.Errorf("http %s: %d", addr, resp.StatusCode))
	}

	var out protocol.Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Timeout(ctx.Err())
		}
		return nil, resilience.Protocol(fmt.Errorf("decoding response: %w", err))
	}
	if out.Error != nil {
		if out.Error.Code == protocol.CodeUnauthorized {
			return nil, resilience.Unauthorized(out.Error)
		}
		return nil, resilience.Protocol(out.Error)
	}
	return &out, nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.Timeout(err)
	}
	return resilience.Connection(err)
}
