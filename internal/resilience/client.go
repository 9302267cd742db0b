// Package resilience wraps agent-to-agent calls with retries, exponential
// backoff and a per-destination circuit breaker.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/playperu/league/internal/protocol"
)

// Transport delivers one request and returns the response. Failures should
// be *Error values built with Timeout, Connection, Protocol or Unauthorized;
// anything else goes through the classifier.
type Transport interface {
	Send(ctx context.Context, addr string, req *protocol.Request) (*protocol.Response, error)
}

// Observer receives call outcomes, e.g. a metrics collector.
type Observer interface {
	ObserveCall(dest, method, outcome string, attempts int)
}

type Client struct {
	transport Transport
	breakers  *Registry
	policy    RetryPolicy
	logger    *slog.Logger
	observer  Observer
	tracer    trace.Tracer
}

type Option func(*Client)

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

func NewClient(transport Transport, breakers *Registry, policy RetryPolicy, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		breakers:  breakers,
		policy:    policy,
		logger:    logger,
		tracer:    otel.Tracer("github.com/playperu/league/internal/resilience"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breakers exposes the registry shared by every caller of this client.
func (c *Client) Breakers() *Registry { return c.breakers }

type callOptions struct {
	timeout  time.Duration
	classify Classifier
}

type CallOption func(*callOptions)

// WithTimeout bounds every single attempt of the call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithClassifier overrides KindOf for this call.
func WithClassifier(fn Classifier) CallOption {
	return func(o *callOptions) { o.classify = fn }
}

// Call sends req to dest, retrying transient failures with backoff until the
// policy's attempt budget is spent or the destination's breaker opens.
// Failures are always *Error.
func (c *Client) Call(ctx context.Context, dest string, req *protocol.Request, opts ...CallOption) (*protocol.Response, error) {
	o := callOptions{classify: KindOf}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "resilience.Call", trace.WithAttributes(
		attribute.String("rpc.method", req.Method),
		attribute.String("peer.address", dest),
	))
	defer span.End()

	br := c.breakers.Get(dest)
	attempts := 0

	op := func() (*protocol.Response, error) {
		if err := br.Allow(); err != nil {
			return nil, backoff.Permanent(&Error{Kind: KindCircuit, Dest: dest, Attempts: attempts, Err: err})
		}

		attempts++
		resp, err := c.send(ctx, dest, req, o.timeout)
		if err == nil {
			br.Success()
			return resp, nil
		}

		callErr := &Error{Kind: o.classify(err), Dest: dest, Attempts: attempts, Err: cause(err)}
		switch {
		case ctx.Err() != nil:
			br.Release()
			callErr.Kind = KindTimeout
			callErr.Err = ctx.Err()
			return nil, backoff.Permanent(callErr)
		case !callErr.Kind.Retryable():
			br.Release()
			return nil, backoff.Permanent(callErr)
		}

		state := br.Failure()
		c.logger.Warn("call attempt failed",
			"dest", dest,
			"method", req.Method,
			"attempt", attempts,
			"kind", callErr.Kind,
			"breaker", state.String(),
			"error", callErr.Err,
		)
		if state == StateOpen {
			return nil, backoff.Permanent(callErr)
		}
		return nil, callErr
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.policy.backOff()),
		backoff.WithMaxTries(uint(c.policy.attempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Debug("retrying call", "dest", dest, "method", req.Method, "wait_ms", wait.Milliseconds())
		}),
	)
	if err != nil {
		var callErr *Error
		if !errors.As(err, &callErr) {
			callErr = &Error{Kind: KindTimeout, Dest: dest, Attempts: attempts, Err: err}
		}
		c.observe(dest, req.Method, string(callErr.Kind), attempts)
		span.SetAttributes(attribute.Int("rpc.attempts", attempts), attribute.String("error.kind", string(callErr.Kind)))
		span.SetStatus(codes.Error, callErr.Error())
		return nil, callErr
	}

	c.observe(dest, req.Method, "ok", attempts)
	span.SetAttributes(attribute.Int("rpc.attempts", attempts))
	return resp, nil
}

func (c *Client) send(ctx context.Context, dest string, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.transport.Send(ctx, dest, req)
}

func (c *Client) observe(dest, method, outcome string, attempts int) {
	if c.observer != nil {
		c.observer.ObserveCall(dest, method, outcome, attempts)
	}
}

// Invoke builds a request for method, calls dest and decodes the result into
// out. Encoding and decoding problems are protocol failures.
func (c *Client) Invoke(ctx context.Context, dest, method string, params, out any, opts ...CallOption) error {
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		return &Error{Kind: KindProtocol, Dest: dest, Err: err}
	}
	resp, err := c.Call(ctx, dest, req, opts...)
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return &Error{Kind: KindOf(err), Dest: dest, Attempts: 1, Err: err}
	}
	return nil
}
