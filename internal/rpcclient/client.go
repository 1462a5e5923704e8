// Package rpcclient provides a JSON-RPC 2.0 HTTP client with optional
// request rate limiting and a circuit breaker, used for Ethereum node
// endpoints and for the walletscand daemon.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

// DefaultTimeout is the HTTP timeout used when WithTimeout is not given.
const DefaultTimeout = 10 * time.Second

// maxResponseSize bounds a response body; eth_call results for token
// balances are a few hundred bytes.
const maxResponseSize = 8 << 20

// The breaker trips once more than MaxFailingRequests requests were seen
// in its window and at least FailingRatio of them failed in transport.
var (
	MaxFailingRequests = 10
	FailingRatio       = 0.6
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("endpoint unavailable")

// RPCError is an error object answered by the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// envelope is both directions of a JSON-RPC 2.0 exchange.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// Client calls one JSON-RPC endpoint. It is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  ratelimit.Limiter
	breaker  *gobreaker.CircuitBreaker
	nextID   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout. Non-positive values keep
// DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithRateLimit spaces requests evenly at perSecond. Non-positive values
// leave the client unlimited.
func WithRateLimit(perSecond int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = ratelimit.New(perSecond, ratelimit.WithoutSlack)
		}
	}
}

// WithCircuitBreaker fails calls fast for openTimeout after repeated
// transport failures. An RPCError counts as success since the endpoint
// answered.
func WithCircuitBreaker(name string, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if int(counts.Requests) <= MaxFailingRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= FailingRatio
			},
			IsSuccessful: func(err error) bool {
				var rpcErr *RPCError
				return err == nil || errors.As(err, &rpcErr)
			},
		})
	}
}

// New returns a client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: DefaultTimeout},
		limiter:  ratelimit.NewUnlimited(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the target URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Call is CallContext without a deadline beyond the HTTP timeout.
func (c *Client) Call(method string, params, result interface{}) error {
	return c.CallContext(context.Background(), method, params, result)
}

// CallContext invokes method and decodes the result into result, which
// may be nil to discard it. Server errors come back as *RPCError.
func (c *Client) CallContext(ctx context.Context, method string, params, result interface{}) error {
	if c.breaker == nil {
		return c.roundTrip(ctx, method, params, result)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, params, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, c.endpoint, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method string, params, result interface{}) error {
	c.limiter.Take()
	if err := ctx.Err(); err != nil {
		return err
	}

	id := c.nextID.Add(1)
	body, err := json.Marshal(envelope{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var reply envelope
	if err := json.Unmarshal(data, &reply); err != nil {
		// Proxies answer 429 or 5xx with HTML; report the status instead.
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: http status %s", method, resp.Status)
		}
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if reply.Error != nil {
		return reply.Error
	}
	if reply.ID != id {
		return fmt.Errorf("%s: response id %d, want %d", method, reply.ID, id)
	}
	if result == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
