package providerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mdgw/internal/domain"
	"mdgw/internal/infra/telemetry"
)

// DialFunc opens one session against a provider endpoint.
type DialFunc func(ctx context.Context) (*mcp.ClientSession, error)

// Client maintains a fixed pool of sessions against one provider and
// dispatches tool calls across them round-robin. The pool exists because
// a single streamed session serializes calls; market-data fan-out wants
// concurrency.
type Client struct {
	name    string
	address string
	logger  *zap.Logger
	metrics domain.Metrics
	dial    DialFunc

	poolSize     int
	healthChecks time.Duration

	next     atomic.Uint64
	mu       sync.Mutex
	sessions []*mcp.ClientSession

	healthMu            sync.Mutex
	healthy             bool
	lastCheck           time.Time
	consecutiveFailures int
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	// HTTPClient overrides the transport used for the default dialer.
	HTTPClient *http.Client
	// Dial replaces the default streamable-HTTP dialer. Tests use this to
	// connect over in-memory transports.
	Dial DialFunc
	// ClientInfo identifies this gateway to providers.
	ClientInfo *mcp.Implementation
}

func New(spec domain.ProviderSpec, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	poolSize := spec.PoolSize
	if poolSize <= 0 {
		poolSize = domain.DefaultPoolSize
	}

	c := &Client{
		name:     spec.Name,
		address:  spec.Address,
		logger:   logger.Named("provider").With(telemetry.ProviderField(spec.Name)),
		metrics:  metrics,
		poolSize: poolSize,
		// Until the first health check runs, assume reachable.
		healthy: true,
	}

	c.dial = opts.Dial
	if c.dial == nil {
		info := opts.ClientInfo
		if info == nil {
			info = &mcp.Implementation{Name: "mdgw", Version: "dev"}
		}
		httpClient := opts.HTTPClient
		c.dial = func(ctx context.Context) (*mcp.ClientSession, error) {
			transport := &mcp.StreamableClientTransport{
				Endpoint:   spec.Address,
				HTTPClient: httpClient,
			}
			client := mcp.NewClient(info, nil)
			return client.Connect(ctx, transport, nil)
		}
	}

	return c
}

func (c *Client) Name() string { return c.name }

// Connect dials the full session pool. A provider that cannot be reached
// at startup is left with an empty pool and marked unhealthy; the health
// loop keeps retrying.
func (c *Client) Connect(ctx context.Context) error {
	sessions := make([]*mcp.ClientSession, 0, c.poolSize)
	for i := 0; i < c.poolSize; i++ {
		session, err := c.dial(ctx)
		if err != nil {
			for _, s := range sessions {
				_ = s.Close()
			}
			c.setHealth(false)
			return domain.E(domain.CodeUnavailable, "providerclient.connect",
				"dial "+c.address, err).WithMeta("provider", c.name)
		}
		sessions = append(sessions, session)
	}

	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()

	c.setHealth(true)
	c.metrics.SetProviderConnections(c.name, len(sessions))
	c.logger.Info("provider pool connected",
		zap.String("address", c.address),
		zap.Int("connections", len(sessions)),
	)
	return nil
}

// session picks the next pool member round-robin.
func (c *Client) session() (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil, domain.E(domain.CodeUnavailable, "providerclient.session",
			"no open sessions for provider "+c.name, nil).WithMeta("provider", c.name)
	}
	idx := c.next.Add(1) % uint64(len(c.sessions))
	return c.sessions[idx], nil
}

// Invoke calls one provider tool and returns its decoded payload.
// Transport failures come back as UNAVAILABLE; a result the provider
// itself flagged as an error comes back as PROVIDER_INVOCATION_FAILED so
// the router can tell the two apart.
func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any, correlationID string) (any, error) {
	session, err := c.session()
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, domain.E(domain.CodeInternal, "providerclient.invoke",
			"encode arguments for "+tool, err)
	}

	params := &mcp.CallToolParams{
		Name:      tool,
		Arguments: json.RawMessage(encoded),
	}
	if correlationID != "" {
		params.Meta = mcp.Meta{"correlationId": correlationID}
	}

	start := time.Now()
	result, err := session.CallTool(ctx, params)
	c.metrics.ObserveProviderInvocation(c.name, tool, time.Since(start), err)
	if err != nil {
		c.recordFailure()
		return nil, domain.E(domain.CodeUnavailable, "providerclient.invoke",
			"call "+tool, err).WithMeta("provider", c.name)
	}
	c.recordSuccess()

	if result.IsError {
		return nil, domain.E(domain.CodeProviderInvocationError, "providerclient.invoke",
			resultErrorText(result), nil).
			WithMeta("provider", c.name).
			WithMeta("tool", tool)
	}

	return decodeResult(result), nil
}

// decodeResult prefers the structured payload and falls back to the first
// text block, parsed as JSON when it is JSON.
func decodeResult(result *mcp.CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	for _, content := range result.Content {
		text, ok := content.(*mcp.TextContent)
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(text.Text), &decoded); err == nil {
			return decoded
		}
		return text.Text
	}
	return nil
}

func resultErrorText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok && text.Text != "" {
			return text.Text
		}
	}
	return "provider returned an error result"
}

// ListTools fetches the provider's advertised capabilities.
func (c *Client) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	session, err := c.session()
	if err != nil {
		return nil, err
	}

	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		c.recordFailure()
		return nil, domain.E(domain.CodeUnavailable, "providerclient.listtools",
			"list tools", err).WithMeta("provider", c.name)
	}
	c.recordSuccess()

	tools := make([]domain.ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		tools = append(tools, domain.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return tools, nil
}

// HealthCheck probes the provider with a short-deadline list call and
// returns the updated status.
func (c *Client) HealthCheck(ctx context.Context) domain.HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, domain.DefaultHealthCheckTimeoutSecs*time.Second)
	defer cancel()

	_, err := c.ListTools(probeCtx)

	c.healthMu.Lock()
	c.lastCheck = time.Now()
	if err != nil {
		c.consecutiveFailures++
		c.healthy = false
	} else {
		c.consecutiveFailures = 0
		c.healthy = true
	}
	status := c.statusLocked()
	c.healthMu.Unlock()

	c.metrics.SetProviderHealth(c.name, status.Healthy)
	return status
}

// Status reports the last observed health without probing.
func (c *Client) Status() domain.HealthStatus {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	return c.statusLocked()
}

func (c *Client) statusLocked() domain.HealthStatus {
	c.mu.Lock()
	connections := len(c.sessions)
	c.mu.Unlock()
	return domain.HealthStatus{
		Provider:            c.name,
		Address:             c.address,
		Healthy:             c.healthy,
		LastCheck:           c.lastCheck,
		ConsecutiveFailures: c.consecutiveFailures,
		Connections:         connections,
	}
}

func (c *Client) Healthy() bool {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	return c.healthy
}

func (c *Client) setHealth(healthy bool) {
	c.healthMu.Lock()
	c.healthy = healthy
	c.lastCheck = time.Now()
	if healthy {
		c.consecutiveFailures = 0
	}
	c.healthMu.Unlock()
	c.metrics.SetProviderHealth(c.name, healthy)
}

func (c *Client) recordFailure() {
	c.healthMu.Lock()
	c.consecutiveFailures++
	c.healthy = false
	c.healthMu.Unlock()
	c.metrics.SetProviderHealth(c.name, false)
}

func (c *Client) recordSuccess() {
	c.healthMu.Lock()
	c.consecutiveFailures = 0
	c.healthy = true
	c.healthMu.Unlock()
	c.metrics.SetProviderHealth(c.name, true)
}

// Close tears down every pooled session.
func (c *Client) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = nil
	c.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.metrics.SetProviderConnections(c.name, 0)
	return firstErr
}
