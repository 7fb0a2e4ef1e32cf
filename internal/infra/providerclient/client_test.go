package providerclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"mdgw/internal/domain"
)

// fakeProvider stands in for a downstream market-data provider over
// in-memory transports.
func fakeProvider(t *testing.T, tools map[string]mcp.ToolHandler) *mcp.Server {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "fake-provider", Version: "0.1.0"}, &mcp.ServerOptions{HasTools: true})
	for name, handler := range tools {
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: "test tool",
			InputSchema: map[string]any{"type": "object"},
		}, handler)
	}
	return server
}

func inMemoryDial(t *testing.T, server *mcp.Server) DialFunc {
	t.Helper()
	return func(ctx context.Context) (*mcp.ClientSession, error) {
		ct, st := mcp.NewInMemoryTransports()
		if _, err := server.Connect(ctx, st, nil); err != nil {
			return nil, err
		}
		client := mcp.NewClient(&mcp.Implementation{Name: "mdgw-test", Version: "0.1.0"}, nil)
		return client.Connect(ctx, ct, nil)
	}
}

func newTestClient(t *testing.T, server *mcp.Server, poolSize int) *Client {
	t.Helper()
	client := New(domain.ProviderSpec{
		Name:     "binance-provider",
		Address:  "http://127.0.0.1:50051/mcp",
		PoolSize: poolSize,
	}, Options{Dial: inMemoryDial(t, server)})
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestInvokeDecodesTextJSON(t *testing.T) {
	server := fakeProvider(t, map[string]mcp.ToolHandler{
		"get_ticker": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			require.NoError(t, json.Unmarshal(req.Params.Arguments, &args))
			require.Equal(t, "BTCUSDT", args["symbol"])
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: `{"bidPrice":"100","askPrice":"101"}`}},
			}, nil
		},
	})
	client := newTestClient(t, server, 2)

	result, err := client.Invoke(context.Background(), "get_ticker", map[string]any{"symbol": "BTCUSDT"}, "corr-1")
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "100", payload["bidPrice"])
	require.True(t, client.Healthy())
}

func TestInvokePrefersStructuredContent(t *testing.T) {
	server := fakeProvider(t, map[string]mcp.ToolHandler{
		"get_ticker": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content:           []mcp.Content{&mcp.TextContent{Text: "ignored"}},
				StructuredContent: map[string]any{"bidPrice": "100"},
			}, nil
		},
	})
	client := newTestClient(t, server, 1)

	result, err := client.Invoke(context.Background(), "get_ticker", nil, "")
	require.NoError(t, err)
	payload, ok := result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "100", payload["bidPrice"])
}

func TestInvokeErrorResultIsProviderFailure(t *testing.T) {
	server := fakeProvider(t, map[string]mcp.ToolHandler{
		"get_ticker": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "symbol not found"}},
			}, nil
		},
	})
	client := newTestClient(t, server, 1)

	_, err := client.Invoke(context.Background(), "get_ticker", map[string]any{"symbol": "NOPE"}, "")
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeProviderInvocationError))
	require.Contains(t, err.Error(), "symbol not found")
}

func TestListToolsReturnsDescriptors(t *testing.T) {
	server := fakeProvider(t, map[string]mcp.ToolHandler{
		"get_ticker": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		},
		"get_orderbook": func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		},
	})
	client := newTestClient(t, server, 1)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
}

func TestHealthCheckTracksStatus(t *testing.T) {
	server := fakeProvider(t, nil)
	client := newTestClient(t, server, 3)

	status := client.HealthCheck(context.Background())
	require.True(t, status.Healthy)
	require.Zero(t, status.ConsecutiveFailures)
	require.Equal(t, 3, status.Connections)
	require.Equal(t, "binance-provider", status.Provider)
}

func TestHealthCheckFailsWithoutSessions(t *testing.T) {
	client := New(domain.ProviderSpec{Name: "down-provider", Address: "http://127.0.0.1:1/mcp"}, Options{
		Dial: func(ctx context.Context) (*mcp.ClientSession, error) {
			return nil, context.DeadlineExceeded
		},
	})

	require.Error(t, client.Connect(context.Background()))

	status := client.HealthCheck(context.Background())
	require.False(t, status.Healthy)
	require.Equal(t, 1, status.ConsecutiveFailures)

	status = client.HealthCheck(context.Background())
	require.Equal(t, 2, status.ConsecutiveFailures)
}

func TestInvokeWithoutSessions(t *testing.T) {
	client := New(domain.ProviderSpec{Name: "down-provider", Address: "http://127.0.0.1:1/mcp"}, Options{
		Dial: func(ctx context.Context) (*mcp.ClientSession, error) {
			return nil, context.DeadlineExceeded
		},
	})
	_ = client.Connect(context.Background())

	_, err := client.Invoke(context.Background(), "get_ticker", nil, "")
	require.True(t, domain.IsCode(err, domain.CodeUnavailable))
}
