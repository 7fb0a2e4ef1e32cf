package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mdgw/internal/domain"
)

const serverName = "mdgw"

// NewMCPServer builds the tool-invocation server exposing the unified
// market.* tools.
func (g *Gateway) NewMCPServer(version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})
	for _, decl := range g.declarations {
		server.AddTool(&mcp.Tool{
			Name:        decl.Name,
			Description: decl.Description,
			InputSchema: decl.Schema,
		}, g.toolHandler(decl.Name))
	}
	return server
}

func (g *Gateway) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(domain.E(domain.CodeInvalidArgument, "gateway.decode",
					"arguments must be a JSON object", err)), nil
			}
		}
		response, err := g.Invoke(ctx, name, args, correlationIDFromMeta(req.Params.Meta))
		if err != nil {
			return errorResult(err), nil
		}
		data, err := json.Marshal(response)
		if err != nil {
			return errorResult(domain.E(domain.CodeInternal, "gateway.encode", "", err)), nil
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
			StructuredContent: response,
		}, nil
	}
}

func correlationIDFromMeta(meta mcp.Meta) string {
	if meta == nil {
		return ""
	}
	if id, ok := meta["correlationId"].(string); ok {
		return id
	}
	return ""
}

// errorResult maps a pipeline failure onto an in-band tool error so clients
// see the machine-readable code and any metadata (suggested alternatives,
// available venues) instead of a bare protocol error.
func errorResult(err error) *mcp.CallToolResult {
	payload := map[string]any{"error": err.Error()}
	if code, ok := domain.CodeFrom(err); ok {
		payload["error_code"] = string(code)
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		for key, value := range domainErr.Meta {
			payload[key] = value
		}
	}
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		data = []byte(`{"error":"internal error"}`)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// Run serves the gateway over stdio until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, version string) error {
	g.logger.Info("gateway starting (stdio transport)")
	return g.NewMCPServer(version).Run(ctx, &mcp.StdioTransport{})
}

// HTTPOptions configures the streamable HTTP listener.
type HTTPOptions struct {
	Addr    string
	Version string
}

// RunStreamableHTTP serves the gateway over streamable HTTP until ctx is
// cancelled.
func (g *Gateway) RunStreamableHTTP(ctx context.Context, opts HTTPOptions) error {
	server := g.NewMCPServer(opts.Version)
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	httpServer := &http.Server{
		Addr:    opts.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway starting (streamable http transport)", zap.String("addr", opts.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
