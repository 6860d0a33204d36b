// ABOUTME: MCP discovery client for enumerating tools on remote services.
// ABOUTME: Speaks Streamable HTTP transport: initialize, then tools/list.

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrDiscoveryFailed wraps every transport or protocol failure of an
// outbound discovery call. Callers match it with errors.Is; the underlying
// cause is kept in the message.
var ErrDiscoveryFailed = errors.New("discovery failed")

// DefaultTimeout bounds a discovery call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxResponseBodySize is the maximum accepted discovery response size (4MB).
const maxResponseBodySize = 4 << 20

// protocolVersion is the MCP protocol revision sent during initialize.
const protocolVersion = "2025-03-26"

// ToolInfo is one discovered tool. Entries arriving without a name are
// dropped at the boundary rather than stored.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Client fetches tool lists and descriptions from remote MCP services.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates a discovery client. A zero timeout selects
// DefaultTimeout. A nil logger falls back to slog.Default.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger.With("component", "discovery"),
	}
}

// JSON-RPC 2.0 wire types for the outbound MCP calls.

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	Instructions    string `json:"instructions"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// FetchTools discovers the tools a remote MCP service exposes. Every
// failure - timeout, connection error, malformed response, protocol error -
// wraps ErrDiscoveryFailed so the caller sees a single error kind.
func (c *Client) FetchTools(ctx context.Context, endpoint string) ([]ToolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info("discovering tools", "endpoint", endpoint)

	session, _, err := c.initialize(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing %s: %v", ErrDiscoveryFailed, endpoint, err)
	}

	var result listToolsResult
	if err := c.call(ctx, endpoint, session, &jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/list",
	}, &result); err != nil {
		return nil, fmt.Errorf("%w: listing tools on %s: %v", ErrDiscoveryFailed, endpoint, err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		if t.Name == "" {
			c.logger.Warn("skipping discovered tool without a name", "endpoint", endpoint)
			continue
		}
		tools = append(tools, t)
	}

	c.logger.Info("discovery succeeded", "endpoint", endpoint, "tools_count", len(tools))
	return tools, nil
}

// FetchDescription returns the service description a remote MCP service
// advertises via the optional instructions field of its initialize result.
// A reachable service without instructions yields (nil, nil) - absence is
// not an error. Transport and protocol failures wrap ErrDiscoveryFailed.
func (c *Client) FetchDescription(ctx context.Context, endpoint string) (*string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, init, err := c.initialize(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching description from %s: %v", ErrDiscoveryFailed, endpoint, err)
	}

	if init.Instructions == "" {
		return nil, nil
	}
	return &init.Instructions, nil
}

// initialize performs the MCP handshake and returns the session ID the
// server assigned (empty when the server is sessionless) plus the parsed
// initialize result.
func (c *Client) initialize(ctx context.Context, endpoint string) (string, *initializeResult, error) {
	req := &jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "coven-registry",
				"version": "1.0.0",
			},
		},
	}

	var result initializeResult
	session, err := c.post(ctx, endpoint, "", req, &result)
	if err != nil {
		return "", nil, err
	}

	// Completing the handshake is a notification; servers reply 202 with
	// no body and some reject later calls without it.
	if err := c.notify(ctx, endpoint, session, "notifications/initialized"); err != nil {
		return "", nil, err
	}

	return session, &result, nil
}

// call sends one JSON-RPC request within an established session and
// decodes the result into out.
func (c *Client) call(ctx context.Context, endpoint, session string, req *jsonRPCRequest, out any) error {
	_, err := c.post(ctx, endpoint, session, req, out)
	return err
}

// notify sends a JSON-RPC notification (no ID, no expected body).
func (c *Client) notify(ctx context.Context, endpoint, session, method string) error {
	body, err := json.Marshal(&jsonRPCRequest{JSONRPC: "2.0", Method: method})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	resp, err := c.send(ctx, endpoint, session, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// The transport spec says 202 Accepted; tolerate any 2xx.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification %s: unexpected status %d", method, resp.StatusCode)
	}
	return nil
}

// post sends a JSON-RPC request, decodes the response envelope, and
// returns any session ID the server assigned.
func (c *Client) post(ctx context.Context, endpoint, session string, req *jsonRPCRequest, out any) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.send(ctx, endpoint, session, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: unexpected status %d", req.Method, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var envelope jsonRPCResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if envelope.Error != nil {
		return "", fmt.Errorf("%s: rpc error %d: %s", req.Method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return "", fmt.Errorf("decoding %s result: %w", req.Method, err)
		}
	}

	newSession := resp.Header.Get("Mcp-Session-Id")
	if newSession == "" {
		newSession = session
	}
	return newSession, nil
}

// send performs the HTTP POST with the MCP headers set.
func (c *Client) send(ctx context.Context, endpoint, session string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if session != "" {
		httpReq.Header.Set("Mcp-Session-Id", session)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("posting to %s: %w", endpoint, err)
	}
	return resp, nil
}
