package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

// DaemonAPI is the subset of the primd API the MCP tools use.
// Implemented by APIClient; tests can provide a mock.
type DaemonAPI interface {
	GetStatus(ctx context.Context) (*protocol.StatusResponse, error)
	GetRobots(ctx context.Context) (*protocol.RobotsResponse, error)
	GetTypes(ctx context.Context) (*protocol.PrimitiveTypesResponse, error)
	GetHistory(ctx context.Context, limit int) (*protocol.HistoryResponse, error)
	GetBehaviors(ctx context.Context) (*protocol.BehaviorsResponse, error)
	Dispatch(ctx context.Context, msg primitive.Message) (*protocol.DispatchResponse, error)
	ReloadConfig(ctx context.Context) error
	ReloadBehaviors(ctx context.Context) error
}

// APIClient talks to primd over its Unix socket HTTP API.
type APIClient struct {
	client *http.Client
}

// NewAPIClient creates an APIClient connected to the daemon's Unix socket.
func NewAPIClient(socketPath string) *APIClient {
	return &APIClient{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *APIClient) GetStatus(ctx context.Context) (*protocol.StatusResponse, error) {
	var resp protocol.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetRobots(ctx context.Context) (*protocol.RobotsResponse, error) {
	var resp protocol.RobotsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/robots", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetTypes(ctx context.Context) (*protocol.PrimitiveTypesResponse, error) {
	var resp protocol.PrimitiveTypesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/primitives/types", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetHistory(ctx context.Context, limit int) (*protocol.HistoryResponse, error) {
	var resp protocol.HistoryResponse
	path := "/api/v1/primitives/history?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetBehaviors(ctx context.Context) (*protocol.BehaviorsResponse, error) {
	var resp protocol.BehaviorsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/behaviors", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Dispatch(ctx context.Context, msg primitive.Message) (*protocol.DispatchResponse, error) {
	var resp protocol.DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/primitives", msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) ReloadConfig(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/config/reload", nil, nil)
}

func (c *APIClient) ReloadBehaviors(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/behaviors/reload", nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, dst any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://primd"+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er protocol.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			return fmt.Errorf("%s returned status %d (%s): %s", path, resp.StatusCode, er.Kind, er.Error)
		}
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
