package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

// apiClient returns an http.Client that connects over the Unix socket.
func apiClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// apiGet performs a GET and decodes the JSON response.
func apiGet(path string, dest any) error {
	resp, err := apiClient().Get("http://primd" + path)
	if err != nil {
		return fmt.Errorf("cannot connect to primd at %s: %w", socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// apiPost sends body as JSON and decodes the response into dest when non-nil.
func apiPost(path string, body any, dest any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	resp, err := apiClient().Post("http://primd"+path, "application/json", r)
	if err != nil {
		return fmt.Errorf("cannot connect to primd at %s: %w", socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if dest != nil {
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	return nil
}

// apiError turns a non-2xx response into an error, using the ErrorResponse
// body when primd sent one.
func apiError(resp *http.Response) error {
	var er protocol.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		if er.Kind != "" {
			return fmt.Errorf("primd returned HTTP %d (%s): %s", resp.StatusCode, er.Kind, er.Error)
		}
		return fmt.Errorf("primd returned HTTP %d: %s", resp.StatusCode, er.Error)
	}
	return fmt.Errorf("primd returned HTTP %d", resp.StatusCode)
}
