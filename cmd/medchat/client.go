package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kalambet/medchat/internal/chat"
	"github.com/kalambet/medchat/internal/config"
)

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL: "http://" + dialAddr(cfg.Server.Host, cfg.Server.Port),
		// Generation has no server-side deadline, so the client only guards
		// against a server that never answers.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// dialAddr turns a bind address into one a local client can connect to.
func dialAddr(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable at %s, is medchat serve running? (%w)", c.baseURL, err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// decodeJSON decodes a success body into v. Error statuses become errors
// carrying the server's {"error": ...} text when present.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var e chat.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ask sends message to POST /chat and returns the model's answer.
func (c *apiClient) ask(ctx context.Context, message string) (string, error) {
	resp, err := c.post(ctx, "/chat", chat.Request{Message: &message})
	if err != nil {
		return "", err
	}
	var out chat.Response
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

type healthInfo struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Engine string `json:"engine"`
}

func (c *apiClient) health(ctx context.Context) (healthInfo, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return healthInfo{}, err
	}
	var h healthInfo
	if err := decodeJSON(resp, &h); err != nil {
		return healthInfo{}, err
	}
	return h, nil
}
