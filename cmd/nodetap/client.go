package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIClient talks to a running nodetap control plane over HTTP.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a client for the control API.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:7070"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks whether the control plane answers at all.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Get performs a GET and decodes the JSON body.
func (c *APIClient) Get(path string) (any, error) {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// Post sends body (may be nil) as JSON and decodes the JSON reply.
func (c *APIClient) Post(path string, body any) (any, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	resp, err := c.client.Post(c.baseURL+path, "application/json", rd)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// Delete issues a DELETE and decodes the JSON reply.
func (c *APIClient) Delete(path string) (any, error) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (any, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
			return nil, fmt.Errorf("API error: HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("API error: %s", errorResp.Error)
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}
