package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiBase = "/api/v1"

type passportClient struct {
	baseURL string
	http    *http.Client
	user    string
	role    string
	token   string
}

func newClient() *passportClient {
	return &passportClient{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		user:  userID,
		role:  userRole,
		token: token,
	}
}

// apiError is returned for non-2xx responses.
type apiError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// do sends a request and decodes a JSON response into v when v is non-nil.
func (c *passportClient) do(method, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.user != "" {
		req.Header.Set("X-User-Id", c.user)
		if c.role != "" {
			req.Header.Set("X-User-Role", c.role)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &apiError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			apiErr.Message = body.Message
			apiErr.Code = body.Error
		case body.Error != "":
			apiErr.Message = body.Error
			apiErr.Code = body.Code
		}
	}
	return apiErr
}

func (c *passportClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *passportClient) postJSON(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

func (c *passportClient) patchJSON(path string, body, v any) error {
	return c.do(http.MethodPatch, path, body, v)
}

func (c *passportClient) delete(path string) error {
	return c.do(http.MethodDelete, path, nil, nil)
}
