package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamcoop/compliance/internal/config"
)

// startServer runs a server with in-memory tenants behind httptest and
// returns its /api/v1 base URL
func startServer(t *testing.T, cfg *config.Config) (*Server, string) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}

	server, err := NewServerWithDB(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return server, ts.URL + "/api/v1"
}

// Helper function to make HTTP requests with JSON body
func makeRequest(t *testing.T, method, url string, body any) map[string]any {
	t.Helper()
	status, result := doRequest(t, method, url, body)
	if status < 200 || status >= 300 {
		t.Fatalf("%s %s failed with status %d: %v", method, url, status, result)
	}
	return result
}

// doRequest returns the status and decoded JSON body, which is nil for empty
// responses
func doRequest(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if len(data) == 0 {
		return resp.StatusCode, nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to decode response %q: %v", string(data), err)
	}
	return resp.StatusCode, result
}

// Helper function to make raw HTTP requests
func makeHTTPRequest(method, url string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}

// violationIDs extracts report.violations[].ruleId from an evaluate response
func violationIDs(t *testing.T, resp map[string]any) []string {
	t.Helper()
	report, ok := resp["report"].(map[string]any)
	if !ok {
		t.Fatalf("response has no report: %v", resp)
	}
	var ids []string
	for _, v := range report["violations"].([]any) {
		ids = append(ids, v.(map[string]any)["ruleId"].(string))
	}
	return ids
}

func deniedClaim() map[string]any {
	return map[string]any{
		"claim": map[string]any{"status": "DENIED"},
	}
}
