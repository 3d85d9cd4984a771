// Package client contains Cobra CLI commands for quill.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// projectFromEnv returns the tenant project id from QUILL_PROJECT or a default.
func projectFromEnv() string {
	if p := os.Getenv("QUILL_PROJECT"); p != "" {
		return p
	}
	return "default"
}

// doJSON issues an HTTP request against the quill API with the tenant and
// client-id headers set, decoding a JSON response body into out when out is
// non-nil and the response carries one.
func doJSON(ctx context.Context, baseURL BaseURLFunc, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL(), "/")+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Project-ID", projectFromEnv())
	req.Header.Set("Client-ID", clientID())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return resp.StatusCode, fmt.Errorf("server: %s", msg)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

var processClientID = uuid.NewString()

// clientID returns the uuid identifying this CLI instance for echo
// suppression. QUILL_CLIENT_ID overrides the per-process default.
func clientID() string {
	if v := os.Getenv("QUILL_CLIENT_ID"); v != "" {
		return v
	}
	return processClientID
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
