package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// TestContext carries HTTP state between the steps of one scenario.
type TestContext struct {
	baseURL     string
	client      *http.Client
	accessToken string
	email       string
	password    string
	saved       map[string]string

	lastStatus  int
	lastBody    []byte
	lastHeaders http.Header
}

// NewTestContext targets E2E_BASE_URL, defaulting to a local server.
func NewTestContext() *TestContext {
	base := os.Getenv("E2E_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &TestContext{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		saved:   make(map[string]string),
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.accessToken = ""
	tc.email = ""
	tc.password = ""
	tc.saved = make(map[string]string)
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastHeaders = nil
}

func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.Do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.Do(http.MethodGet, path, nil, headers)
}

// Do sends a request with the current access token, if any. Explicit
// headers win over the defaults.
func (tc *TestContext) Do(method, path string, body interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, tc.baseURL+tc.Expand(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, tc.Expand(v))
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

// GetResponseField resolves a dotted path such as "items.0.id" in the last
// JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w (body=%s)", err, tc.lastBody)
	}
	cur := doc
	for _, part := range strings.Split(field, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in %s", field, tc.lastBody)
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %s", part, field)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %q of %s", part, field)
		}
	}
	return cur, nil
}

func (tc *TestContext) GetLastResponseStatus() int       { return tc.lastStatus }
func (tc *TestContext) GetLastResponseBody() []byte      { return tc.lastBody }
func (tc *TestContext) GetLastHeader(name string) string { return tc.lastHeaders.Get(name) }
func (tc *TestContext) GetAccessToken() string           { return tc.accessToken }
func (tc *TestContext) SetAccessToken(token string)      { tc.accessToken = token }

func (tc *TestContext) GetCredentials() (string, string) { return tc.email, tc.password }

func (tc *TestContext) SetCredentials(email, password string) {
	tc.email = email
	tc.password = password
}

// Save stores a value that later paths can reference as {name}.
func (tc *TestContext) Save(name, value string) { tc.saved[name] = value }

func (tc *TestContext) Saved(name string) string { return tc.saved[name] }

// Expand replaces {name} placeholders with saved values.
func (tc *TestContext) Expand(s string) string {
	for k, v := range tc.saved {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}
