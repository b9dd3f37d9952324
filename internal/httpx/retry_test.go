package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"
)

// Mock HTTP RoundTripper for testing
type mockRoundTripper struct {
	responses []*http.Response
	errors    []error
	index     int
	mux       sync.Mutex
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.index >= len(m.responses) {
		return nil, errors.New("no more responses")
	}

	resp := m.responses[m.index]
	err := m.errors[m.index]
	m.index++

	if resp != nil && resp.Body != nil {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	return resp, err
}

func newMockClient(responses []*http.Response, errs []error) *http.Client {
	if len(errs) < len(responses) {
		for i := len(errs); i < len(responses); i++ {
			errs = append(errs, nil)
		}
	}
	return &http.Client{
		Transport: &mockRoundTripper{responses: responses, errors: errs},
	}
}

func newMockResponse(statusCode int, body string, headers map[string]string) *http.Response {
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     header,
	}
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retry5xx:    true,
	}
}

func buildGet(ctx context.Context) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, "GET", "https://example.com", nil)
}

func TestDoWithRetrySuccess(t *testing.T) {
	client := newMockClient(
		[]*http.Response{newMockResponse(200, `{"success": true}`, nil)},
		[]error{nil},
	)

	resp, body, err := DoWithRetry(context.Background(), client, buildGet, fastRetryConfig(3))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status code 200, got %d", resp.StatusCode)
	}
	if string(body) != `{"success": true}` {
		t.Errorf("Expected body %q, got %q", `{"success": true}`, string(body))
	}
}

func TestDoWithRetryBuildReqError(t *testing.T) {
	client := newMockClient([]*http.Response{nil}, []error{nil})

	_, _, err := DoWithRetry(context.Background(), client, func(ctx context.Context) (*http.Request, error) {
		return nil, errors.New("request build error")
	}, fastRetryConfig(3))
	if err == nil || err.Error() != "request build error" {
		t.Errorf("Expected build error, got %v", err)
	}
}

func TestDoWithRetryRecoversFrom5xx(t *testing.T) {
	client := newMockClient(
		[]*http.Response{
			newMockResponse(503, "busy", nil),
			newMockResponse(503, "busy", nil),
			newMockResponse(200, "ok", nil),
		},
		nil,
	)

	resp, body, err := DoWithRetry(context.Background(), client, buildGet, fastRetryConfig(5))
	if err != nil {
		t.Fatalf("Expected recovery after retries, got %v", err)
	}
	if resp.StatusCode != 200 || string(body) != "ok" {
		t.Errorf("Expected 200/ok, got %d/%q", resp.StatusCode, body)
	}
}

func TestDoWithRetryStopsOn4xx(t *testing.T) {
	client := newMockClient(
		[]*http.Response{
			newMockResponse(404, "missing", nil),
			newMockResponse(200, "ok", nil),
		},
		nil,
	)

	_, _, err := DoWithRetry(context.Background(), client, buildGet, fastRetryConfig(5))
	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("Expected HTTPError, got %v", err)
	}
	if herr.StatusCode != 404 {
		t.Errorf("Expected 404 without retrying, got %d", herr.StatusCode)
	}
}

func TestDoWithRetryExhaustsAttempts(t *testing.T) {
	client := newMockClient(
		[]*http.Response{
			newMockResponse(500, "down", nil),
			newMockResponse(500, "down", nil),
			newMockResponse(500, "down", nil),
		},
		nil,
	)

	_, _, err := DoWithRetry(context.Background(), client, buildGet, fastRetryConfig(3))
	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("Expected HTTPError after exhausting retries, got %v", err)
	}
	if herr.StatusCode != 500 {
		t.Errorf("Expected last 500, got %d", herr.StatusCode)
	}
}

func TestDoJSON(t *testing.T) {
	client := newMockClient(
		[]*http.Response{newMockResponse(200, `{"name": "value"}`, nil)},
		nil,
	)

	var out struct {
		Name string `json:"name"`
	}
	if err := DoJSON(context.Background(), client, buildGet, &out, fastRetryConfig(3)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out.Name != "value" {
		t.Errorf("Expected name=value, got %q", out.Name)
	}
}

func TestDoJSONParseError(t *testing.T) {
	client := newMockClient(
		[]*http.Response{newMockResponse(200, `not json`, nil)},
		nil,
	)

	var out map[string]any
	if err := DoJSON(context.Background(), client, buildGet, &out, fastRetryConfig(3)); err == nil {
		t.Error("Expected parse error for invalid JSON")
	}
}
