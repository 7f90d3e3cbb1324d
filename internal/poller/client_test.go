package poller

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"strings"
	"testing"
	"time"
)

// TestClient_ConnectionReuse verifies that the HTTP client reuses connections
// when making sequential requests to the same host.
func TestClient_ConnectionReuse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient()

	var reusedCount int
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				reusedCount++
			}
		},
	}

	const numRequests = 5

	for i := 0; i < numRequests; i++ {
		ctx := httptrace.WithClientTrace(context.Background(), trace)
		resp := client.Do(ctx, Request{URL: server.URL, Timeout: 5 * time.Second})
		if resp.Error != nil {
			t.Fatalf("request %d failed: %v", i, resp.Error)
		}
	}

	// allow some tolerance
	expectedMinReuse := numRequests - 2
	if reusedCount < expectedMinReuse {
		t.Errorf("expected at least %d reused connections, got %d out of %d requests",
			expectedMinReuse, reusedCount, numRequests)
	}
}

// TestClient_PostBodyAndHeaders verifies that method, body and headers
// reach the server unchanged.
func TestClient_PostBodyAndHeaders(t *testing.T) {
	var gotMethod, gotType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp := NewClient().Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     server.URL,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"content":"hi"}`),
	})

	if !resp.OK() {
		t.Fatalf("expected OK response, got status %d err %v", resp.StatusCode, resp.Error)
	}
	if gotMethod != http.MethodPost || gotType != "application/json" || gotBody != `{"content":"hi"}` {
		t.Errorf("server saw %s %q %q", gotMethod, gotType, gotBody)
	}
}

// TestClient_NonSuccessStatusIsNotAnError verifies that HTTP errors come back
// as a status code, leaving interpretation to the caller.
func TestClient_NonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	resp := NewClient().Do(context.Background(), Request{URL: server.URL})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.OK() {
		t.Error("429 must not be OK")
	}
	if !strings.Contains(string(resp.Body), "slow down") {
		t.Errorf("body = %q, want the server message", resp.Body)
	}
}

// TestClient_Timeout verifies the per-request timeout is enforced.
func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	resp := NewClient().Do(context.Background(), Request{URL: server.URL, Timeout: 50 * time.Millisecond})

	if resp.Error == nil {
		t.Fatal("expected timeout error")
	}
	if resp.StatusCode != 0 {
		t.Errorf("status = %d, want 0", resp.StatusCode)
	}
}

// TestClient_BodyLimit verifies bodies beyond the limit are cut off.
func TestClient_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBodySize+100)))
	}))
	defer server.Close()

	resp := NewClient().Do(context.Background(), Request{URL: server.URL})

	if len(resp.Body) != maxResponseBodySize {
		t.Errorf("body length = %d, want %d", len(resp.Body), maxResponseBodySize)
	}
}

// TestClient_InvalidURL verifies request construction errors are reported.
func TestClient_InvalidURL(t *testing.T) {
	resp := NewClient().Do(context.Background(), Request{URL: "://nope"})

	if resp.Error == nil {
		t.Error("expected error for invalid URL")
	}
}

// TestClient_Close verifies that Close() is safe to call and idempotent.
func TestClient_Close(t *testing.T) {
	client := NewClient()

	client.Close()
	client.Close()
}

// TestClient_Close_NilClient verifies that Close() handles nil receiver safely.
func TestClient_Close_NilClient(t *testing.T) {
	var client *Client

	// should not panic on nil receiver
	client.Close()
}

// TestClient_Close_ActuallyClosesConnections verifies that Close closes idle
// connections, but the client remains usable for new requests.
func TestClient_Close_ActuallyClosesConnections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient()

	for i := 0; i < 5; i++ {
		resp := client.Do(context.Background(), Request{URL: server.URL, Timeout: time.Second})
		if resp.Error != nil {
			t.Fatalf("request %d failed: %v", i, resp.Error)
		}
	}

	client.Close()

	// subsequent requests should still work (new connections established)
	resp := client.Do(context.Background(), Request{URL: server.URL, Timeout: time.Second})
	if resp.Error != nil {
		t.Errorf("request after Close failed: %v", resp.Error)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

// TestNewClientWith_Nil verifies a nil client falls back to the pooled one.
func TestNewClientWith_Nil(t *testing.T) {
	c := NewClientWith(nil)
	if c.HTTPClient() == nil || c.HTTPClient().Transport == nil {
		t.Error("expected pooled default transport")
	}
}
