package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/internal/actor"
)

func TestDoDecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("query = %v", r.URL.Query())
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["query"] != "report" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"count":2}`))
	}))
	defer server.Close()

	c := New(Config{Timeout: 5 * time.Second})
	var out struct {
		OK    bool `json:"ok"`
		Count int  `json:"count"`
	}
	ctx := actor.WithWorkspace(context.Background(), "ws-1")
	resp, err := c.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     server.URL + "/search",
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Query:   map[string]string{"limit": "5"},
		Body:    map[string]any{"query": "report"},
		Result:  &out,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 || !out.OK || out.Count != 2 {
		t.Errorf("resp=%d out=%+v", resp.StatusCode, out)
	}
}

func TestDoFormBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content-type = %q", ct)
		}
		_ = r.ParseForm()
		if r.Form.Get("channel") != "C1" {
			t.Errorf("form = %v", r.Form)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(Config{})
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: server.URL, Form: map[string]string{"channel": "C1"}})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestDoStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_auth"}`))
	}))
	defer server.Close()

	c := New(Config{})
	err := c.GetJSON(context.Background(), server.URL, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Body != `{"error":"invalid_auth"}` {
		t.Errorf("body = %q", se.Body)
	}
	if !IsAuthError(err) || IsRetryable(err) || IsRateLimitError(err) {
		t.Error("401 should be an auth error only")
	}
}

func TestRetriesOnlyIdempotentRequests(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(Config{MaxRetries: 2, RetryWait: time.Millisecond})

	_ = c.GetJSON(context.Background(), server.URL, nil, nil)
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("GET hits = %d, want 3", got)
	}

	atomic.StoreInt32(&hits, 0)
	err := c.PostJSON(context.Background(), server.URL, nil, map[string]string{"a": "b"}, nil)
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("POST hits = %d, want 1", got)
	}
	if !IsRetryable(err) {
		t.Errorf("503 should be retryable: %v", err)
	}
}
