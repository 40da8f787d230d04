package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Do_BuffersBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["prompt"] != "hello" {
			t.Errorf("prompt = %q, want hello", body["prompt"])
		}
		_, _ = fmt.Fprint(w, `{"id":"ses_123"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Do(context.Background(), http.MethodPost, "/session", map[string]string{"prompt": "hello"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !resp.OK() {
		t.Fatalf("StatusCode = %d, want 2xx", resp.StatusCode)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if result.ID != "ses_123" {
		t.Errorf("ID = %q, want ses_123", result.ID)
	}
}

func TestClient_Do_NonOKErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Do(context.Background(), http.MethodGet, "/session/bogus", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Err() == nil {
		t.Error("Err() should be non-nil for 404")
	}
}

func TestClient_Do_PerRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetTimeout(50 * time.Millisecond)

	_, err := c.Do(context.Background(), http.MethodGet, "/slow", nil)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("Do() error = %v, want ErrRequestTimeout", err)
	}
}

func TestClient_Do_CallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Do(ctx, http.MethodGet, "/slow", nil)
	if err == nil {
		t.Fatal("Do() should fail on cancellation")
	}
	if errors.Is(err, ErrRequestTimeout) {
		t.Errorf("caller cancellation misreported as request timeout: %v", err)
	}
}

func TestClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", accept)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"n\":%d}\n\n", i)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	body, err := c.Stream(context.Background(), "/event")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	var dataLines int
	for scanner.Scan() {
		if len(scanner.Text()) > 0 {
			dataLines++
		}
	}
	if dataLines != 3 {
		t.Errorf("data lines = %d, want 3", dataLines)
	}
}

func TestClient_Stream_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Stream(context.Background(), "/event"); err == nil {
		t.Error("Stream() should fail on non-200")
	}
}
