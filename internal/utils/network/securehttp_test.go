package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != UserAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	client := NewSecureHTTPClient(5 * time.Second)
	body, err := Get(context.Background(), client, srv.URL+"/ok")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "payload" {
		t.Errorf("body = %q", data)
	}

	if _, err := Get(context.Background(), client, srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestGetHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := Get(ctx, NewSecureHTTPClient(0), srv.URL); err == nil {
		t.Error("expected context error")
	}
}
