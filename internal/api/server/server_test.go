package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/remiblancher/qsign/internal/config"
)

func TestF_Server_ServeAndShutdown(t *testing.T) {
	cfg := config.Default().Server
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.MaxConnections = 4
	cfg.ShutdownTimeout = 2 * time.Second

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	srv := New(cfg, handler, "test", log.New(io.Discard, "", 0))

	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q, want pong", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestU_Server_ListenError(t *testing.T) {
	cfg := config.Default().Server
	cfg.Host = "256.0.0.1"
	srv := New(cfg, http.NotFoundHandler(), "test", nil)
	if _, err := srv.Listen(); err == nil {
		t.Error("Listen() should fail for an invalid host")
	}
}
