package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	osSignal "os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/wasmbridge/internal/application"
	"github.com/eugenenazirov/wasmbridge/internal/config"
)

func newPreviewApp(t *testing.T) *application.App {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dist"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "dist", "index.html"), []byte("<html>preview</html>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.Load(&config.CLIOverrides{Root: &root})
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.PreviewPort = 0

	app, err := application.New(cfg, zaptest.NewLogger(t), application.WithOutput(io.Discard))
	if err != nil {
		t.Fatalf("application.New: %v", err)
	}
	return app
}

func TestServeUntilSignalStopsOnSIGTERM(t *testing.T) {
	t.Cleanup(func() {
		signalNotify = osSignal.Notify
	})

	registered := make(chan chan<- os.Signal, 1)
	signalNotify = func(ch chan<- os.Signal, _ ...os.Signal) {
		registered <- ch
	}

	app := newPreviewApp(t)
	var srv *application.Server
	result := make(chan error, 1)
	go func() {
		result <- serveUntilSignal(func() (*application.Server, error) {
			srv = app.PreviewServer()
			return srv, nil
		}, time.Second, zaptest.NewLogger(t))
	}()

	var quit chan<- os.Signal
	select {
	case quit = <-registered:
	case <-time.After(5 * time.Second):
		t.Fatalf("server never waited for a signal")
	}

	url := "http://" + srv.Addr() + "/"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET while serving: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "<html>preview</html>" {
		t.Fatalf("unexpected preview response %d %q", resp.StatusCode, body)
	}

	quit <- syscall.SIGTERM
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("serveUntilSignal returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down after SIGTERM")
	}

	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(url); err == nil {
		resp.Body.Close()
		t.Fatalf("expected the listener to be closed after shutdown")
	}
}

func TestServeUntilSignalReturnsSetupErrors(t *testing.T) {
	t.Cleanup(func() {
		signalNotify = osSignal.Notify
	})
	signalNotify = func(chan<- os.Signal, ...os.Signal) {
		t.Fatalf("no signal wait expected when the server cannot be built")
	}

	boom := errors.New("environment unreadable")
	err := serveUntilSignal(func() (*application.Server, error) { return nil, boom }, time.Second, zaptest.NewLogger(t))
	if !errors.Is(err, boom) {
		t.Fatalf("expected setup error, got %v", err)
	}
}
