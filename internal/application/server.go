package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/api"
	"github.com/eugenenazirov/wasmbridge/internal/config"
	"github.com/eugenenazirov/wasmbridge/internal/envfile"
	"github.com/eugenenazirov/wasmbridge/internal/hotreload"
	"github.com/eugenenazirov/wasmbridge/internal/pipeline"
	"github.com/eugenenazirov/wasmbridge/internal/virtualmod"
)

// Server is an HTTP server plus the background work that lives as long as
// it does.
type Server struct {
	server     *http.Server
	logger     *zap.Logger
	listener   net.Listener
	background []func(ctx context.Context)
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.ServerConfig, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// DevServer builds the development server for kind: project files, the
// virtual initializer with lazy compilation, and full-reload pushes when the
// artifact directory changes.
func (a *App) DevServer(kind envfile.Kind) (*Server, error) {
	merged, err := a.envResolver().Resolve(kind)
	if err != nil {
		return nil, fmt.Errorf("resolve environment: %w", err)
	}

	guard := &virtualmod.InitGuard{}
	hub := api.NewReloadHub(a.logger)
	handler := api.NewHandler(a.cfg.Root, a.resolver,
		api.WithLogger(a.logger),
		api.WithClientEnv(merged, string(kind)),
		api.WithLazyCompile(guard, a.cfg.LoaderPath(), func(ctx context.Context) error {
			return a.compile(ctx, pipeline.ProfileDev)
		}),
	)
	router := api.NewRouter(handler, a.logger,
		api.WithLogging(a.cfg.Server.EnableRequestLogging),
		api.WithRateLimit(a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst),
		api.WithReloadHub(hub),
	)

	watcher := hotreload.New(a.cfg.Root, a.cfg.ArtifactDir,
		hotreload.WithDebounce(a.cfg.Server.ReloadDebounce),
		hotreload.WithLogger(a.logger),
	)

	s := &Server{
		server: NewServer(a.cfg.Server, a.cfg.Server.Addr(), router),
		logger: a.logger,
	}
	s.background = append(s.background, func(ctx context.Context) {
		err := watcher.Watch(ctx, func(d hotreload.Directive) {
			// a rebuilt artifact starts a new session
			guard.Reset()
			hub.Broadcast(d)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("file watcher stopped", zap.Error(err))
		}
	})
	s.server.RegisterOnShutdown(hub.Close)
	return s, nil
}

// PreviewServer serves the built dist directory.
func (a *App) PreviewServer() *Server {
	router := api.NewPreviewRouter(a.cfg.DistPath(), a.logger,
		api.WithLogging(a.cfg.Server.EnableRequestLogging),
		api.WithRateLimit(a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst),
	)
	return &Server{
		server: NewServer(a.cfg.Server, a.cfg.Server.PreviewAddr(), router),
		logger: a.logger,
	}
}

// Start binds the listen address, then serves and runs background work in
// goroutines until the server shuts down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.server.RegisterOnShutdown(cancel)
	for _, fn := range s.background {
		go fn(ctx)
	}

	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
		cancel()
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Server returns the HTTP server instance for shutdown handling.
func (s *Server) Server() *http.Server {
	return s.server
}
