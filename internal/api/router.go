package api

import (
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter replaces the per-client limiter.
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithRateLimit installs a token bucket limiter. A zero rate disables
// limiting.
func WithRateLimit(rps float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		if rps <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newClientLimiter(rps, burst)
	}
}

// WithReloadHub mounts the hub at SocketPath.
func WithReloadHub(hub *ReloadHub) RouterOption {
	return func(cfg *routerConfig) {
		cfg.hub = hub
	}
}

type routerConfig struct {
	enableLogging bool
	logger        *zap.Logger
	rateLimiter   rateLimiter
	hub           *ReloadHub
}

func newRouterConfig(logger *zap.Logger, opts []RouterOption) routerConfig {
	cfg := routerConfig{
		enableLogging: true,
		logger:        logger,
		rateLimiter:   newClientLimiter(50, 100),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRouter creates the development server router with standard middleware.
func NewRouter(handler *Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := newRouterConfig(logger, opts)

	mux := http.NewServeMux()
	mux.Handle("GET "+HealthPath, http.HandlerFunc(handler.handleHealth))
	mux.Handle("GET "+ClientPath, http.HandlerFunc(handler.handleClient))
	mux.Handle("GET "+VirtualPrefix, http.HandlerFunc(handler.handleVirtual))
	if cfg.hub != nil {
		mux.Handle("GET "+SocketPath, cfg.hub)
	}
	mux.Handle("GET /", http.HandlerFunc(handler.handleStatic))

	return wrap(cfg, noStoreMiddleware(mux))
}

// NewPreviewRouter serves a built dist directory. Unknown paths without an
// extension fall back to index.html so client-side routes resolve.
func NewPreviewRouter(dir string, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := newRouterConfig(logger, opts)

	files := http.FileServer(http.Dir(dir))
	mux := http.NewServeMux()
	mux.Handle("GET /", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean("/" + r.URL.Path)
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean))); errors.Is(err, os.ErrNotExist) && path.Ext(clean) == "" {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	}))

	return wrap(cfg, mux)
}

// wrap applies the shared chain. The outermost middleware runs first.
func wrap(cfg routerConfig, h http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		requestIDMiddleware,
		func(next http.Handler) http.Handler { return rateLimitMiddleware(cfg.rateLimiter, next) },
	}
	if cfg.enableLogging {
		chain = append(chain, func(next http.Handler) http.Handler { return loggingMiddleware(cfg.logger, next) })
	}
	chain = append(chain,
		func(next http.Handler) http.Handler { return recoveryMiddleware(cfg.logger, next) },
		corsMiddleware,
	)
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}
