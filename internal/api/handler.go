package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/bundle"
	"github.com/eugenenazirov/wasmbridge/internal/envfile"
	"github.com/eugenenazirov/wasmbridge/internal/virtualmod"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const (
	// VirtualPrefix is where browsers fetch virtual modules.
	VirtualPrefix = "/@id/"
	// ClientPath serves the reload client; SocketPath is its websocket.
	ClientPath = "/@wasmbridge/client.js"
	SocketPath = "/@wasmbridge/ws"
	HealthPath = "/@wasmbridge/health"
)

// Handler serves the project directory for development: project files, the
// virtual initializer, TypeScript transformed on the fly and the reload
// client.
type Handler struct {
	root     string
	resolver *virtualmod.Resolver
	logger   *zap.Logger
	clock    func() time.Time

	env  envfile.Merged
	mode string

	guard      *virtualmod.InitGuard
	loaderFile string
	compile    func(context.Context) error
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClientEnv exposes the VITE_* variables of env and the mode to
// transformed sources.
func WithClientEnv(env envfile.Merged, mode string) HandlerOption {
	return func(h *Handler) {
		h.env = env
		h.mode = mode
	}
}

// WithLazyCompile compiles the artifact through guard the first time the
// virtual module is requested while loaderFile does not exist.
func WithLazyCompile(guard *virtualmod.InitGuard, loaderFile string, compile func(context.Context) error) HandlerOption {
	return func(h *Handler) {
		h.guard = guard
		h.loaderFile = loaderFile
		h.compile = compile
	}
}

// NewHandler constructs a Handler serving root.
func NewHandler(root string, resolver *virtualmod.Resolver, opts ...HandlerOption) *Handler {
	h := &Handler{
		root:     root,
		resolver: resolver,
		logger:   zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	if h.guard != nil {
		resp.Artifact = h.guard.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVirtual(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, VirtualPrefix)
	marker, ok := h.resolver.ResolveID(id, "")
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown module", id)
		return
	}

	if err := h.ensureArtifact(r.Context()); err != nil {
		if r.Context().Err() != nil {
			// client went away; the compile keeps running for the next request
			return
		}
		h.logger.Error("artifact compilation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Compilation failed", err.Error(),
			"fix the compiler errors and run `wasmbridge compile`; the server picks up the new artifact and reloads")
		return
	}

	source, ok := h.resolver.Load(marker)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown module", id)
		return
	}
	writeJavaScript(w, source)
}

func (h *Handler) ensureArtifact(ctx context.Context) error {
	if h.compile == nil || h.guard == nil {
		return nil
	}
	if _, err := os.Stat(h.loaderFile); err == nil {
		return nil
	}
	return h.guard.Do(ctx, h.compile)
}

func (h *Handler) handleClient(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJavaScript(w, reloadClientJS)
}

func (h *Handler) handleStatic(w http.ResponseWriter, r *http.Request) {
	file, ok := h.localPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusForbidden, "Forbidden", "path escapes the project root")
		return
	}

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		_, err = os.Stat(file)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "Not found", r.URL.Path)
			return
		}
		writeInternalError(w, err)
		return
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".html":
		h.serveHTML(w, file)
	case ".ts", ".tsx", ".mts":
		h.serveTypeScript(w, r, file)
	default:
		http.ServeFile(w, r, file)
	}
}

// localPath maps a URL path onto the project root.
func (h *Handler) localPath(urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	file := filepath.Join(h.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(h.root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return file, true
}

func (h *Handler) serveHTML(w http.ResponseWriter, file string) {
	content, err := os.ReadFile(file)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(InjectDevScripts(content, h.resolver.Specifier()))
}

func (h *Handler) serveTypeScript(w http.ResponseWriter, r *http.Request, file string) {
	content, err := os.ReadFile(file)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	loader := esbuild.LoaderTS
	if strings.HasSuffix(file, ".tsx") {
		loader = esbuild.LoaderTSX
	}
	result := esbuild.Transform(string(content), esbuild.TransformOptions{
		Loader:     loader,
		Format:     esbuild.FormatESModule,
		Target:     esbuild.ES2020,
		Sourcefile: r.URL.Path,
		Sourcemap:  esbuild.SourceMapInline,
		Define:     bundle.Defines(h.env, h.mode),
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, m.Text)
		}
		h.logger.Warn("transform failed", zap.String("file", file), zap.Strings("errors", msgs))
		writeError(w, http.StatusInternalServerError, "Transform failed", strings.Join(msgs, "; "))
		return
	}
	writeJavaScript(w, string(result.Code))
}

var headTag = regexp.MustCompile(`(?i)<head(?:\s[^>]*)?>`)

// InjectDevScripts adds an import map for the virtual specifier and the
// reload client to an HTML page, right after <head> when present.
func InjectDevScripts(html []byte, specifier string) []byte {
	imports, _ := json.Marshal(map[string]map[string]string{
		"imports": {specifier: VirtualPrefix + specifier},
	})
	snippet := `<script type="importmap">` + string(imports) + `</script>` +
		`<script type="module" src="` + ClientPath + `"></script>`

	loc := headTag.FindIndex(html)
	if loc == nil {
		return append([]byte(snippet), html...)
	}
	out := make([]byte, 0, len(html)+len(snippet))
	out = append(out, html[:loc[1]]...)
	out = append(out, snippet...)
	return append(out, html[loc[1]:]...)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

const reloadClientJS = `const url = new URL("` + SocketPath + `", location.href);
url.protocol = url.protocol === "https:" ? "wss:" : "ws:";

function connect() {
  const socket = new WebSocket(url);
  socket.addEventListener("message", (event) => {
    const msg = JSON.parse(event.data);
    if (msg.type === "full-reload") {
      console.log("[wasmbridge] " + msg.path + " changed, reloading");
      location.reload();
    }
  });
  socket.addEventListener("close", () => setTimeout(connect, 1000));
}

connect();
`

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Artifact  string    `json:"artifact,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJavaScript(w http.ResponseWriter, source string) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(source))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
