package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/wasmbridge/internal/application"
	"github.com/eugenenazirov/wasmbridge/internal/config"
	"github.com/eugenenazirov/wasmbridge/internal/envfile"
	"github.com/eugenenazirov/wasmbridge/internal/pipeline"
)

const projectConfig = `package_name: app
bundle:
  engine: esbuild
  entry: main.ts
  index_html: index.html
server:
  host: 127.0.0.1
  enable_request_logging: false
`

// compilerStub writes the loader and binary the compiler would emit.
type compilerStub struct {
	cfg   config.Config
	calls []pipeline.Command
}

func (c *compilerStub) Run(_ context.Context, cmd pipeline.Command) error {
	c.calls = append(c.calls, cmd)
	if err := os.MkdirAll(c.cfg.ArtifactPath(), 0o755); err != nil {
		return err
	}
	loader := `export default async function init() { globalThis.__wasmBooted = true; }`
	if err := os.WriteFile(c.cfg.LoaderPath(), []byte(loader), 0o644); err != nil {
		return err
	}
	return os.WriteFile(c.cfg.WasmPath(), []byte("\x00asm\x01\x00\x00\x00"), 0o644)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newProject(t *testing.T) config.Config {
	t.Helper()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, config.DefaultFileName), projectConfig)
	writeFile(t, filepath.Join(root, ".env"), "VITE_APP_TITLE=Base\n")
	writeFile(t, filepath.Join(root, ".env.production"), "VITE_APP_TITLE=Shipped\nVITE_API_URL=https://api.example.com\n")
	writeFile(t, filepath.Join(root, "main.ts"), `import { initWasm } from "virtual:wasm-init";
const title: string = import.meta.env.VITE_APP_TITLE;
document.title = title;
initWasm();
`)
	writeFile(t, filepath.Join(root, "index.html"), `<!DOCTYPE html>
<html><head><title>app</title></head>
<body><div id="leptos-app"></div>
<script type="module" src="/main.ts"></script>
</body></html>`)

	cfg, err := config.Load(&config.CLIOverrides{Root: &root})
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Server.PreviewPort = 0
	return cfg
}

func TestBuildThenPreview(t *testing.T) {
	cfg := newProject(t)
	compiler := &compilerStub{cfg: cfg}
	env := envfile.MapEnvironment{}
	var out bytes.Buffer

	app, err := application.New(cfg, zaptest.NewLogger(t),
		application.WithRunner(compiler),
		application.WithOutput(&out),
		application.WithEnvironment(env),
	)
	if err != nil {
		t.Fatalf("application.New: %v", err)
	}

	if err := app.Build(context.Background(), envfile.Production, pipeline.ProfileRelease); err != nil {
		t.Fatalf("Build returned error: %v\n%s", err, out.String())
	}
	if len(compiler.calls) != 1 {
		t.Fatalf("expected a single compile, got %d", len(compiler.calls))
	}
	if env["VITE_APP_TITLE"] != "Shipped" || env["VITE_API_URL"] != "https://api.example.com" {
		t.Fatalf("expected production layer to win, got %v", env)
	}
	for _, want := range []string{"Environment: production", "All checks passed."} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}

	chunks, err := filepath.Glob(filepath.Join(cfg.DistPath(), "assets", "main-*.js"))
	if err != nil || len(chunks) != 1 {
		t.Fatalf("expected one entry chunk, got %v (%v)", chunks, err)
	}
	js, err := os.ReadFile(chunks[0])
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if !strings.Contains(string(js), "Shipped") {
		t.Fatalf("expected inlined environment in bundle")
	}

	server := app.PreviewServer()
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Server().Shutdown(ctx)
	})

	base := "http://" + server.Addr()
	index := get(t, base+"/")
	chunkURL := "/assets/" + filepath.Base(chunks[0])
	if !strings.Contains(index, chunkURL) {
		t.Fatalf("expected index to reference %s:\n%s", chunkURL, index)
	}
	if body := get(t, base+chunkURL); !strings.Contains(body, "__wasmBooted") {
		t.Fatalf("expected served chunk to contain the loader")
	}
	if body := get(t, base+"/orders/42"); body != index {
		t.Fatalf("expected client-side route to fall back to index.html")
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
