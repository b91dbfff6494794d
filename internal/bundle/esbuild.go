// Package bundle is the in-process bundler engine. It bundles the
// application entry with esbuild, resolving the virtual initializer through
// the virtualmod plugin, and writes index.html pointing at the result.
package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/envfile"
	"github.com/eugenenazirov/wasmbridge/internal/virtualmod"
)

const (
	// EnvPrefix marks variables exposed to client code.
	EnvPrefix = "VITE_"
	// AssetDir holds entry chunks; WasmAssetDir holds imported .wasm files.
	AssetDir     = "assets"
	WasmAssetDir = "assets/wasm"
)

// ErrBuildFailed wraps esbuild diagnostics.
var ErrBuildFailed = errors.New("bundle: esbuild reported errors")

// ESBuild bundles with the esbuild Go API.
type ESBuild struct {
	// Root is the project root; Entry and IndexHTML are relative to it.
	Root      string
	Entry     string
	IndexHTML string
	// OutDir receives the bundle.
	OutDir string
	// ArtifactDir holds the compiled artifact; its .wasm files are copied
	// next to the entry chunk so the loader can fetch them relative to
	// import.meta.url.
	ArtifactDir string
	// Mode is exposed as import.meta.env.MODE.
	Mode   string
	Minify bool

	Resolver *virtualmod.Resolver
	Logger   *zap.Logger
}

// Bundle implements pipeline.Bundler.
func (b *ESBuild) Bundle(ctx context.Context, env envfile.Merged) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := api.BuildOptions{
		EntryPoints:       []string{filepath.Join(b.Root, b.Entry)},
		AbsWorkingDir:     b.Root,
		Outdir:            b.OutDir,
		Bundle:            true,
		Write:             false,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            api.ES2020,
		EntryNames:        AssetDir + "/[name]-[hash]",
		AssetNames:        WasmAssetDir + "/[name]-[hash]",
		Loader:            map[string]api.Loader{".wasm": api.LoaderFile},
		Define:            Defines(env, b.Mode),
		MinifyWhitespace:  b.Minify,
		MinifyIdentifiers: b.Minify,
		MinifySyntax:      b.Minify,
		LogLevel:          api.LogLevelSilent,
	}
	if b.Resolver != nil {
		opts.Plugins = []api.Plugin{b.Resolver.Plugin()}
	}

	result := api.Build(opts)
	for _, w := range result.Warnings {
		logger.Warn("esbuild warning", zap.String("text", w.Text), zap.String("location", location(w)))
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, strings.TrimSpace(location(e)+" "+e.Text))
		}
		return fmt.Errorf("%w: %s", ErrBuildFailed, strings.Join(msgs, "; "))
	}

	entryChunk := ""
	for _, f := range result.OutputFiles {
		if err := writeFile(f.Path, f.Contents); err != nil {
			return err
		}
		if entryChunk == "" && strings.HasSuffix(f.Path, ".js") {
			entryChunk = f.Path
		}
		logger.Debug("wrote output", zap.String("path", f.Path), zap.Int("bytes", len(f.Contents)))
	}
	if entryChunk == "" {
		return fmt.Errorf("%w: no javascript output", ErrBuildFailed)
	}

	if err := b.copyArtifacts(filepath.Dir(entryChunk)); err != nil {
		return err
	}
	return b.writeIndex(entryChunk)
}

// Defines maps VITE_* variables and the mode onto import.meta.env
// replacements.
func Defines(env envfile.Merged, mode string) map[string]string {
	if mode == "" {
		mode = string(envfile.Development)
	}
	defines := map[string]string{
		"import.meta.env.MODE": quote(mode),
		"import.meta.env.DEV":  fmt.Sprint(mode == string(envfile.Development)),
		"import.meta.env.PROD": fmt.Sprint(mode != string(envfile.Development)),
	}
	for _, key := range env.Keys() {
		if strings.HasPrefix(key, EnvPrefix) {
			defines["import.meta.env."+key] = quote(env[key])
		}
	}
	return defines
}

func (b *ESBuild) copyArtifacts(dest string) error {
	if b.ArtifactDir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(b.ArtifactDir, "*.wasm"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, src := range matches {
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}
		if err := writeFile(filepath.Join(dest, filepath.Base(src)), data); err != nil {
			return err
		}
	}
	return nil
}

func (b *ESBuild) writeIndex(entryChunk string) error {
	if b.IndexHTML == "" {
		return nil
	}
	src := filepath.Join(b.Root, b.IndexHTML)
	html, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", b.IndexHTML, err)
	}

	rel, err := filepath.Rel(b.OutDir, entryChunk)
	if err != nil {
		return err
	}
	out := RewriteEntryScript(html, b.Entry, "/"+filepath.ToSlash(rel))
	return writeFile(filepath.Join(b.OutDir, "index.html"), out)
}

// RewriteEntryScript points the script tag that loads entry at chunk. A page
// without such a tag gets one appended before </body>.
func RewriteEntryScript(html []byte, entry, chunk string) []byte {
	entry = strings.TrimPrefix(filepath.ToSlash(entry), "./")
	tag := []byte(`<script type="module" crossorigin src="` + chunk + `"></script>`)

	pattern := regexp.MustCompile(`(?is)<script[^>]*\ssrc="(?:\./|/)?` + regexp.QuoteMeta(entry) + `"[^>]*>\s*</script>`)
	if pattern.Match(html) {
		return pattern.ReplaceAllLiteral(html, tag)
	}

	body := regexp.MustCompile(`(?i)</body>`)
	if loc := body.FindIndex(html); loc != nil {
		out := append([]byte(nil), html[:loc[0]]...)
		out = append(out, tag...)
		out = append(out, '\n')
		return append(out, html[loc[0]:]...)
	}
	return append(append(append([]byte(nil), html...), '\n'), tag...)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func location(m api.Message) string {
	if m.Location == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", m.Location.File, m.Location.Line, m.Location.Column)
}
