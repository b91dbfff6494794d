package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WASMBRIDGE_PORT", "")
	t.Setenv("WASMBRIDGE_PACKAGE_NAME", "")
	root := t.TempDir()

	cfg, err := Load(&CLIOverrides{Root: &root})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort || cfg.Server.PreviewPort != defaultPreviewPort {
		t.Fatalf("unexpected ports %d/%d", cfg.Server.Port, cfg.Server.PreviewPort)
	}
	if cfg.Server.Addr() != "localhost:3000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr())
	}
	if cfg.Server.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.Server.ShutdownGracePeriod)
	}
	if cfg.Bundle.Engine != EngineCommand || !cfg.EnvOverride {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LoaderPath() != filepath.Join(root, "pkg", "leptos_vite_template.js") {
		t.Fatalf("unexpected loader path %s", cfg.LoaderPath())
	}
	if cfg.WasmPath() != filepath.Join(root, "pkg", "leptos_vite_template_bg.wasm") {
		t.Fatalf("unexpected wasm path %s", cfg.WasmPath())
	}
	if cfg.DistPath() != filepath.Join(root, "dist") {
		t.Fatalf("unexpected dist path %s", cfg.DistPath())
	}
}

func TestLoadPrecedence(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
package_name: yaml_pkg
server:
  port: 4000
  preview_port: 5000
  reload_debounce: 250ms
  rate_limit:
    rps: 0
`)
	t.Setenv("WASMBRIDGE_PORT", "9000")
	t.Setenv("WASMBRIDGE_PREVIEW_PORT", "9001")
	t.Setenv("WASMBRIDGE_DIST_DIR", "public")
	t.Setenv("WASMBRIDGE_PACKAGE_NAME", "env_pkg")

	cfg, err := Load(&CLIOverrides{Root: &root, Port: ptr(7000)})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 7000 {
		t.Fatalf("CLI must win, got %d", cfg.Server.Port)
	}
	if cfg.Server.PreviewPort != 5000 {
		t.Fatalf("YAML must beat env, got %d", cfg.Server.PreviewPort)
	}
	if cfg.PackageName != "yaml_pkg" {
		t.Fatalf("YAML must beat env, got %s", cfg.PackageName)
	}
	if cfg.DistDir != "public" {
		t.Fatalf("env must beat defaults, got %s", cfg.DistDir)
	}
	if cfg.Server.ReloadDebounce != 250*time.Millisecond {
		t.Fatalf("unexpected debounce %s", cfg.Server.ReloadDebounce)
	}
	if cfg.Server.RateLimitRPS != 0 {
		t.Fatalf("explicit zero rps must disable limiting, got %v", cfg.Server.RateLimitRPS)
	}
}

func TestLoadRejectsUnknownYAMLKeys(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, "package_name: app\nsevrer:\n  port: 1\n")

	_, err := Load(&CLIOverrides{Root: &root, ConfigFile: path})
	if err == nil || !strings.Contains(err.Error(), "sevrer") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	root := t.TempDir()
	if _, err := Load(&CLIOverrides{Root: &root, ConfigFile: filepath.Join(root, "nope.yaml")}); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad engine", "bundle:\n  engine: webpack\n"},
		{"blank required file", "verify:\n  required_files: [\"\"]\n"},
		{"bad duration", "server:\n  idle_timeout: soon\n"},
		{"port range", "server:\n  port: 70000\n"},
		{"absolute dist", "dist_dir: /var/www\n"},
		{"dist is the root", "dist_dir: .\n"},
		{"dist cleans to the root", "dist_dir: build/..\n"},
		{"artifact is the parent", "artifact_dir: ..\n"},
		{"artifact climbs out", "artifact_dir: ../sibling/pkg\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, tc.yaml)
			if _, err := Load(&CLIOverrides{Root: &root}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv("WASMBRIDGE_PORT", "eighty")

	if _, err := Load(&CLIOverrides{Root: &root}); err == nil {
		t.Fatalf("expected error for invalid WASMBRIDGE_PORT")
	}
}

func TestLoadAcceptsNestedOutputDirs(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "artifact_dir: target/pkg\ndist_dir: ./web/dist\n")

	cfg, err := Load(&CLIOverrides{Root: &root})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DistPath() != filepath.Join(root, "web", "dist") {
		t.Fatalf("unexpected dist path %s", cfg.DistPath())
	}
}
