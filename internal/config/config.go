package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is looked up in the project root when no --config is given.
	DefaultFileName = "wasmbridge.yaml"

	// EngineCommand runs an external bundler; EngineESBuild bundles in process.
	EngineCommand = "command"
	EngineESBuild = "esbuild"

	defaultPackageName    = "leptos_vite_template"
	defaultArtifactDir    = "pkg"
	defaultDistDir        = "dist"
	defaultVirtualModule  = "virtual:wasm-init"
	defaultHost           = "localhost"
	defaultPort           = 3000
	defaultPreviewPort    = 4173
	defaultRateLimitRPS   = 50.0
	defaultRateLimitBurst = 100
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Root           string   `validate:"required"`
	PackageName    string   `validate:"required"`
	ArtifactDir    string   `validate:"required"`
	DistDir        string   `validate:"required"`
	VirtualModule  string   `validate:"required"`
	EnvOverride    bool
	EnvDisplayKeys []string `validate:"dive,required"`

	Compile CompileConfig
	Bundle  BundleConfig
	Verify  VerifyConfig
	Server  ServerConfig
}

// CompileConfig is the native compiler invocation; the profile flag is
// appended at build time.
type CompileConfig struct {
	Command string `validate:"required"`
	Args    []string
}

// BundleConfig selects and configures the bundler engine.
type BundleConfig struct {
	Engine    string `validate:"oneof=command esbuild"`
	Command   string `validate:"required_if=Engine command"`
	Args      []string
	Entry     string `validate:"required_if=Engine esbuild"`
	IndexHTML string
	Minify    bool
}

// VerifyConfig drives the post-build checklist.
type VerifyConfig struct {
	RequiredFiles  []string `validate:"min=1,dive,required"`
	AppContainerID string   `validate:"required"`
}

// ServerConfig covers the dev and preview servers.
type ServerConfig struct {
	Host                 string        `validate:"required"`
	Port                 int           `validate:"min=1,max=65535"`
	PreviewPort          int           `validate:"min=1,max=65535"`
	RateLimitRPS         float64       `validate:"gte=0"`
	RateLimitBurst       int           `validate:"gte=0"`
	EnableRequestLogging bool
	ShutdownGracePeriod  time.Duration `validate:"gt=0"`
	ReadHeaderTimeout    time.Duration `validate:"gt=0"`
	WriteTimeout         time.Duration `validate:"gte=0"`
	IdleTimeout          time.Duration `validate:"gte=0"`
	ReloadDebounce       time.Duration `validate:"gt=0"`
}

// Addr is the dev server listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// PreviewAddr is the preview server listen address.
func (s ServerConfig) PreviewAddr() string {
	return s.Host + ":" + strconv.Itoa(s.PreviewPort)
}

// ArtifactPath is the absolute artifact output directory.
func (c Config) ArtifactPath() string {
	return filepath.Join(c.Root, c.ArtifactDir)
}

// DistPath is the absolute bundler output directory.
func (c Config) DistPath() string {
	return filepath.Join(c.Root, c.DistDir)
}

// LoaderPath is the generated JavaScript loader.
func (c Config) LoaderPath() string {
	return filepath.Join(c.ArtifactPath(), c.PackageName+".js")
}

// WasmPath is the compiled WebAssembly binary.
func (c Config) WasmPath() string {
	return filepath.Join(c.ArtifactPath(), c.PackageName+"_bg.wasm")
}

// yamlConfig represents the YAML configuration file structure. Pointers
// distinguish absent keys from zero values.
type yamlConfig struct {
	PackageName    string   `yaml:"package_name"`
	ArtifactDir    string   `yaml:"artifact_dir"`
	DistDir        string   `yaml:"dist_dir"`
	VirtualModule  string   `yaml:"virtual_module"`
	EnvOverride    *bool    `yaml:"env_override"`
	EnvDisplayKeys []string `yaml:"env_display_keys"`
	Compile        struct {
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
	} `yaml:"compile"`
	Bundle struct {
		Engine    string   `yaml:"engine"`
		Command   string   `yaml:"command"`
		Args      []string `yaml:"args"`
		Entry     string   `yaml:"entry"`
		IndexHTML string   `yaml:"index_html"`
		Minify    *bool    `yaml:"minify"`
	} `yaml:"bundle"`
	Verify struct {
		RequiredFiles  []string `yaml:"required_files"`
		AppContainerID string   `yaml:"app_container_id"`
	} `yaml:"verify"`
	Server struct {
		Host                 string        `yaml:"host"`
		Port                 int           `yaml:"port"`
		PreviewPort          int           `yaml:"preview_port"`
		EnableRequestLogging *bool         `yaml:"enable_request_logging"`
		ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
		ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
		WriteTimeout         string        `yaml:"write_timeout"`
		IdleTimeout          string        `yaml:"idle_timeout"`
		ReloadDebounce       string        `yaml:"reload_debounce"`
		RateLimit            yamlRateLimit `yaml:"rate_limit"`
	} `yaml:"server"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Root           *string
	PackageName    *string
	BundleEngine   *string
	Host           *string
	Port           *int
	PreviewPort    *int
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	cfg := defaultConfig()

	root, err := resolveRoot(overrides)
	if err != nil {
		return Config{}, err
	}
	cfg.Root = root

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	path, explicit := overrides.ConfigFile, overrides.ConfigFile != ""
	if !explicit {
		path = filepath.Join(cfg.Root, DefaultFileName)
	}
	yamlCfg, err := loadFromFile(path)
	switch {
	case err == nil:
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	case !explicit && errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("load YAML config: %w", err)
	}

	applyCLIOverrides(&cfg, overrides)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		PackageName:    defaultPackageName,
		ArtifactDir:    defaultArtifactDir,
		DistDir:        defaultDistDir,
		VirtualModule:  defaultVirtualModule,
		EnvOverride:    true,
		EnvDisplayKeys: []string{"VITE_BASE_URL", "VITE_ENV", "VITE_APP_TITLE"},
		Compile: CompileConfig{
			Command: "wasm-pack",
			Args:    []string{"build", "--target", "web", "--no-typescript"},
		},
		Bundle: BundleConfig{
			Engine:    EngineCommand,
			Command:   "pnpm",
			Args:      []string{"vite", "build"},
			Entry:     "main.ts",
			IndexHTML: "index.html",
		},
		Verify: VerifyConfig{
			RequiredFiles:  []string{"index.html"},
			AppContainerID: "leptos-app",
		},
		Server: ServerConfig{
			Host:                 defaultHost,
			Port:                 defaultPort,
			PreviewPort:          defaultPreviewPort,
			RateLimitRPS:         defaultRateLimitRPS,
			RateLimitBurst:       defaultRateLimitBurst,
			EnableRequestLogging: true,
			ShutdownGracePeriod:  10 * time.Second,
			ReadHeaderTimeout:    5 * time.Second,
			WriteTimeout:         0,
			IdleTimeout:          60 * time.Second,
			ReloadDebounce:       100 * time.Millisecond,
		},
	}
}

func resolveRoot(overrides *CLIOverrides) (string, error) {
	root := strings.TrimSpace(os.Getenv("WASMBRIDGE_ROOT"))
	if overrides.Root != nil && *overrides.Root != "" {
		root = *overrides.Root
	}
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return abs, nil
}

// loadFromFile loads configuration from a YAML file. Unknown keys are
// rejected.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&yamlCfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, y *yamlConfig) error {
	setString(&cfg.PackageName, y.PackageName)
	setString(&cfg.ArtifactDir, y.ArtifactDir)
	setString(&cfg.DistDir, y.DistDir)
	setString(&cfg.VirtualModule, y.VirtualModule)
	if y.EnvOverride != nil {
		cfg.EnvOverride = *y.EnvOverride
	}
	if len(y.EnvDisplayKeys) > 0 {
		cfg.EnvDisplayKeys = y.EnvDisplayKeys
	}

	setString(&cfg.Compile.Command, y.Compile.Command)
	if y.Compile.Args != nil {
		cfg.Compile.Args = y.Compile.Args
	}

	setString(&cfg.Bundle.Engine, y.Bundle.Engine)
	setString(&cfg.Bundle.Command, y.Bundle.Command)
	if y.Bundle.Args != nil {
		cfg.Bundle.Args = y.Bundle.Args
	}
	setString(&cfg.Bundle.Entry, y.Bundle.Entry)
	setString(&cfg.Bundle.IndexHTML, y.Bundle.IndexHTML)
	if y.Bundle.Minify != nil {
		cfg.Bundle.Minify = *y.Bundle.Minify
	}

	if len(y.Verify.RequiredFiles) > 0 {
		cfg.Verify.RequiredFiles = y.Verify.RequiredFiles
	}
	setString(&cfg.Verify.AppContainerID, y.Verify.AppContainerID)

	s := &cfg.Server
	setString(&s.Host, y.Server.Host)
	if y.Server.Port != 0 {
		s.Port = y.Server.Port
	}
	if y.Server.PreviewPort != 0 {
		s.PreviewPort = y.Server.PreviewPort
	}
	if y.Server.EnableRequestLogging != nil {
		s.EnableRequestLogging = *y.Server.EnableRequestLogging
	}
	if y.Server.RateLimit.RPS != nil {
		s.RateLimitRPS = *y.Server.RateLimit.RPS
	}
	if y.Server.RateLimit.Burst != nil {
		s.RateLimitBurst = *y.Server.RateLimit.Burst
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.shutdown_grace_period", y.Server.ShutdownGracePeriod, &s.ShutdownGracePeriod},
		{"server.read_header_timeout", y.Server.ReadHeaderTimeout, &s.ReadHeaderTimeout},
		{"server.write_timeout", y.Server.WriteTimeout, &s.WriteTimeout},
		{"server.idle_timeout", y.Server.IdleTimeout, &s.IdleTimeout},
		{"server.reload_debounce", y.Server.ReloadDebounce, &s.ReloadDebounce},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		value, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = value
	}
	return nil
}

// applyEnvConfig applies WASMBRIDGE_* environment variables.
func applyEnvConfig(cfg *Config) error {
	strs := map[string]*string{
		"WASMBRIDGE_PACKAGE_NAME":  &cfg.PackageName,
		"WASMBRIDGE_ARTIFACT_DIR":  &cfg.ArtifactDir,
		"WASMBRIDGE_DIST_DIR":      &cfg.DistDir,
		"WASMBRIDGE_BUNDLE_ENGINE": &cfg.Bundle.Engine,
		"WASMBRIDGE_HOST":          &cfg.Server.Host,
	}
	for key, dst := range strs {
		setString(dst, strings.TrimSpace(os.Getenv(key)))
	}

	ints := map[string]*int{
		"WASMBRIDGE_PORT":             &cfg.Server.Port,
		"WASMBRIDGE_PREVIEW_PORT":     &cfg.Server.PreviewPort,
		"WASMBRIDGE_RATE_LIMIT_BURST": &cfg.Server.RateLimitBurst,
	}
	for key, dst := range ints {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, raw)
		}
		*dst = value
	}

	if raw := strings.TrimSpace(os.Getenv("WASMBRIDGE_RATE_LIMIT_RPS")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("WASMBRIDGE_RATE_LIMIT_RPS: invalid number %q", raw)
		}
		cfg.Server.RateLimitRPS = value
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, o *CLIOverrides) {
	if o.PackageName != nil {
		setString(&cfg.PackageName, *o.PackageName)
	}
	if o.BundleEngine != nil {
		setString(&cfg.Bundle.Engine, *o.BundleEngine)
	}
	if o.Host != nil {
		setString(&cfg.Server.Host, *o.Host)
	}
	if o.Port != nil && *o.Port != 0 {
		cfg.Server.Port = *o.Port
	}
	if o.PreviewPort != nil && *o.PreviewPort != 0 {
		cfg.Server.PreviewPort = *o.PreviewPort
	}
	if o.RateLimitRPS != nil && *o.RateLimitRPS >= 0 {
		cfg.Server.RateLimitRPS = *o.RateLimitRPS
	}
	if o.RateLimitBurst != nil && *o.RateLimitBurst >= 0 {
		cfg.Server.RateLimitBurst = *o.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	for _, dir := range []struct{ key, value string }{
		{"artifact_dir", cfg.ArtifactDir},
		{"dist_dir", cfg.DistDir},
	} {
		if !insideRoot(dir.value) {
			return fmt.Errorf("validation failed: %s %q must be a subdirectory of the project root", dir.key, dir.value)
		}
	}
	return nil
}

// insideRoot reports whether dir names a proper subdirectory of the root.
// Both dirs are removed by the clean stage, so the root itself and anything
// above it are refused.
func insideRoot(dir string) bool {
	if filepath.IsAbs(dir) {
		return false
	}
	clean := path.Clean(filepath.ToSlash(dir))
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../") && !path.IsAbs(clean)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
