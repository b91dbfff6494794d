package envfile

import (
	"os"
	"path/filepath"
)

// Kind identifies the build environment.
type Kind string

const (
	Development Kind = "development"
	Production  Kind = "production"
	GitHubPages Kind = "github-pages"
)

// FallbackFile is evaluated before every environment-specific file.
const FallbackFile = ".env"

const (
	productionMarker = "NODE_ENV"
	ciMarker         = "GITHUB_ACTIONS"
)

var kindFiles = map[Kind]string{
	Development: ".env.development",
	Production:  ".env.production",
	GitHubPages: ".env.github",
}

const envFlag = "--env"

var kindFlags = map[string]Kind{
	"--env=development":  Development,
	"--dev":              Development,
	"--env=production":   Production,
	"--prod":             Production,
	"--env=github-pages": GitHubPages,
	"--github":           GitHubPages,
}

// ParseKind maps a name to a Kind.
func ParseKind(name string) (Kind, bool) {
	kind := Kind(name)
	_, ok := kindFiles[kind]
	return kind, ok
}

// Valid reports whether k is a known environment.
func (k Kind) Valid() bool {
	_, ok := kindFiles[k]
	return ok
}

// FileName returns the environment-specific file name. Unknown kinds map to
// the development file.
func (k Kind) FileName() string {
	if name, ok := kindFiles[k]; ok {
		return name
	}
	return kindFiles[Development]
}

// LookupFunc reads a process variable.
type LookupFunc func(key string) (string, bool)

// DetectEnvironment picks the environment from argv first (first recognised
// flag wins), then from process variables, defaulting to development.
func DetectEnvironment(argv []string, lookup LookupFunc) Kind {
	for i, arg := range argv {
		if kind, ok := kindFlags[arg]; ok {
			return kind
		}
		// "--env production" is the same flag as "--env=production".
		if arg == envFlag && i+1 < len(argv) {
			if kind, ok := ParseKind(argv[i+1]); ok {
				return kind
			}
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, _ := lookup(productionMarker); v == "production" {
		return Production
	}
	if v, _ := lookup(ciMarker); v == "true" {
		return GitHubPages
	}
	return Development
}

// LayerPaths returns the files consulted for kind, fallback first.
func LayerPaths(root string, kind Kind) []string {
	return []string{
		filepath.Join(root, FallbackFile),
		filepath.Join(root, kind.FileName()),
	}
}

// LayersFor parses the layers for kind in evaluation order. Read errors
// degrade to empty layers and are returned alongside for reporting.
func LayersFor(root string, kind Kind) ([]Layer, []error) {
	var (
		layers []Layer
		errs   []error
	)
	for _, path := range LayerPaths(root, kind) {
		layer, err := ParseLayer(path)
		if err != nil {
			errs = append(errs, err)
		}
		layers = append(layers, layer)
	}
	return layers, errs
}

// Environment is the process variable table.
type Environment interface {
	Lookup(key string) (string, bool)
	Set(key, value string) error
}

// OSEnvironment is the real process environment.
type OSEnvironment struct{}

func (OSEnvironment) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

func (OSEnvironment) Set(key, value string) error { return os.Setenv(key, value) }

// MapEnvironment is an in-memory Environment.
type MapEnvironment map[string]string

func (m MapEnvironment) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MapEnvironment) Set(key, value string) error {
	m[key] = value
	return nil
}

// Apply writes merged into env and returns the keys written. Without
// override, keys that already hold a non-empty value are left alone.
func Apply(env Environment, merged Merged, override bool) ([]string, error) {
	var written []string
	for _, key := range merged.Keys() {
		if !override {
			if current, ok := env.Lookup(key); ok && current != "" {
				continue
			}
		}
		if err := env.Set(key, merged[key]); err != nil {
			return written, err
		}
		written = append(written, key)
	}
	return written, nil
}
