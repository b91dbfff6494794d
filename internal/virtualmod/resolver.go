// Package virtualmod synthesizes the importable module that boots the
// compiled WebAssembly artifact. Importers ask for a fixed specifier and never
// need to know the artifact's real file name.
package virtualmod

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// DefaultSpecifier is the import path application code uses.
	DefaultSpecifier = "virtual:wasm-init"
	// DefaultArtifactDir is where the native compiler writes its output.
	DefaultArtifactDir = "pkg"

	markerPrefix = "\x00"
)

// ErrInvalidOptions reports unusable resolver options.
var ErrInvalidOptions = errors.New("virtualmod: invalid options")

var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// Options configures a Resolver.
type Options struct {
	// Specifier is the virtual import path. Defaults to DefaultSpecifier.
	Specifier string
	// PackageName is the compiled crate name, e.g. "app" for pkg/app.js.
	PackageName string
	// ArtifactDir is relative to Root. Defaults to DefaultArtifactDir.
	ArtifactDir string
	// Root is the absolute project root.
	Root string
}

// Resolver answers resolve and load requests for the virtual module.
type Resolver struct {
	specifier   string
	marker      string
	packageName string
	artifactDir string
	root        string
	source      string
}

// New validates opts and pre-renders the module source.
func New(opts Options) (*Resolver, error) {
	if opts.Specifier == "" {
		opts.Specifier = DefaultSpecifier
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = DefaultArtifactDir
	}

	if strings.HasPrefix(opts.Specifier, markerPrefix) {
		return nil, fmt.Errorf("%w: specifier must not start with NUL", ErrInvalidOptions)
	}
	if !packageNamePattern.MatchString(opts.PackageName) {
		return nil, fmt.Errorf("%w: package name %q", ErrInvalidOptions, opts.PackageName)
	}
	if !filepath.IsAbs(opts.Root) {
		return nil, fmt.Errorf("%w: root %q must be absolute", ErrInvalidOptions, opts.Root)
	}

	dir := path.Clean(filepath.ToSlash(opts.ArtifactDir))
	if dir == "." || path.IsAbs(dir) || dir == ".." || strings.HasPrefix(dir, "../") {
		return nil, fmt.Errorf("%w: artifact dir %q must be a relative path inside the root", ErrInvalidOptions, opts.ArtifactDir)
	}

	r := &Resolver{
		specifier:   opts.Specifier,
		marker:      markerPrefix + opts.Specifier,
		packageName: opts.PackageName,
		artifactDir: dir,
		root:        filepath.Clean(opts.Root),
	}

	source, err := renderSource(r.packageName, r.LoaderPath())
	if err != nil {
		return nil, err
	}
	r.source = source
	return r, nil
}

// Specifier returns the virtual import path.
func (r *Resolver) Specifier() string { return r.specifier }

// MarkerID returns the internal id the specifier resolves to. The leading NUL
// keeps it from colliding with any real file path.
func (r *Resolver) MarkerID() string { return r.marker }

// LoaderPath is the root-relative URL path of the compiler's JS loader.
func (r *Resolver) LoaderPath() string {
	return "/" + r.artifactDir + "/" + r.packageName + ".js"
}

// ArtifactPrefix is the URL prefix that only the virtual module may resolve.
func (r *Resolver) ArtifactPrefix() string {
	return "/" + r.artifactDir + "/"
}

// ResolveID maps the specifier to the marker id, and artifact paths imported
// from inside the virtual module to absolute paths under the root.
func (r *Resolver) ResolveID(id, importer string) (string, bool) {
	if id == r.specifier {
		return r.marker, true
	}
	if importer != r.marker || !strings.HasPrefix(id, r.ArtifactPrefix()) {
		return "", false
	}
	// Reject ids that climb out of the artifact dir once cleaned.
	cleaned := path.Clean(id)
	if !strings.HasPrefix(cleaned, r.ArtifactPrefix()) {
		return "", false
	}
	return filepath.Join(r.root, filepath.FromSlash(cleaned[1:])), true
}

// Load returns the generated source for the marker id.
func (r *Resolver) Load(id string) (string, bool) {
	if id != r.marker {
		return "", false
	}
	return r.source, true
}
