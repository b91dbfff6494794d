package envfile

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultDisplayKeys are the variables echoed after a resolve.
var DefaultDisplayKeys = []string{"VITE_BASE_URL", "VITE_ENV", "VITE_APP_TITLE"}

// Resolver loads, merges and applies the layers for one environment.
type Resolver struct {
	root        string
	override    bool
	env         Environment
	logger      *zap.Logger
	displayKeys []string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnvironment replaces the process environment (primarily for tests).
func WithEnvironment(env Environment) ResolverOption {
	return func(r *Resolver) {
		r.env = env
	}
}

// WithOverride controls whether file values replace existing process values.
func WithOverride(override bool) ResolverOption {
	return func(r *Resolver) {
		r.override = override
	}
}

// WithDisplayKeys sets the variables logged after a resolve.
func WithDisplayKeys(keys []string) ResolverOption {
	return func(r *Resolver) {
		r.displayKeys = keys
	}
}

// NewResolver creates a Resolver rooted at root. File values override
// process values unless WithOverride(false) is given.
func NewResolver(root string, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		root:        root,
		override:    true,
		env:         OSEnvironment{},
		logger:      logger,
		displayKeys: DefaultDisplayKeys,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Resolve merges the layers for kind and writes them into the environment.
func (r *Resolver) Resolve(kind Kind) (Merged, error) {
	if !kind.Valid() {
		r.logger.Warn("unknown environment, using development", zap.String("environment", string(kind)))
		kind = Development
	}

	layers, errs := LayersFor(r.root, kind)
	for _, err := range errs {
		r.logger.Warn("env file unreadable, treated as empty", zap.Error(err))
	}
	for _, layer := range layers {
		for _, line := range layer.Skipped {
			r.logger.Warn("skipping malformed env line",
				zap.String("file", layer.Path),
				zap.Int("line", line),
			)
		}
		r.logger.Debug("env layer loaded",
			zap.String("file", layer.Path),
			zap.Bool("present", layer.Present),
			zap.Int("variables", len(layer.Values)),
		)
	}

	merged := Merge(layers...)
	if _, err := Apply(r.env, merged, r.override); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	r.logger.Info("environment loaded",
		zap.String("environment", string(kind)),
		zap.Int("variables", len(merged)),
	)
	return merged, nil
}

// Display returns the display keys with their effective values, falling back
// to the process environment and then "undefined".
func (r *Resolver) Display(merged Merged) [][2]string {
	rows := make([][2]string, 0, len(r.displayKeys))
	for _, key := range r.displayKeys {
		value := merged[key]
		if value == "" {
			value, _ = r.env.Lookup(key)
		}
		if value == "" {
			value = "undefined"
		}
		rows = append(rows, [2]string{key, value})
	}
	return rows
}
