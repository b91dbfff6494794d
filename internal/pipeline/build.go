package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/envfile"
)

// EnvResolver produces the merged environment for a build.
type EnvResolver interface {
	Resolve(kind envfile.Kind) (envfile.Merged, error)
}

// BuildOptions describes one full build.
type BuildOptions struct {
	Environment envfile.Kind
	Profile     Profile

	Resolver EnvResolver
	Runner   Runner
	Bundler  Bundler
	// Compile is the compiler invocation without the profile flag.
	Compile Command

	// CleanDirs are removed before compiling.
	CleanDirs []string
	// ArtifactPath and DistDir feed the summary.
	ArtifactPath string
	DistDir      string

	// Verify runs last; nil skips the verify stage.
	Verify func(ctx context.Context) error
	// OnSummary receives the summary after a successful bundle.
	OnSummary func(Summary)
	// OnTransition observes state changes.
	OnTransition TransitionFunc
	// Environ supplies child environments; defaults to os.Environ.
	Environ func() []string
	// Remove deletes a directory; defaults to os.RemoveAll.
	Remove func(string) error

	Logger *zap.Logger
}

// Build resolves the environment once and runs clean, compile, bundle and
// verify in that order.
func Build(ctx context.Context, opts BuildOptions) error {
	if opts.Resolver == nil || opts.Runner == nil || opts.Bundler == nil {
		return errors.New("pipeline: resolver, runner and bundler are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("starting build",
		zap.String("environment", string(opts.Environment)),
		zap.String("profile", string(opts.Profile)),
	)

	merged, err := opts.Resolver.Resolve(opts.Environment)
	if err != nil {
		return fmt.Errorf("resolve environment: %w", err)
	}

	compile, err := CompileStage(opts.Runner, opts.Compile, opts.Profile, opts.Environ)
	if err != nil {
		return err
	}

	summarize := func() {
		s := Summarize(opts.ArtifactPath, opts.DistDir)
		logger.Info("build results",
			zap.Bool("artifact_found", s.ArtifactFound),
			zap.Int64("artifact_kb", KB(s.ArtifactBytes)),
			zap.Int("dist_files", s.DistFiles),
			zap.Int64("dist_kb", KB(s.DistBytes)),
		)
		if opts.OnSummary != nil {
			opts.OnSummary(s)
		}
	}

	stages := []Stage{
		CleanStage(logger, opts.Remove, opts.CleanDirs...),
		compile,
		BundleStage(opts.Bundler, merged, summarize),
	}
	if opts.Verify != nil {
		stages = append(stages, VerifyStage(opts.Verify))
	}

	orchestrator, err := New(logger, stages...)
	if err != nil {
		return err
	}
	if opts.OnTransition != nil {
		orchestrator.OnTransition(opts.OnTransition)
	}

	if err := orchestrator.Run(ctx); err != nil {
		return err
	}
	logger.Info("build finished successfully")
	return nil
}
