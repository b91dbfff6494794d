package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/bundle"
	"github.com/eugenenazirov/wasmbridge/internal/config"
	"github.com/eugenenazirov/wasmbridge/internal/envfile"
	"github.com/eugenenazirov/wasmbridge/internal/pipeline"
	"github.com/eugenenazirov/wasmbridge/internal/ui"
	"github.com/eugenenazirov/wasmbridge/internal/verify"
	"github.com/eugenenazirov/wasmbridge/internal/virtualmod"
)

// ErrVerificationFailed is returned when the bundle checklist has failures.
var ErrVerificationFailed = errors.New("build verification failed")

// App wires configuration into the build pipeline and the servers.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	printer  *ui.Printer
	runner   pipeline.Runner
	env      envfile.Environment
	environ  func() []string
	resolver *virtualmod.Resolver
}

// Option configures App behaviour.
type Option func(*App)

// WithRunner replaces the subprocess runner (primarily for tests).
func WithRunner(runner pipeline.Runner) Option {
	return func(a *App) {
		a.runner = runner
	}
}

// WithOutput sends console reports to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		a.printer = ui.New(w)
	}
}

// WithEnvironment replaces the process environment the resolver writes to.
func WithEnvironment(env envfile.Environment) Option {
	return func(a *App) {
		a.env = env
	}
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver, err := virtualmod.New(virtualmod.Options{
		Specifier:   cfg.VirtualModule,
		PackageName: cfg.PackageName,
		ArtifactDir: cfg.ArtifactDir,
		Root:        cfg.Root,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure virtual module: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		printer:  ui.New(os.Stdout),
		runner:   pipeline.NewExecRunner(logger),
		env:      envfile.OSEnvironment{},
		environ:  os.Environ,
		resolver: resolver,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// displayResolver prints the environment summary after every resolve.
type displayResolver struct {
	inner   *envfile.Resolver
	printer *ui.Printer
}

func (d displayResolver) Resolve(kind envfile.Kind) (envfile.Merged, error) {
	merged, err := d.inner.Resolve(kind)
	if err != nil {
		return nil, err
	}
	d.printer.Environment(string(kind), d.inner.Display(merged), len(merged))
	return merged, nil
}

func (a *App) envResolver() displayResolver {
	inner := envfile.NewResolver(a.cfg.Root, a.logger,
		envfile.WithEnvironment(a.env),
		envfile.WithOverride(a.cfg.EnvOverride),
		envfile.WithDisplayKeys(a.cfg.EnvDisplayKeys),
	)
	return displayResolver{inner: inner, printer: a.printer}
}

func (a *App) compileCommand() pipeline.Command {
	return pipeline.Command{
		Name: a.cfg.Compile.Command,
		Args: a.cfg.Compile.Args,
		Dir:  a.cfg.Root,
	}
}

func (a *App) bundler(kind envfile.Kind, profile pipeline.Profile) pipeline.Bundler {
	if a.cfg.Bundle.Engine == config.EngineESBuild {
		return &bundle.ESBuild{
			Root:        a.cfg.Root,
			Entry:       a.cfg.Bundle.Entry,
			IndexHTML:   a.cfg.Bundle.IndexHTML,
			OutDir:      a.cfg.DistPath(),
			ArtifactDir: a.cfg.ArtifactPath(),
			Mode:        string(kind),
			Minify:      a.cfg.Bundle.Minify || profile == pipeline.ProfileRelease,
			Resolver:    a.resolver,
			Logger:      a.logger,
		}
	}
	return &pipeline.CommandBundler{
		Runner: a.runner,
		Command: pipeline.Command{
			Name: a.cfg.Bundle.Command,
			Args: a.cfg.Bundle.Args,
			Dir:  a.cfg.Root,
		},
		Environ: a.environ,
	}
}

// Build runs clean, compile, bundle and verify for kind.
func (a *App) Build(ctx context.Context, kind envfile.Kind, profile pipeline.Profile) error {
	return pipeline.Build(ctx, pipeline.BuildOptions{
		Environment:  kind,
		Profile:      profile,
		Resolver:     a.envResolver(),
		Runner:       a.runner,
		Bundler:      a.bundler(kind, profile),
		Compile:      a.compileCommand(),
		CleanDirs:    []string{a.cfg.ArtifactPath(), a.cfg.DistPath()},
		ArtifactPath: a.cfg.WasmPath(),
		DistDir:      a.cfg.DistPath(),
		Verify: func(context.Context) error {
			_, err := a.Verify()
			return err
		},
		OnSummary: a.printer.Summary,
		Environ:   a.environ,
		Logger:    a.logger,
	})
}

// Compile resolves the environment and runs only the compiler.
func (a *App) Compile(ctx context.Context, kind envfile.Kind, profile pipeline.Profile) error {
	if _, err := a.envResolver().Resolve(kind); err != nil {
		return fmt.Errorf("resolve environment: %w", err)
	}
	if err := a.compile(ctx, profile); err != nil {
		return err
	}

	info, err := os.Stat(a.cfg.WasmPath())
	if err != nil {
		a.printer.Artifact(a.cfg.WasmPath(), 0, false)
		return nil
	}
	a.printer.Artifact(a.cfg.WasmPath(), info.Size(), true)
	return nil
}

func (a *App) compile(ctx context.Context, profile pipeline.Profile) error {
	stage, err := pipeline.CompileStage(a.runner, a.compileCommand(), profile, a.environ)
	if err != nil {
		return err
	}
	orchestrator, err := pipeline.New(a.logger, stage)
	if err != nil {
		return err
	}
	return orchestrator.Run(ctx)
}

// Verify runs the checklist against the dist directory and prints it.
func (a *App) Verify() (verify.Report, error) {
	report := verify.Run(verify.Options{
		DistDir:        a.cfg.DistPath(),
		RequiredFiles:  a.cfg.Verify.RequiredFiles,
		AppContainerID: a.cfg.Verify.AppContainerID,
	})
	a.printer.Listing(report)
	a.printer.Checklist(report)

	if !report.Passed() {
		return report, fmt.Errorf("%w: %d checks failed", ErrVerificationFailed, len(report.Failed()))
	}
	return report, nil
}

// Env resolves and prints the environment for kind.
func (a *App) Env(kind envfile.Kind) (envfile.Merged, error) {
	return a.envResolver().Resolve(kind)
}
