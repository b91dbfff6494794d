package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/application"
	"github.com/eugenenazirov/wasmbridge/internal/config"
	"github.com/eugenenazirov/wasmbridge/internal/envfile"
	"github.com/eugenenazirov/wasmbridge/internal/logging"
	"github.com/eugenenazirov/wasmbridge/internal/pipeline"
	"github.com/eugenenazirov/wasmbridge/internal/ui"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

var signalNotify = signal.Notify

type cli struct {
	app *kingpin.Application

	configFile *string
	root       *string
	pkg        *string
	logLevel   *string
	logFormat  *string
	rps        *float64
	burst      *int

	build        *kingpin.CmdClause
	buildRelease *bool
	buildEngine  *string

	compile        *kingpin.CmdClause
	compileRelease *bool

	verify *kingpin.CmdClause
	env    *kingpin.CmdClause

	serve     *kingpin.CmdClause
	servePort *int
	serveHost *string

	preview     *kingpin.CmdClause
	previewPort *int
}

func newCLI() *cli {
	app := kingpin.New("wasmbridge", "Builds a Rust/WebAssembly front-end: environment layering, compile, bundle and verify, plus a dev server with full-reload on artifact changes.")
	c := &cli{app: app}

	c.configFile = app.Flag("config", "Path to YAML configuration file (default: <root>/wasmbridge.yaml)").String()
	c.root = app.Flag("root", "Project root directory").String()
	c.pkg = app.Flag("package", "Crate package name used for artifact file names").String()
	c.logLevel = app.Flag("log-level", "Log level (debug, info, warn, error)").Default("info").String()
	c.logFormat = app.Flag("log-format", "Log format (console, json)").Default("console").Enum("console", "json")
	c.rps = app.Flag("rate-limit-rps", "Requests per second allowed by the servers (set 0 to disable)").Default("-1").Float64()
	c.burst = app.Flag("rate-limit-burst", "Burst capacity for the servers' rate limiter").Default("-1").Int()

	// Environment selection reads raw argv so the first of these wins; they
	// are declared only so the parser accepts them.
	app.Flag("env", "Target environment").Enum(string(envfile.Development), string(envfile.Production), string(envfile.GitHubPages))
	app.Flag("dev", "Shorthand for --env=development").Bool()
	app.Flag("prod", "Shorthand for --env=production").Bool()
	app.Flag("github", "Shorthand for --env=github-pages").Bool()

	c.build = app.Command("build", "Clean, compile, bundle and verify").Default()
	c.buildRelease = c.build.Flag("release", "Compile with the release profile").Short('r').Bool()
	c.buildEngine = c.build.Flag("engine", "Bundler engine (command, esbuild)").Enum(config.EngineCommand, config.EngineESBuild)

	c.compile = app.Command("compile", "Compile the WebAssembly artifact only")
	c.compileRelease = c.compile.Flag("release", "Compile with the release profile").Short('r').Bool()

	c.verify = app.Command("verify", "Check the bundle in the dist directory")
	c.env = app.Command("env", "Show the resolved environment")

	c.serve = app.Command("serve", "Run the development server")
	c.servePort = c.serve.Flag("port", "Dev server port").Int()
	c.serveHost = c.serve.Flag("host", "Dev server host").String()

	c.preview = app.Command("preview", "Serve the built dist directory")
	c.previewPort = c.preview.Flag("port", "Preview server port").Int()

	return c
}

func (c *cli) overrides() *config.CLIOverrides {
	o := &config.CLIOverrides{
		ConfigFile:   *c.configFile,
		Root:         c.root,
		PackageName:  c.pkg,
		BundleEngine: c.buildEngine,
		Host:         c.serveHost,
		Port:         c.servePort,
		PreviewPort:  c.previewPort,
	}
	if *c.rps >= 0 {
		o.RateLimitRPS = c.rps
	}
	if *c.burst >= 0 {
		o.RateLimitBurst = c.burst
	}
	return o
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	c := newCLI()
	c.app.Writer(stdout).ErrorWriter(os.Stderr)
	command, err := c.app.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wasmbridge: %v\n", err)
		return ExitFailure
	}

	logger, err := logging.New(*c.logLevel, *c.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return ExitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	printer := ui.New(stdout)

	cfg, err := config.Load(c.overrides())
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		printer.Failure(err)
		return ExitFailure
	}

	app, err := application.New(cfg, logger, application.WithOutput(stdout))
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		printer.Failure(err)
		return ExitFailure
	}

	kind := envfile.DetectEnvironment(args, nil)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case c.build.FullCommand():
		err = app.Build(ctx, kind, pipeline.ProfileFor(*c.buildRelease))
	case c.compile.FullCommand():
		err = app.Compile(ctx, kind, pipeline.ProfileFor(*c.compileRelease))
	case c.verify.FullCommand():
		_, err = app.Verify()
	case c.env.FullCommand():
		_, err = app.Env(kind)
	case c.serve.FullCommand():
		stop()
		err = serveUntilSignal(func() (*application.Server, error) { return app.DevServer(kind) }, cfg.Server.ShutdownGracePeriod, logger)
	case c.preview.FullCommand():
		stop()
		err = serveUntilSignal(func() (*application.Server, error) { return app.PreviewServer(), nil }, cfg.Server.ShutdownGracePeriod, logger)
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		printer.Failure(err)
		return ExitFailure
	}
	return ExitSuccess
}

func serveUntilSignal(build func() (*application.Server, error), grace time.Duration, logger *zap.Logger) error {
	srv, err := build()
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	shutdown(srv.Server(), grace, logger)
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
