package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/envfile"
)

// Profile selects the compiler optimisation profile.
type Profile string

const (
	ProfileDev     Profile = "dev"
	ProfileRelease Profile = "release"
)

// profileFlags is the only place that knows which flag selects a profile.
var profileFlags = map[Profile]string{
	ProfileDev:     "--dev",
	ProfileRelease: "--release",
}

// ProfileFor maps the release switch to a profile.
func ProfileFor(release bool) Profile {
	if release {
		return ProfileRelease
	}
	return ProfileDev
}

// ProfileFlag returns the compiler flag for p.
func ProfileFlag(p Profile) (string, error) {
	flag, ok := profileFlags[p]
	if !ok {
		return "", fmt.Errorf("pipeline: unknown profile %q", p)
	}
	return flag, nil
}

// Bundler produces the bundle from the compiled artifact.
type Bundler interface {
	Bundle(ctx context.Context, env envfile.Merged) error
}

// CommandBundler runs an external bundler.
type CommandBundler struct {
	Runner  Runner
	Command Command
	// Environ supplies the child environment; defaults to os.Environ.
	Environ func() []string
}

// Bundle runs the bundler command with the current process environment,
// which already carries the applied configuration.
func (b *CommandBundler) Bundle(ctx context.Context, _ envfile.Merged) error {
	cmd := b.Command
	cmd.Env = environ(b.Environ)
	return b.Runner.Run(ctx, cmd)
}

// CleanStage removes dirs best-effort; removal failures are logged and never
// fail the stage.
func CleanStage(logger *zap.Logger, remove func(string) error, dirs ...string) Stage {
	if remove == nil {
		remove = os.RemoveAll
	}
	return Stage{
		Name:  "clean",
		State: Cleaning,
		Run: func(context.Context) error {
			for _, dir := range dirs {
				if _, err := os.Stat(dir); err != nil {
					continue
				}
				if err := remove(dir); err != nil {
					logger.Warn("failed to remove directory", zap.String("dir", dir), zap.Error(err))
					continue
				}
				logger.Info("removed directory", zap.String("dir", dir))
			}
			return nil
		},
	}
}

// CompileStage runs the native compiler with the profile flag appended.
func CompileStage(runner Runner, base Command, profile Profile, env func() []string) (Stage, error) {
	flag, err := ProfileFlag(profile)
	if err != nil {
		return Stage{}, err
	}
	cmd := base
	cmd.Args = append(append([]string(nil), base.Args...), flag)

	return Stage{
		Name:  "compile",
		State: Compiling,
		Run: func(ctx context.Context) error {
			c := cmd
			c.Env = environ(env)
			return runner.Run(ctx, c)
		},
	}, nil
}

// BundleStage runs the bundler, then the after hooks. The hooks only report
// and cannot fail the stage.
func BundleStage(bundler Bundler, merged envfile.Merged, after ...func()) Stage {
	return Stage{
		Name:  "bundle",
		State: Bundling,
		Run: func(ctx context.Context) error {
			if err := bundler.Bundle(ctx, merged); err != nil {
				return err
			}
			for _, fn := range after {
				fn()
			}
			return nil
		},
	}
}

// VerifyStage wraps a verification function.
func VerifyStage(verify func(ctx context.Context) error) Stage {
	return Stage{Name: "verify", State: Verifying, Run: verify}
}

func environ(fn func() []string) []string {
	if fn == nil {
		return os.Environ()
	}
	return fn()
}
