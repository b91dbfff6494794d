package virtualmod

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
)

// stubLoader counts init calls and fails when __failure is set.
const stubLoader = `export default function init() {
  globalThis.__loads = (globalThis.__loads || 0) + 1;
  if (globalThis.__failure) {
    return Promise.reject(new Error(globalThis.__failure));
  }
  return Promise.resolve();
}
`

const concurrentImporter = `import { initWasm } from "virtual:wasm-init";
globalThis.__outcomes = [];
const pending = [];
for (let i = 0; i < 5; i++) {
  pending.push(initWasm());
}
pending.forEach((p, i) => {
  p.then(
    () => { globalThis.__outcomes[i] = "ok"; },
    (err) => { globalThis.__outcomes[i] = err; },
  );
});
`

// bundleInitializer builds the virtual module, its loader and an importer
// into one script the runtime can evaluate.
func bundleInitializer(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "pkg", "app.js"), []byte(stubLoader), 0o644); err != nil {
		t.Fatalf("write loader: %v", err)
	}

	resolver, err := New(Options{PackageName: "app", Root: root})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   concurrentImporter,
			ResolveDir: root,
			Sourcefile: "importer.js",
		},
		Bundle:   true,
		Write:    false,
		Format:   api.FormatIIFE,
		Platform: api.PlatformNeutral,
		Target:   api.ES2015,
		LogLevel: api.LogLevelSilent,
		Plugins:  []api.Plugin{resolver.Plugin()},
	})
	if len(result.Errors) > 0 {
		t.Fatalf("bundle failed: %v", result.Errors)
	}
	if len(result.OutputFiles) != 1 {
		t.Fatalf("expected one output file, got %d", len(result.OutputFiles))
	}
	return string(result.OutputFiles[0].Contents)
}

func newRuntime(t *testing.T) (*goja.Runtime, *[]string) {
	t.Helper()

	vm := goja.New()
	var logged []string
	record := func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			logged = append(logged, arg.String())
		}
		return goja.Undefined()
	}
	if err := vm.Set("console", map[string]any{"log": record, "error": record}); err != nil {
		t.Fatalf("set console: %v", err)
	}
	return vm, &logged
}

func evalBool(t *testing.T, vm *goja.Runtime, expr string) bool {
	t.Helper()
	v, err := vm.RunString(expr)
	if err != nil {
		t.Fatalf("eval %q: %v", expr, err)
	}
	return v.ToBoolean()
}

func TestInitializerLoadsOnceForConcurrentCallers(t *testing.T) {
	t.Parallel()

	script := bundleInitializer(t)
	vm, logged := newRuntime(t)

	// goja drains the promise job queue before RunString returns.
	if _, err := vm.RunString(script); err != nil {
		t.Fatalf("run bundle: %v", err)
	}

	if loads := vm.Get("__loads").ToInteger(); loads != 1 {
		t.Fatalf("expected exactly one loader call, got %d", loads)
	}
	if !evalBool(t, vm, `__outcomes.length === 5 && __outcomes.every((o) => o === "ok")`) {
		t.Fatalf("expected every caller to resolve, got %v", vm.Get("__outcomes").Export())
	}

	var sawSuccess bool
	for _, line := range *logged {
		if line == "app WASM loaded successfully" {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Fatalf("expected success log, got %v", *logged)
	}
}

func TestInitializerSharesRejection(t *testing.T) {
	t.Parallel()

	script := bundleInitializer(t)
	vm, logged := newRuntime(t)
	if _, err := vm.RunString(`globalThis.__failure = "artifact missing";`); err != nil {
		t.Fatalf("seed failure: %v", err)
	}

	if _, err := vm.RunString(script); err != nil {
		t.Fatalf("run bundle: %v", err)
	}

	if loads := vm.Get("__loads").ToInteger(); loads != 1 {
		t.Fatalf("expected exactly one loader call, got %d", loads)
	}
	if !evalBool(t, vm, `__outcomes.length === 5 && __outcomes.every((o) => o === __outcomes[0])`) {
		t.Fatalf("expected every caller to see the same rejection")
	}
	if !evalBool(t, vm, `__outcomes[0] instanceof Error && __outcomes[0].message === "artifact missing"`) {
		t.Fatalf("expected the loader's error, got %v", vm.Get("__outcomes").Export())
	}

	var reported bool
	for _, line := range *logged {
		if line == "Failed to load WASM:" {
			reported = true
		}
	}
	if !reported {
		t.Fatalf("expected the failure to be reported on console.error, got %v", *logged)
	}
}
