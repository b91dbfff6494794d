package virtualmod

import (
	"regexp"

	"github.com/evanw/esbuild/pkg/api"
)

// PluginName identifies the plugin in esbuild diagnostics.
const PluginName = "wasm-import"

// Plugin adapts the resolver to esbuild's resolve and load hooks. esbuild
// keeps the virtual module in its own namespace, so the marker id never has
// to travel through esbuild as a path.
func (r *Resolver) Plugin() api.Plugin {
	return api.Plugin{
		Name: PluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(r.specifier) + "$"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if _, ok := r.ResolveID(args.Path, args.Importer); !ok {
						return api.OnResolveResult{}, nil
					}
					return api.OnResolveResult{Path: r.specifier, Namespace: PluginName}, nil
				})

			build.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(r.ArtifactPrefix()), Namespace: PluginName},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					resolved, ok := r.ResolveID(args.Path, r.marker)
					if !ok {
						return api.OnResolveResult{}, nil
					}
					return api.OnResolveResult{Path: resolved, Namespace: "file"}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: PluginName},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					source, ok := r.Load(markerPrefix + args.Path)
					if !ok {
						return api.OnLoadResult{}, nil
					}
					return api.OnLoadResult{
						Contents:   &source,
						Loader:     api.LoaderJS,
						ResolveDir: r.root,
					}, nil
				})
		},
	}
}
