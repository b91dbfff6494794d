// Package verify inspects a finished bundle before deployment. Every check
// runs even after an earlier one fails, so a single report lists all the
// problems at once.
package verify

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultAppContainerID is the element id the application mounts into.
const DefaultAppContainerID = "leptos-app"

// Check is one line of the checklist.
type Check struct {
	Name   string
	Passed bool
	Detail string
	// Informational checks never fail the report.
	Informational bool
}

// Entry is one file or directory under the dist directory.
type Entry struct {
	Path  string
	Dir   bool
	Bytes int64
	Depth int
}

// Report is the outcome of Run.
type Report struct {
	DistDir   string
	Checks    []Check
	Listing   []Entry
	WasmFiles []Entry
}

// Passed reports whether every non-informational check passed.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed && !c.Informational {
			return false
		}
	}
	return true
}

// Failed returns the failing checks.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed && !c.Informational {
			out = append(out, c)
		}
	}
	return out
}

// Options configures Run.
type Options struct {
	DistDir string
	// RequiredFiles are relative to DistDir. Defaults to index.html.
	RequiredFiles  []string
	AppContainerID string
}

type htmlCheck struct {
	name    string
	pattern *regexp.Regexp
}

func htmlChecks(containerID string) []htmlCheck {
	return []htmlCheck{
		{"HTML structure", regexp.MustCompile(`(?i)<html[^>]*>`)},
		{"Head section", regexp.MustCompile(`(?i)<head[^>]*>`)},
		{"Body section", regexp.MustCompile(`(?i)<body[^>]*>`)},
		{"App container", regexp.MustCompile(`(?i)id="` + regexp.QuoteMeta(containerID) + `"`)},
		{"Script tag", regexp.MustCompile(`(?i)<script[^>]*type="module"`)},
	}
}

// Run executes the checklist against opts.DistDir.
func Run(opts Options) Report {
	if len(opts.RequiredFiles) == 0 {
		opts.RequiredFiles = []string{"index.html"}
	}
	if opts.AppContainerID == "" {
		opts.AppContainerID = DefaultAppContainerID
	}

	report := Report{DistDir: opts.DistDir}

	info, err := os.Stat(opts.DistDir)
	distOK := err == nil && info.IsDir()
	report.Checks = append(report.Checks, Check{
		Name:   "Build directory exists",
		Passed: distOK,
		Detail: opts.DistDir,
	})
	if !distOK {
		return report
	}

	report.Listing = list(opts.DistDir)

	for _, name := range opts.RequiredFiles {
		path := filepath.Join(opts.DistDir, name)
		fi, err := os.Stat(path)
		report.Checks = append(report.Checks, Check{
			Name:   "Required file " + name,
			Passed: err == nil && fi.Mode().IsRegular(),
			Detail: path,
		})
	}

	report.Checks = append(report.Checks, indexChecks(filepath.Join(opts.DistDir, "index.html"), opts.AppContainerID)...)

	for _, e := range report.Listing {
		if !e.Dir && strings.HasSuffix(e.Path, ".wasm") {
			report.WasmFiles = append(report.WasmFiles, e)
		}
	}
	wasm := Check{Name: "WASM files", Passed: true, Informational: true}
	if len(report.WasmFiles) == 0 {
		wasm.Detail = "none found; the module may be embedded"
	} else {
		names := make([]string, 0, len(report.WasmFiles))
		for _, e := range report.WasmFiles {
			names = append(names, e.Path)
		}
		wasm.Detail = strings.Join(names, ", ")
	}
	report.Checks = append(report.Checks, wasm)

	return report
}

func indexChecks(indexPath, containerID string) []Check {
	content, err := os.ReadFile(indexPath)
	if err != nil {
		// the required-file check already reports a missing index.
		return nil
	}
	checks := htmlChecks(containerID)
	out := make([]Check, 0, len(checks))
	for _, c := range checks {
		out = append(out, Check{Name: c.name, Passed: c.pattern.Match(content), Detail: "index.html"})
	}
	return out
}

// list walks dir depth-first in lexical order. Paths are relative
// to dir and slash-separated.
func list(dir string) []Entry {
	var entries []Entry
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == dir {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		e := Entry{Path: rel, Dir: d.IsDir(), Depth: strings.Count(rel, "/")}
		if !e.Dir {
			if info, err := d.Info(); err == nil {
				e.Bytes = info.Size()
			}
		}
		entries = append(entries, e)
		return nil
	})
	return entries
}
