// Package ui renders build reports for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/eugenenazirov/wasmbridge/internal/pipeline"
	"github.com/eugenenazirov/wasmbridge/internal/verify"
)

// Printer writes styled reports to one writer. Colors are dropped when the
// writer is not a terminal.
type Printer struct {
	w io.Writer

	title  lipgloss.Style
	ok     lipgloss.Style
	fail   lipgloss.Style
	warn   lipgloss.Style
	detail lipgloss.Style
	box    lipgloss.Style
}

// New returns a Printer for w.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		fail:   r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		detail: r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1),
	}
}

func (p *Printer) println(s string) {
	fmt.Fprintln(p.w, s)
}

// Environment prints the resolved environment name and display variables.
func (p *Printer) Environment(kind string, pairs [][2]string, total int) {
	lines := []string{p.title.Render("Environment: " + kind)}
	for _, kv := range pairs {
		lines = append(lines, fmt.Sprintf("  %s %s", kv[0]+":", p.detail.Render(kv[1])))
	}
	lines = append(lines, p.detail.Render(fmt.Sprintf("  %d variables loaded", total)))
	p.println(strings.Join(lines, "\n"))
}

// Summary prints the post-build results box.
func (p *Printer) Summary(s pipeline.Summary) {
	var lines []string
	lines = append(lines, p.title.Render("Build results"))
	if s.ArtifactFound {
		lines = append(lines, fmt.Sprintf("%s WASM: %s (%d KB)", p.ok.Render("✓"), s.ArtifactPath, pipeline.KB(s.ArtifactBytes)))
	} else {
		lines = append(lines, fmt.Sprintf("%s WASM: %s not found", p.warn.Render("!"), s.ArtifactPath))
	}
	if s.DistFound {
		lines = append(lines, fmt.Sprintf("%s Dist: %d files (%d KB)", p.ok.Render("✓"), s.DistFiles, pipeline.KB(s.DistBytes)))
	} else {
		lines = append(lines, fmt.Sprintf("%s Dist: %s not found", p.warn.Render("!"), s.DistDir))
	}
	p.println(p.box.Render(strings.Join(lines, "\n")))
}

// Artifact prints the size of the compiled artifact after a compile-only run.
func (p *Printer) Artifact(path string, bytes int64, found bool) {
	if !found {
		p.println(fmt.Sprintf("%s %s not found", p.warn.Render("!"), path))
		return
	}
	p.println(fmt.Sprintf("%s %s (%d KB)", p.ok.Render("✓"), path, pipeline.KB(bytes)))
}

// Listing prints the dist directory tree.
func (p *Printer) Listing(r verify.Report) {
	if len(r.Listing) == 0 {
		return
	}
	p.println(p.title.Render("Contents of " + r.DistDir))
	for _, e := range r.Listing {
		indent := strings.Repeat("  ", e.Depth+1)
		name := e.Path[strings.LastIndex(e.Path, "/")+1:]
		if e.Dir {
			p.println(indent + name + "/")
			continue
		}
		p.println(fmt.Sprintf("%s%s %s", indent, name, p.detail.Render(fmt.Sprintf("(%.2f KB)", float64(e.Bytes)/1024))))
	}
}

// Checklist prints every check followed by the overall verdict.
func (p *Printer) Checklist(r verify.Report) {
	p.println(p.title.Render("Verification"))
	for _, c := range r.Checks {
		mark := p.ok.Render("✓")
		switch {
		case !c.Passed:
			mark = p.fail.Render("✗")
		case c.Informational && len(r.WasmFiles) == 0:
			mark = p.warn.Render("!")
		}
		line := fmt.Sprintf("  %s %s", mark, c.Name)
		if c.Detail != "" {
			line += " " + p.detail.Render(c.Detail)
		}
		p.println(line)
	}

	if r.Passed() {
		p.println(p.box.Render(p.ok.Render("All checks passed. Build artifacts are ready for deployment.")))
		return
	}
	p.println(p.box.Render(p.fail.Render(fmt.Sprintf("%d checks failed. Review the build output.", len(r.Failed())))))
}

// Failure prints a one-line error.
func (p *Printer) Failure(err error) {
	p.println(p.fail.Render("✗ " + err.Error()))
}
