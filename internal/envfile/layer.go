package envfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// Layer is one parsed configuration file.
type Layer struct {
	Path    string
	Present bool
	Values  map[string]string
	// Skipped holds the 1-based line numbers that had no '=' separator.
	Skipped []int
}

// ParseLayer reads the file at path. A missing or unreadable file yields an
// empty layer; the read error, if any, is returned for logging only.
func ParseLayer(path string) (Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		layer := Layer{Path: path, Values: map[string]string{}}
		if errors.Is(err, fs.ErrNotExist) {
			return layer, nil
		}
		return layer, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	layer, err := ParseReader(path, f)
	layer.Present = true
	return layer, err
}

// ParseReader parses KEY=VALUE lines from r. Lines that were read before a
// scanner error are kept.
func ParseReader(name string, r io.Reader) (Layer, error) {
	layer := Layer{Path: name, Values: map[string]string{}}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			layer.Skipped = append(layer.Skipped, lineNum)
			continue
		}

		layer.Values[key] = unquote(strings.TrimSpace(value))
	}

	if err := scanner.Err(); err != nil {
		return layer, fmt.Errorf("read %s: %w", name, err)
	}
	return layer, nil
}

// unquote strips one matching pair of surrounding double or single quotes.
func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first == last && (first == '"' || first == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}

// Merged is the folded result of a list of layers.
type Merged map[string]string

// Merge folds layers left to right; a later layer replaces the whole value of
// any key an earlier layer defined.
func Merge(layers ...Layer) Merged {
	merged := Merged{}
	for _, layer := range layers {
		for key, value := range layer.Values {
			merged[key] = value
		}
	}
	return merged
}

// Keys returns the keys in sorted order.
func (m Merged) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Environ renders the map as sorted KEY=VALUE pairs.
func (m Merged) Environ() []string {
	out := make([]string, 0, len(m))
	for _, key := range m.Keys() {
		out = append(out, key+"="+m[key])
	}
	return out
}
