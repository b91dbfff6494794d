package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Summary describes the build output. It is informational only.
type Summary struct {
	ArtifactPath  string
	ArtifactFound bool
	ArtifactBytes int64
	DistDir       string
	DistFound     bool
	DistFiles     int
	DistBytes     int64
}

// Summarize stats the compiled artifact and walks the dist directory.
// Unreadable entries are skipped.
func Summarize(artifactPath, distDir string) Summary {
	s := Summary{ArtifactPath: artifactPath, DistDir: distDir}

	if info, err := os.Stat(artifactPath); err == nil && info.Mode().IsRegular() {
		s.ArtifactFound = true
		s.ArtifactBytes = info.Size()
	}

	if info, err := os.Stat(distDir); err != nil || !info.IsDir() {
		return s
	}
	s.DistFound = true
	_ = filepath.WalkDir(distDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		s.DistFiles++
		s.DistBytes += info.Size()
		return nil
	})
	return s
}

// KB rounds n bytes to whole kilobytes.
func KB(n int64) int64 {
	return (n + 512) / 1024
}
