// Package config loads project configuration from multiple sources (the
// wasmbridge.yaml file, WASMBRIDGE_* environment variables, CLI flags) with
// precedence: CLI flags > YAML config > Environment variables > Defaults.
// It also derives the well-known artifact and bundle paths from the project
// root.
package config
