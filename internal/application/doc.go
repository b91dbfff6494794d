// Package application provides application initialization and dependency wiring.
// It turns a loaded configuration into the build pipeline, the verification
// checklist, and the development and preview servers, keeping the main
// package focused on CLI parsing and orchestration.
package application
