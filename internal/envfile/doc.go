// Package envfile loads layered .env configuration for a detected build
// environment. A generic .env file is read first and the environment-specific
// file last, so environment keys replace generic defaults. Missing files and
// malformed lines never fail a load; parsing is permissive.
package envfile
