// Package config loads agentsupervisord's configuration from, in
// ascending priority, an optional YAML defaults file, environment
// variables, then cobra command-line flags (spec.md §6 "CLI /
// environment (minimum)").
//
// It is grounded on the teacher's cmd/warren/main.go, which reads cobra
// persistent flags with an env-style fallback for cluster bootstrap
// options; this package generalizes that pattern into a standalone loader
// so cmd/agentsupervisord's command tree stays thin.
package config
