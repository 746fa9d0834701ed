// Package config loads podfs configuration.
//
// Precedence, lowest first: Default(), an optional YAML or TOML file named by
// PODFS_CONFIG, then environment variables (envconfig). The binaries apply
// command-line flags on top.
package config
