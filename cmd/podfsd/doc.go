// Package main is the entry point for podfsd, the podfs daemon.
//
// The daemon keeps one command channel per container open and exposes the
// remote filesystem, bulk downloads, log and event streams and interactive
// shells to local tools such as editor extensions.
//
// Architecture:
//
//	Editor / CLI → podfsd (HTTP + WebSocket) → kubectl exec / API exec → container
//	                                         → kubectl proxy → API server
//
// The server provides:
//   - REST API for filesystem operations, pods, channels and transfers
//   - WebSocket streams for logs, events, transfer progress and shells
//   - Prometheus metrics on /metrics
//
// Configuration:
//   - Defaults, then the YAML or TOML file named by PODFS_CONFIG
//   - Environment variables (12-factor)
//   - CLI flags (override everything)
//
// Usage:
//
//	# Local daemon against the current kube context
//	./podfsd --port 7070
//
//	# API exec through an existing proxy, debug logs
//	./podfsd --exec-mode websocket --proxy-url http://127.0.0.1:8001 --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
