// Package main is the entry point for the scriptbox MCP server.
//
// The scriptbox server implements a configurable Model Context Protocol (MCP)
// server that runs untrusted, user-authored JavaScript test scripts against
// captured HTTP responses. Each run gets its own goja isolate with a curated
// API (test, expect, env, response) and is interrupted when it exceeds the
// configured timeout. The server supports both stdio and HTTP transports and
// can expose Prometheus metrics on a separate port.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
