// Package app wires the pipeline engine to its backends: it loads the
// pipeline definition, restores persisted runs, starts the executor and the
// HTTP server, and persists state on shutdown. It is decoupled from any
// specific entrypoint like a CLI.
package app
