// Package integration_tests drives pipelines end to end: HCL definitions are
// loaded from disk, built into a graph and run through the engine with the
// local executor or with reports injected by hand.
package integration_tests
