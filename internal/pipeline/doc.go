// Package pipeline holds the static side of the engine: stages, their
// snapshot dependencies and triggers, the run state machine, and the Builder
// that validates a definition into an immutable Graph.
//
// A Graph is only ever produced by Builder.Build. A failed build returns no
// graph, so an invalid definition can never reach the engine.
package pipeline
