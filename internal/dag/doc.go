// Package dag holds the dependency topology of a pipeline: a set of string
// identified nodes joined by "depends on" edges. It rejects edges that would
// close a cycle, reports the offending path, and produces deterministic
// topological orders over arbitrary subsets of the graph.
//
// The package knows nothing about stages, runs or triggers; the pipeline
// package layers those semantics on top.
package dag
