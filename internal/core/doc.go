// Package core provides the building blocks the evaluator uses to run a
// single rule instance.
//
// # Core Types
//
// Task: a concrete rule instance (one target, its dependencies and recipe).
// Artifact: a tracked filesystem path with its modification time.
// Runner: decides freshness and executes recipes, one process per line.
//
// Freshness is purely timestamp based: a target is stale iff it is missing,
// or a dependency is missing or strictly newer, or a dependency was remade
// during the current run. Phony targets are always stale.
package core
