// Package dag plans and evaluates the build graph.
//
// It is split into:
//   - Planner: resolves requested goals against a rule table into tasks
//   - TaskGraph: the immutable, validated DAG with a stable GraphHash
//   - Executor: walks the graph in dependency order, probing freshness
//     and running stale tasks serially or through a worker pool
//
// Runtime status lives in ExecutionState so one TaskGraph can be evaluated
// more than once.
package dag
