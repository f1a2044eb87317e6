package core

// Reason explains a freshness decision.
type Reason string

const (
	ReasonUpToDate          Reason = "up-to-date"
	ReasonPhony             Reason = "phony"
	ReasonMissing           Reason = "missing"
	ReasonMissingDependency Reason = "missing-dependency"
	ReasonNewerDependency   Reason = "newer-dependency"
	ReasonDependencyRebuilt Reason = "dependency-rebuilt"
)

// Stale reports whether the reason requires the recipe to run.
func (r Reason) Stale() bool { return r != ReasonUpToDate }

func (r Reason) String() string { return string(r) }

// Freshness decides whether target must be regenerated.
//
// The check order is fixed so the reported reason is deterministic:
// missing target, then dependencies in declaration order. The returned
// path names the dependency responsible, if any.
func Freshness(target Artifact, deps []Artifact) (Reason, string) {
	if !target.Exists {
		return ReasonMissing, ""
	}
	for _, d := range deps {
		if !d.Exists {
			return ReasonMissingDependency, d.Path
		}
		if d.NewerThan(target) {
			return ReasonNewerDependency, d.Path
		}
	}
	return ReasonUpToDate, ""
}
