package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"emojimk/internal/core"
)

// ErrInvalidRule is returned when a rule table fails validation.
var ErrInvalidRule = errors.New("invalid rule")

// RuleError describes why a rule was rejected.
type RuleError struct {
	Rule string
	Msg  string
}

func (e *RuleError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidRule, e.Msg)
	}
	return fmt.Sprintf("%s %q: %s", ErrInvalidRule, e.Rule, e.Msg)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }

// Table is an ordered, validated set of rules.
type Table struct {
	rules []*Rule
}

// Match is a rule bound to a concrete target.
type Match struct {
	Rule   *Rule
	Target string
	Stem   string

	// Deps holds the dependency patterns with the stem substituted.
	// Glob characters are still unexpanded.
	Deps []string
}

// NewTable validates rules and returns a table preserving their order.
// Targets and dependency patterns are normalized with core.CleanPath.
func NewTable(rs ...Rule) (*Table, error) {
	t := &Table{rules: make([]*Rule, 0, len(rs))}
	seen := make(map[string]struct{}, len(rs))

	for i := range rs {
		r := rs[i]
		if strings.TrimSpace(r.Name) == "" {
			return nil, &RuleError{Msg: fmt.Sprintf("rule %d has no name", i)}
		}
		if _, dup := seen[r.Name]; dup {
			return nil, &RuleError{Rule: r.Name, Msg: "duplicate rule name"}
		}
		seen[r.Name] = struct{}{}

		if strings.TrimSpace(r.Target) == "" {
			return nil, &RuleError{Rule: r.Name, Msg: "empty target"}
		}
		if n := strings.Count(r.Target, "%"); n > 1 {
			return nil, &RuleError{Rule: r.Name, Msg: fmt.Sprintf("target %q has %d '%%' characters", r.Target, n)}
		}
		literal := r.Literal()
		if r.Phony && !literal {
			return nil, &RuleError{Rule: r.Name, Msg: "phony rule cannot be a pattern"}
		}

		r.Target = core.CleanPath(r.Target)
		deps := make([]string, 0, len(r.Deps))
		for _, d := range r.Deps {
			if strings.TrimSpace(d) == "" {
				return nil, &RuleError{Rule: r.Name, Msg: "empty dependency"}
			}
			if strings.Contains(d, "%") {
				if literal {
					return nil, &RuleError{Rule: r.Name, Msg: fmt.Sprintf("dependency %q uses '%%' in a literal rule", d)}
				}
				if strings.Count(d, "%") > 1 {
					return nil, &RuleError{Rule: r.Name, Msg: fmt.Sprintf("dependency %q has more than one '%%'", d)}
				}
			}
			deps = append(deps, core.CleanPath(d))
		}
		r.Deps = deps
		r.Recipe = append([]string(nil), r.Recipe...)

		t.rules = append(t.rules, &r)
	}
	return t, nil
}

// Rules returns the rules in table order.
func (t *Table) Rules() []*Rule {
	return append([]*Rule(nil), t.rules...)
}

// Candidates lists every rule able to produce target, best first:
// literal rules in table order, then pattern rules by ascending stem length
// with ties broken by table order.
func (t *Table) Candidates(target string) []Match {
	target = core.CleanPath(target)

	var literal, pattern []Match
	for _, r := range t.rules {
		if r.Literal() {
			if r.Target == target {
				literal = append(literal, Match{Rule: r, Target: target, Deps: append([]string(nil), r.Deps...)})
			}
			continue
		}
		stem, ok := MatchPattern(r.Target, target)
		if !ok {
			continue
		}
		deps := make([]string, len(r.Deps))
		for i, d := range r.Deps {
			deps[i] = substituteStem(d, stem)
		}
		pattern = append(pattern, Match{Rule: r, Target: target, Stem: stem, Deps: deps})
	}

	sort.SliceStable(pattern, func(i, j int) bool {
		return len(pattern[i].Stem) < len(pattern[j].Stem)
	})
	return append(literal, pattern...)
}
