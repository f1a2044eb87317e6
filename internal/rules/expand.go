package rules

import "strings"

// Binding supplies the automatic variables of one rule instance.
type Binding struct {
	Target string
	Deps   []string
	Stem   string
}

// Expand substitutes automatic variables in a recipe template:
//
//	$@  the target
//	$<  the first dependency
//	$^  all dependencies, de-duplicated, space separated
//	$*  the stem
//	$$  a literal '$'
//
// Any other '$' sequence is passed to the shell untouched.
func Expand(template string, b Binding) string {
	if !strings.Contains(template, "$") {
		return template
	}

	var sb strings.Builder
	sb.Grow(len(template))
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 == len(template) {
			sb.WriteByte(c)
			continue
		}
		switch template[i+1] {
		case '@':
			sb.WriteString(b.Target)
		case '<':
			if len(b.Deps) > 0 {
				sb.WriteString(b.Deps[0])
			}
		case '^':
			sb.WriteString(strings.Join(dedup(b.Deps), " "))
		case '*':
			sb.WriteString(b.Stem)
		case '$':
			sb.WriteByte('$')
		default:
			sb.WriteByte(c)
			continue
		}
		i++
	}
	return sb.String()
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
