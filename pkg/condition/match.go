package condition

import (
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
)

// Match reports whether rec satisfies c, deriving the answer from the
// record itself rather than from the indexes. c must be valid.
func (e *Engine) Match(c Condition, rec *event.Record) bool {
	return e.match(c, registry.Attributes(rec, e.probes))
}

func (e *Engine) match(c Condition, attrs []registry.Attribute) bool {
	switch n := c.(type) {
	case *Simple:
		return len(e.leafRoles(n, attrs)) > 0
	case *Conjunction:
		if n.MatchRoles {
			var common map[event.Role]bool
			for i, child := range n.Children {
				roles := e.leafRoles(child.(*Simple), attrs)
				if i == 0 {
					common = roles
					continue
				}
				for r := range common {
					if !roles[r] {
						delete(common, r)
					}
				}
			}
			return len(common) > 0
		}
		for _, child := range n.Children {
			if !e.match(child, attrs) {
				return false
			}
		}
		return true
	case *Disjunction:
		for _, child := range n.Children {
			if e.match(child, attrs) {
				return true
			}
		}
	}
	return false
}

// leafRoles returns the stored roles of the attributes matched by s.
func (e *Engine) leafRoles(s *Simple, attrs []registry.Attribute) map[event.Role]bool {
	roles := map[event.Role]bool{}
	for _, a := range attrs {
		if a.Dim != s.Dim || !roleMatches(s.Dim, s.Role, a.Role) {
			continue
		}
		v := a.Value
		if s.Part != registry.WholeValue {
			parts, err := e.reg.Split(a.Dim, a.Value)
			if err != nil {
				continue
			}
			v = parts[min(s.Part, len(parts)-1)]
		}
		if v == s.Value {
			roles[a.Role] = true
		}
	}
	return roles
}
