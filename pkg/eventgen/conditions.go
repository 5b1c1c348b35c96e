package eventgen

import (
	"math/rand"

	"github.com/dd0wney/cluso-tracedb/pkg/condition"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
)

// ConditionGenerator produces random condition trees whose leaves use the
// value ranges of an event generator.
type ConditionGenerator struct {
	rng   *rand.Rand
	gen   *Generator
	level int
}

// NewConditions creates a condition generator. Leaf values are drawn
// through a private generator over r.
func NewConditions(seed int64, r Ranges) *ConditionGenerator {
	return &ConditionGenerator{rng: rand.New(rand.NewSource(seed)), gen: New(seed^0x5eed, r)}
}

// Next returns a simple condition half of the time, a compound one
// otherwise.
func (c *ConditionGenerator) Next() condition.Condition {
	c.level = 0
	return c.next(0.5)
}

func (c *ConditionGenerator) next(simple float64) condition.Condition {
	if c.rng.Float64() < simple {
		return c.Simple()
	}
	return c.Compound()
}

// Simple returns a random leaf.
func (c *ConditionGenerator) Simple() *condition.Simple {
	g := c.gen
	switch c.rng.Intn(10) {
	case 0:
		return condition.Behavior(g.BehaviorID(), c.behaviorRole())
	case 1:
		return condition.Location(g.BytecodeIndex())
	case 2:
		return condition.Field(g.FieldID())
	case 3:
		return condition.Object(g.ObjectID(), c.objectRole())
	case 4:
		return condition.Thread(g.ThreadID())
	case 5:
		return condition.Variable(g.VariableID())
	case 6:
		return condition.Depth(g.Depth())
	case 7:
		kinds := event.Kinds()
		return condition.Kind(kinds[c.rng.Intn(len(kinds))])
	case 8:
		return condition.ArrayIndex(g.ArrayIndex())
	}
	return condition.AdviceCFlow(g.AdviceSourceID())
}

func (c *ConditionGenerator) behaviorRole() event.Role {
	switch c.rng.Intn(4) {
	case 0:
		return event.RoleAnyBehavior
	case 1:
		return event.RoleCalled
	case 2:
		return event.RoleExecuted
	}
	return event.RoleAnyEnter
}

func (c *ConditionGenerator) objectRole() event.Role {
	switch c.rng.Intn(7) {
	case 0:
		return event.RoleException
	case 1:
		return event.RoleResult
	case 2:
		return event.RoleTarget
	case 3:
		return event.RoleValue
	case 4:
		return event.RoleAnyObject
	case 5:
		return event.RoleAnyArg
	}
	return event.ArgRole(c.rng.Intn(3))
}

// Compound returns a random conjunction or disjunction of one to nine
// children, nested at most three levels deep.
func (c *ConditionGenerator) Compound() condition.Condition {
	c.level++
	defer func() { c.level-- }()
	n := c.rng.Intn(9) + 1
	children := make([]condition.Condition, n)
	for i := range children {
		p := 0.9
		if c.level >= 3 {
			p = 1
		}
		children[i] = c.next(p)
	}
	if c.rng.Intn(2) == 0 {
		return condition.And(children...)
	}
	return condition.Or(children...)
}
