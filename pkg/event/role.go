package event

import (
	"strconv"
	"strings"
)

// Role tags the relationship between an indexed value and an event.
// Behavior roles are non-negative; object roles are negative, except that a
// positive object role is a 1-based argument position.
type Role int8

// Behavior roles
const (
	RoleAnyBehavior Role = 0
	RoleAnyEnter    Role = 1 // called or executed
	RoleCalled      Role = 2
	RoleExecuted    Role = 3
	RoleExit        Role = 4
	RoleOperation   Role = 5 // behavior containing the operation
)

// Object roles
const (
	RoleTarget    Role = -1
	RoleValue     Role = -2
	RoleResult    Role = -3
	RoleException Role = -4
	RoleAnyArg    Role = -5
	RoleAnyObject Role = -6
)

// MaxArgRole is the highest argument position a role can name.
const MaxArgRole = 127

// ArgRole returns the role of the argument at position i (0-based).
func ArgRole(i int) Role { return Role(i + 1) }

// IsArg reports whether r names an argument position.
func (r Role) IsArg() bool { return r > 0 }

// MatchBehavior reports whether a stored behavior role satisfies a queried one.
func MatchBehavior(query, stored Role) bool {
	switch query {
	case RoleAnyBehavior:
		return true
	case RoleAnyEnter:
		return stored == RoleCalled || stored == RoleExecuted
	}
	return query == stored
}

// MatchObject reports whether a stored object role satisfies a queried one.
func MatchObject(query, stored Role) bool {
	switch query {
	case RoleAnyObject:
		return true
	case RoleAnyArg:
		return stored > 0
	}
	return query == stored
}

// ValidBehaviorRole reports whether r can be used in a behavior query.
func ValidBehaviorRole(r Role) bool { return r >= RoleAnyBehavior && r <= RoleOperation }

// ValidObjectRole reports whether r can be used in an object query.
func ValidObjectRole(r Role) bool { return r >= RoleAnyObject && r != 0 }

var roleNames = map[Role]string{
	RoleAnyBehavior: "any",
	RoleAnyEnter:    "enter",
	RoleCalled:      "called",
	RoleExecuted:    "executed",
	RoleExit:        "exit",
	RoleOperation:   "operation",
	RoleTarget:      "target",
	RoleValue:       "value",
	RoleResult:      "result",
	RoleException:   "exception",
	RoleAnyArg:      "anyarg",
	RoleAnyObject:   "anyobject",
}

// ParseRole parses a role name or an argument position ("arg3").
func ParseRole(s string) (Role, bool) {
	for r, name := range roleNames {
		if name == s {
			return r, true
		}
	}
	if rest, ok := strings.CutPrefix(s, "arg"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n > 0 && n <= MaxArgRole {
			return Role(n), true
		}
	}
	return 0, false
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	if r > 0 {
		return "arg" + strconv.Itoa(int(r))
	}
	return "role(" + strconv.Itoa(int(r)) + ")"
}
