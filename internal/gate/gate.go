// Package gate answers one question: may this user run this action? Role
// truth lives outside the dispatch path; the dispatcher only asks.
package gate

import "github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"

// Role is an operator's privilege level at the facility.
type Role string

const (
	RoleFrontDesk Role = "front-desk"
	RoleSupport   Role = "support"
	RoleOperator  Role = "operator"
	RoleAdmin     Role = "admin"
)

// rank orders roles; authorization is "at or above the minimum".
var rank = map[Role]int{
	RoleFrontDesk: 1,
	RoleSupport:   2,
	RoleOperator:  3,
	RoleAdmin:     4,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// Meets reports whether r satisfies the minimum role. Unknown roles never
// satisfy anything.
func (r Role) Meets(minimum Role) bool {
	have, ok := rank[r]
	need, ok2 := rank[minimum]
	return ok && ok2 && have >= need
}

// MinimumFor returns the role floor for an action of the given criticality.
// Critical actions demand a strictly higher role than normal ones.
func MinimumFor(criticality clubos.Criticality) Role {
	if criticality == clubos.CriticalityCritical {
		return RoleOperator
	}
	return RoleSupport
}

// Gate authorizes action requests.
type Gate interface {
	// Authorize reports whether userID holds at least the minimum role.
	// Unknown users are never authorized.
	Authorize(userID string, minimum Role) bool
}
