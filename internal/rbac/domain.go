package rbac

import (
	"strings"

	"github.com/retifica-erp/retifica/internal/shared"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// roleRank orders the approval roles; unknown roles rank zero.
var roleRank = map[string]int{
	shared.RoleComprador: 0,
	shared.RoleGerente:   1,
	shared.RoleAdmin:     2,
}

// defaultGrants are permissions every member of a role holds regardless of
// rows in role_permissions.
var defaultGrants = map[string][]string{
	shared.RoleComprador: {
		shared.PermThresholdView,
		shared.PermOrderSubmit,
		shared.PermOrderView,
		shared.PermOrderCancel,
		shared.PermConditionalView,
		shared.PermConditionalExtend,
	},
	shared.RoleGerente: {
		shared.PermThresholdView,
		shared.PermOrderSubmit,
		shared.PermOrderApprove,
		shared.PermOrderView,
		shared.PermOrderCancel,
		shared.PermOrderAdvance,
		shared.PermConditionalView,
		shared.PermConditionalExtend,
	},
	shared.RoleAdmin: shared.ProcurementScopes(),
}

// Rank returns the position of role in the approval hierarchy.
func Rank(role string) int {
	return roleRank[strings.ToLower(strings.TrimSpace(role))]
}

// AtLeast reports whether actor holds role or a higher one.
func AtLeast(actor shared.Actor, role string) bool {
	if strings.EqualFold(strings.TrimSpace(actor.Role), role) {
		return true
	}
	need := Rank(role)
	return need > 0 && Rank(actor.Role) >= need
}

// Matches reports whether actor is designated by an approver reference, either
// by user id or by role slug.
func Matches(actor shared.Actor, ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	return ref == actor.Ref() || strings.EqualFold(ref, actor.Role)
}

// MatchAny returns the reference in refs designating actor. The actor's own
// id reference wins over role references so that a role slot never consumes
// the vote a named approver owes.
func MatchAny(actor shared.Actor, refs []string) (string, bool) {
	own := actor.Ref()
	for _, ref := range refs {
		if strings.TrimSpace(ref) == own {
			return ref, true
		}
	}
	for _, ref := range refs {
		if Matches(actor, ref) {
			return ref, true
		}
	}
	return "", false
}

// DefaultPermissions returns the built-in grants of role.
func DefaultPermissions(role string) []string {
	return append([]string(nil), defaultGrants[strings.ToLower(strings.TrimSpace(role))]...)
}
