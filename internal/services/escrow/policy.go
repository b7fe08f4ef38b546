package escrow

import "escrow/internal/models"

type statusSet map[models.EscrowStatus]struct{}

func set(statuses ...models.EscrowStatus) statusSet {
	s := make(statusSet, len(statuses))
	for _, st := range statuses {
		s[st] = struct{}{}
	}
	return s
}

// edges is the role-agnostic transition table. Statuses without an entry
// are terminal.
var edges = map[models.EscrowStatus]statusSet{
	models.StatusCreated:   set(models.StatusFunded),
	models.StatusFunded:    set(models.StatusShipping),
	models.StatusShipping:  set(models.StatusDelivered),
	models.StatusDelivered: set(models.StatusReleased, models.StatusDisputed),
	models.StatusDisputed:  set(models.StatusReleased, models.StatusRefunded),
}

// roleEdges narrows edges per acting role.
var roleEdges = map[models.Role]map[models.EscrowStatus]statusSet{
	models.RoleBuyer: {
		models.StatusCreated:   set(models.StatusFunded),
		models.StatusDelivered: set(models.StatusReleased, models.StatusDisputed),
	},
	models.RoleSeller: {
		models.StatusFunded:   set(models.StatusShipping),
		models.StatusShipping: set(models.StatusDelivered),
	},
	models.RoleArbiter: {
		models.StatusDisputed: set(models.StatusReleased, models.StatusRefunded),
	},
	models.RoleSystem: {
		models.StatusDelivered: set(models.StatusReleased),
	},
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to models.EscrowStatus) bool {
	_, ok := edges[from][to]
	return ok
}

// CanTransitionByRole reports whether role may move an escrow from from to to.
func CanTransitionByRole(from, to models.EscrowStatus, role models.Role) bool {
	if !CanTransition(from, to) {
		return false
	}
	_, ok := roleEdges[role][from][to]
	return ok
}

// AllowedTransitions lists the statuses role may move to from from, in
// lifecycle order.
func AllowedTransitions(from models.EscrowStatus, role models.Role) []models.EscrowStatus {
	var out []models.EscrowStatus
	for _, to := range models.EscrowStatuses {
		if CanTransitionByRole(from, to, role) {
			out = append(out, to)
		}
	}
	return out
}
