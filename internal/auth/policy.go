package auth

import (
	"fmt"

	"github.com/tasktrack/apiserver/internal/apperrors"
	"github.com/tasktrack/apiserver/types"
)

// Action names the operation being authorized.
type Action string

const (
	ActionCreate    Action = "create"
	ActionRead      Action = "read"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionList      Action = "list"
	ActionViewStats Action = "view_stats"
)

// Identity is the acting principal of an authorization decision.
type Identity struct {
	UserID int
	Role   types.Role
}

// IdentityOf returns the identity of a resolved user.
func IdentityOf(user types.User) Identity {
	return Identity{UserID: user.ID, Role: user.Role}
}

func (i Identity) IsAdmin() bool {
	return i.Role == types.RoleAdmin
}

// Requirement declares which gates an action must pass. Zero fields skip
// their gate.
type Requirement struct {
	// Role is the role the identity must hold.
	Role types.Role
	// Owner is the owner of the targeted resource.
	Owner *int
}

// Owned returns a Requirement targeting a resource owned by ownerID.
func Owned(ownerID int) Requirement {
	return Requirement{Owner: &ownerID}
}

// RequiresRole returns a Requirement gated on role.
func RequiresRole(role types.Role) Requirement {
	return Requirement{Role: role}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  apperrors.Reason
}

var allow = Decision{Allowed: true}

func deny(reason apperrors.Reason) Decision {
	return Decision{Reason: reason}
}

// RoleGate allows identity only when it holds required.
func RoleGate(identity Identity, required types.Role) Decision {
	if identity.Role != required {
		return deny(apperrors.ReasonInsufficientRole)
	}
	return allow
}

// OwnershipGate allows admins unconditionally and everyone else only on
// resources they own.
func OwnershipGate(identity Identity, ownerID int) Decision {
	if identity.IsAdmin() {
		return allow
	}
	if identity.UserID != ownerID {
		return deny(apperrors.ReasonNotOwner)
	}
	return allow
}

// Authorize applies every gate declared by req. The role gate runs first.
func Authorize(identity Identity, action Action, req Requirement) Decision {
	if req.Role != "" {
		if d := RoleGate(identity, req.Role); !d.Allowed {
			return d
		}
	}
	if req.Owner != nil {
		if d := OwnershipGate(identity, *req.Owner); !d.Allowed {
			return d
		}
	}
	return allow
}

// Err converts a denial into a Forbidden failure for action. It returns nil
// when the decision allows.
func (d Decision) Err(action Action) error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case apperrors.ReasonInsufficientRole:
		return apperrors.Forbidden(d.Reason, "you do not have permission to perform this action")
	default:
		return apperrors.Forbidden(d.Reason, fmt.Sprintf("you are not authorized to %s this task", action))
	}
}
