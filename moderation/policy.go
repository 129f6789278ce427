// Package moderation holds the per-conversation role policy as one pure
// function, so every call site evaluates the same closed table instead of
// re-deriving admin/moderator booleans locally.
package moderation

import "github.com/mbeoliero/convo/entity"

// Action is a privileged conversation action.
type Action string

const (
	ActionPin              Action = "pin"
	ActionAnnounce         Action = "announce"
	ActionDeleteAny        Action = "delete_any"
	ActionEditAny          Action = "edit_any"
	ActionPromoteModerator Action = "promote_moderator"
	ActionPromoteAdmin     Action = "promote_admin"
	ActionDemote           Action = "demote"
	ActionRemoveMember     Action = "remove_member"
)

// Can reports whether an actor with actorRole may perform action against
// a target holding targetRole.
//
// Pin and announce have no target; pass entity.RoleMember for them. The
// "no actor may target themself" rule is enforced by callers, which know
// the actor and target identities; this function only sees roles, and the
// roles must be read from the live roster at call time, never cached,
// since promotions can occur mid-session.
func Can(actorRole entity.Role, action Action, targetRole entity.Role) bool {
	switch actorRole {
	case entity.RoleMember:
		return false

	case entity.RoleModerator:
		switch action {
		case ActionPin, ActionAnnounce:
			return true
		case ActionDeleteAny, ActionEditAny, ActionPromoteModerator, ActionDemote, ActionRemoveMember:
			return targetRole == entity.RoleMember
		case ActionPromoteAdmin:
			return false
		}
		return false

	case entity.RoleAdmin:
		switch action {
		case ActionPin, ActionAnnounce:
			return true
		case ActionDeleteAny, ActionEditAny:
			return targetRole != entity.RoleAdmin
		case ActionPromoteModerator, ActionPromoteAdmin:
			return true
		case ActionDemote, ActionRemoveMember:
			// Anyone except self; the self check lives with the caller.
			return true
		}
		return false
	}

	return false
}

// PromoteAction maps a destination role onto the action required to
// promote someone into it.
func PromoteAction(to entity.Role) (Action, bool) {
	switch to {
	case entity.RoleModerator:
		return ActionPromoteModerator, true
	case entity.RoleAdmin:
		return ActionPromoteAdmin, true
	}
	return "", false
}
