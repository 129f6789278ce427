package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbeoliero/convo/entity"
)

func TestCan_Member(t *testing.T) {
	actions := []Action{
		ActionPin, ActionAnnounce, ActionDeleteAny, ActionEditAny,
		ActionPromoteModerator, ActionPromoteAdmin, ActionDemote, ActionRemoveMember,
	}
	targets := []entity.Role{entity.RoleMember, entity.RoleModerator, entity.RoleAdmin}

	for _, action := range actions {
		for _, target := range targets {
			assert.False(t, Can(entity.RoleMember, action, target),
				"member must not %s against %s", action, target)
		}
	}
}

func TestCan_Moderator(t *testing.T) {
	t.Run("pin and announce are untargeted", func(t *testing.T) {
		assert.True(t, Can(entity.RoleModerator, ActionPin, entity.RoleMember))
		assert.True(t, Can(entity.RoleModerator, ActionAnnounce, entity.RoleMember))
	})

	t.Run("member-targeted actions", func(t *testing.T) {
		for _, action := range []Action{ActionDeleteAny, ActionEditAny, ActionPromoteModerator, ActionDemote, ActionRemoveMember} {
			assert.True(t, Can(entity.RoleModerator, action, entity.RoleMember), "moderator should %s members", action)
			assert.False(t, Can(entity.RoleModerator, action, entity.RoleModerator), "moderator must not %s moderators", action)
			assert.False(t, Can(entity.RoleModerator, action, entity.RoleAdmin), "moderator must not %s admins", action)
		}
	})

	t.Run("cannot mint admins", func(t *testing.T) {
		for _, target := range []entity.Role{entity.RoleMember, entity.RoleModerator, entity.RoleAdmin} {
			assert.False(t, Can(entity.RoleModerator, ActionPromoteAdmin, target))
		}
	})
}

func TestCan_Admin(t *testing.T) {
	t.Run("pin and announce", func(t *testing.T) {
		assert.True(t, Can(entity.RoleAdmin, ActionPin, entity.RoleMember))
		assert.True(t, Can(entity.RoleAdmin, ActionAnnounce, entity.RoleMember))
	})

	t.Run("delete and edit spare other admins", func(t *testing.T) {
		for _, action := range []Action{ActionDeleteAny, ActionEditAny} {
			assert.True(t, Can(entity.RoleAdmin, action, entity.RoleMember))
			assert.True(t, Can(entity.RoleAdmin, action, entity.RoleModerator))
			assert.False(t, Can(entity.RoleAdmin, action, entity.RoleAdmin))
		}
	})

	t.Run("role changes and removal reach everyone", func(t *testing.T) {
		for _, action := range []Action{ActionPromoteModerator, ActionPromoteAdmin, ActionDemote, ActionRemoveMember} {
			for _, target := range []entity.Role{entity.RoleMember, entity.RoleModerator, entity.RoleAdmin} {
				assert.True(t, Can(entity.RoleAdmin, action, target), "admin should %s against %s", action, target)
			}
		}
	})
}

func TestCan_UnknownRole(t *testing.T) {
	assert.False(t, Can(entity.Role("owner"), ActionPin, entity.RoleMember))
	assert.False(t, Can("", ActionRemoveMember, entity.RoleMember))
}

func TestPromoteAction(t *testing.T) {
	action, ok := PromoteAction(entity.RoleModerator)
	assert.True(t, ok)
	assert.Equal(t, ActionPromoteModerator, action)

	action, ok = PromoteAction(entity.RoleAdmin)
	assert.True(t, ok)
	assert.Equal(t, ActionPromoteAdmin, action)

	_, ok = PromoteAction(entity.RoleMember)
	assert.False(t, ok)
}
