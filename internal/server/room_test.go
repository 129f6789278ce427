package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/moderation"
	"github.com/mbeoliero/convo/pkg/errcode"
)

func testRoom(t *testing.T) *Room {
	t.Helper()
	r := NewRoom("conv-1", "General", true)
	require.NoError(t, r.AddUser("alice", "Alice", "alice123", entity.RoleAdmin))
	require.NoError(t, r.AddUser("bob", "Bob", "bob123", entity.RoleModerator))
	require.NoError(t, r.AddUser("carol", "Carol", "carol123", entity.RoleMember))
	return r
}

func appendMsg(t *testing.T, r *Room, senderId, content string) *entity.Message {
	t.Helper()
	msg, err := r.AppendMessage(senderId, &entity.SendRequest{Content: content}, "")
	require.NoError(t, err)
	return msg
}

func TestRoom_Authenticate(t *testing.T) {
	r := testRoom(t)

	require.NoError(t, r.Authenticate("alice", "alice123"))
	require.ErrorIs(t, r.Authenticate("alice", "wrong"), errcode.ErrPasswordWrong)
	require.ErrorIs(t, r.Authenticate("mallory", "x"), errcode.ErrUserNotFound)
}

func TestRoom_AppendMessage(t *testing.T) {
	r := testRoom(t)

	t.Run("AssignsIdAndSenderRead", func(t *testing.T) {
		msg := appendMsg(t, r, "carol", "hello")
		assert.NotEmpty(t, msg.Id)
		assert.Equal(t, "conv-1", msg.ConversationId)
		assert.Equal(t, []string{"carol"}, msg.ReadBy)
	})

	t.Run("ResendWithSameClientMsgIdIsIdempotent", func(t *testing.T) {
		first, err := r.AppendMessage("carol", &entity.SendRequest{Content: "once"}, "local-1")
		require.NoError(t, err)
		second, err := r.AppendMessage("carol", &entity.SendRequest{Content: "once"}, "local-1")
		require.NoError(t, err)
		assert.Equal(t, first.Id, second.Id)

		// Another sender reusing the id gets a fresh message.
		third, err := r.AppendMessage("bob", &entity.SendRequest{Content: "once"}, "local-1")
		require.NoError(t, err)
		assert.NotEqual(t, first.Id, third.Id)
	})

	t.Run("NonParticipantRejected", func(t *testing.T) {
		_, err := r.AppendMessage("mallory", &entity.SendRequest{Content: "hi"}, "")
		require.ErrorIs(t, err, errcode.ErrNotParticipant)
	})

	t.Run("EmptyRejected", func(t *testing.T) {
		_, err := r.AppendMessage("carol", &entity.SendRequest{}, "")
		require.ErrorIs(t, err, errcode.ErrInvalidParam)
	})
}

func TestRoom_EditMessage(t *testing.T) {
	r := testRoom(t)
	msg := appendMsg(t, r, "carol", "draft")

	t.Run("SenderEdits", func(t *testing.T) {
		updated, err := r.EditMessage("carol", msg.Id, "final")
		require.NoError(t, err)
		assert.Equal(t, "final", updated.Content)
		require.NotNil(t, updated.EditedAt)
	})

	t.Run("SameContentDoesNotBumpEditedAt", func(t *testing.T) {
		before, err := r.View(msg.Id, "carol")
		require.NoError(t, err)
		updated, err := r.EditMessage("carol", msg.Id, "final")
		require.NoError(t, err)
		assert.Equal(t, *before.EditedAt, *updated.EditedAt)
	})

	t.Run("AdminEditsOthers", func(t *testing.T) {
		_, err := r.EditMessage("alice", msg.Id, "overridden")
		require.NoError(t, err)
	})

	t.Run("MemberCannotEditOthers", func(t *testing.T) {
		other := appendMsg(t, r, "bob", "mod message")
		_, err := r.EditMessage("carol", other.Id, "nope")
		require.ErrorIs(t, err, errcode.ErrPermissionDenied)
	})

	t.Run("DeletedRejected", func(t *testing.T) {
		dead := appendMsg(t, r, "carol", "to delete")
		require.NoError(t, r.DeleteMessage("carol", dead.Id))
		_, err := r.EditMessage("carol", dead.Id, "too late")
		require.ErrorIs(t, err, errcode.ErrMessageDeleted)
	})
}

func TestRoom_DeleteMessage(t *testing.T) {
	r := testRoom(t)

	t.Run("TombstonesAndUnpins", func(t *testing.T) {
		msg := appendMsg(t, r, "carol", "pin me")
		pinned, err := r.Pin("bob", msg.Id)
		require.NoError(t, err)
		require.True(t, pinned)
		_, err = r.React("bob", msg.Id, "+1")
		require.NoError(t, err)

		require.NoError(t, r.DeleteMessage("carol", msg.Id))

		got, err := r.View(msg.Id, "bob")
		require.NoError(t, err)
		assert.True(t, got.IsDeleted)
		assert.Empty(t, got.Content)
		assert.False(t, got.IsPinned)
		assert.Empty(t, got.ReactionCounts)
		assert.Empty(t, got.UserReactions)

		conv, err := r.Snapshot("bob")
		require.NoError(t, err)
		assert.NotContains(t, conv.PinnedMessageIds, msg.Id)
	})

	t.Run("RepeatDeleteIsNoop", func(t *testing.T) {
		msg := appendMsg(t, r, "carol", "twice")
		require.NoError(t, r.DeleteMessage("carol", msg.Id))
		require.NoError(t, r.DeleteMessage("carol", msg.Id))
	})

	t.Run("MemberCannotDeleteOthers", func(t *testing.T) {
		msg := appendMsg(t, r, "alice", "admin note")
		require.ErrorIs(t, r.DeleteMessage("carol", msg.Id), errcode.ErrPermissionDenied)
	})
}

func TestRoom_Reactions(t *testing.T) {
	r := testRoom(t)
	msg := appendMsg(t, r, "alice", "react to me")

	added, err := r.React("bob", msg.Id, "+1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = r.React("carol", msg.Id, "+1")
	require.NoError(t, err)
	assert.True(t, added)

	// Each viewer sees the shared count but only their own set.
	bobView, err := r.View(msg.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bobView.ReactionCounts["+1"])
	assert.Equal(t, []string{"+1"}, bobView.UserReactions)

	aliceView, err := r.View(msg.Id, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), aliceView.ReactionCounts["+1"])
	assert.Empty(t, aliceView.UserReactions)

	// Toggling off removes only the actor's reaction.
	added, err = r.React("bob", msg.Id, "+1")
	require.NoError(t, err)
	assert.False(t, added)
	view, err := r.View(msg.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.ReactionCounts["+1"])
	assert.Empty(t, view.UserReactions)

	// The last removal drops the emoji entirely.
	_, err = r.React("carol", msg.Id, "+1")
	require.NoError(t, err)
	view, err = r.View(msg.Id, "carol")
	require.NoError(t, err)
	assert.Empty(t, view.ReactionCounts)
}

func TestRoom_PinAndAnnounce(t *testing.T) {
	r := testRoom(t)
	m1 := appendMsg(t, r, "alice", "one")
	m2 := appendMsg(t, r, "alice", "two")

	t.Run("MemberDenied", func(t *testing.T) {
		_, err := r.Pin("carol", m1.Id)
		require.ErrorIs(t, err, errcode.ErrPermissionDenied)
		_, err = r.Announce("carol", m1.Id)
		require.ErrorIs(t, err, errcode.ErrPermissionDenied)
	})

	t.Run("PinnedListMostRecentFirst", func(t *testing.T) {
		pinned, err := r.Pin("bob", m1.Id)
		require.NoError(t, err)
		assert.True(t, pinned)
		pinned, err = r.Pin("bob", m2.Id)
		require.NoError(t, err)
		assert.True(t, pinned)

		conv, err := r.Snapshot("bob")
		require.NoError(t, err)
		assert.Equal(t, []string{m2.Id, m1.Id}, conv.PinnedMessageIds)
	})

	t.Run("UnpinToggles", func(t *testing.T) {
		pinned, err := r.Pin("bob", m2.Id)
		require.NoError(t, err)
		assert.False(t, pinned)

		conv, err := r.Snapshot("bob")
		require.NoError(t, err)
		assert.Equal(t, []string{m1.Id}, conv.PinnedMessageIds)
	})

	t.Run("AnnounceToggles", func(t *testing.T) {
		on, err := r.Announce("bob", m1.Id)
		require.NoError(t, err)
		assert.True(t, on)
		off, err := r.Announce("alice", m1.Id)
		require.NoError(t, err)
		assert.False(t, off)
	})
}

func TestRoom_ChangeRole(t *testing.T) {
	r := testRoom(t)

	t.Run("AdminPromotesMember", func(t *testing.T) {
		require.NoError(t, r.ChangeRole("alice", "carol", entity.RoleModerator, moderation.ActionPromoteModerator))
		conv, err := r.Snapshot("alice")
		require.NoError(t, err)
		assert.Equal(t, entity.RoleModerator, conv.RoleOf("carol"))
	})

	t.Run("SameRoleIsConflict", func(t *testing.T) {
		err := r.ChangeRole("alice", "carol", entity.RoleModerator, moderation.ActionPromoteModerator)
		require.ErrorIs(t, err, errcode.ErrConflict)
	})

	t.Run("UnknownTargetIsConflict", func(t *testing.T) {
		err := r.ChangeRole("alice", "mallory", entity.RoleModerator, moderation.ActionPromoteModerator)
		require.ErrorIs(t, err, errcode.ErrConflict)
	})

	t.Run("SelfTargetRejected", func(t *testing.T) {
		err := r.ChangeRole("alice", "alice", entity.RoleMember, moderation.ActionDemote)
		require.ErrorIs(t, err, errcode.ErrSelfTarget)
	})

	t.Run("ModeratorPromotesMemberButNotToAdmin", func(t *testing.T) {
		r2 := testRoom(t)
		err := r2.ChangeRole("bob", "carol", entity.RoleAdmin, moderation.ActionPromoteAdmin)
		require.ErrorIs(t, err, errcode.ErrPermissionDenied)
		require.NoError(t, r2.ChangeRole("bob", "carol", entity.RoleModerator, moderation.ActionPromoteModerator))
	})

	t.Run("DemotionTakesEffectImmediately", func(t *testing.T) {
		r2 := testRoom(t)
		require.NoError(t, r2.ChangeRole("alice", "bob", entity.RoleMember, moderation.ActionDemote))
		// Bob lost moderation powers with the role.
		msg := appendMsg(t, r2, "alice", "pinned?")
		_, err := r2.Pin("bob", msg.Id)
		require.ErrorIs(t, err, errcode.ErrPermissionDenied)
	})
}

func TestRoom_RemoveParticipant(t *testing.T) {
	r := testRoom(t)

	t.Run("AdminRemovesMember", func(t *testing.T) {
		require.NoError(t, r.RemoveParticipant("alice", "carol"))
		assert.False(t, r.HasUser("carol"))
	})

	t.Run("AlreadyGoneIsConflict", func(t *testing.T) {
		require.ErrorIs(t, r.RemoveParticipant("alice", "carol"), errcode.ErrConflict)
	})

	t.Run("SelfRejected", func(t *testing.T) {
		require.ErrorIs(t, r.RemoveParticipant("alice", "alice"), errcode.ErrSelfTarget)
	})

	t.Run("ModeratorCannotRemoveAdmin", func(t *testing.T) {
		require.ErrorIs(t, r.RemoveParticipant("bob", "alice"), errcode.ErrPermissionDenied)
	})

	t.Run("RemovedUserLosesSnapshotAccess", func(t *testing.T) {
		_, err := r.Snapshot("carol")
		require.ErrorIs(t, err, errcode.ErrNotParticipant)
	})
}

func TestRoom_MarkRead(t *testing.T) {
	r := testRoom(t)
	m1 := appendMsg(t, r, "alice", "one")
	m2 := appendMsg(t, r, "alice", "two")

	changed, err := r.MarkRead("bob", []string{m1.Id, m2.Id, "no-such"})
	require.NoError(t, err)
	assert.Equal(t, []string{m1.Id, m2.Id}, changed)

	// Receipts are monotonic.
	changed, err = r.MarkRead("bob", []string{m1.Id})
	require.NoError(t, err)
	assert.Empty(t, changed)

	_, err = r.MarkRead("mallory", []string{m1.Id})
	require.ErrorIs(t, err, errcode.ErrNotParticipant)
}

func TestRoom_Presence(t *testing.T) {
	r := testRoom(t)

	assert.True(t, r.SetPresence("bob", true))
	assert.False(t, r.SetPresence("bob", true), "repeat transitions report no change")
	assert.True(t, r.SetPresence("bob", false))
	assert.False(t, r.SetPresence("mallory", true))
}

func TestRoom_SnapshotIsolation(t *testing.T) {
	r := testRoom(t)
	msg := appendMsg(t, r, "alice", "original")

	conv, err := r.Snapshot("alice")
	require.NoError(t, err)
	conv.Messages[0].Content = "mutated"
	conv.Participants[0].Role = entity.RoleMember

	again, err := r.Snapshot("alice")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Message(msg.Id).Content)
	assert.Equal(t, entity.RoleAdmin, again.RoleOf("alice"))
}
