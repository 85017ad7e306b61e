package memory

import (
	"context"
	"testing"

	"zonecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterUpsertGetRemove(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRosterRepository()

	entry := domain.RosterEntry{UserID: "alice", Position: domain.Position{X: 1, Y: 2}}
	require.NoError(t, repo.Upsert(ctx, "lobby", entry))

	got, err := repo.Get(ctx, "lobby", "alice")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	// Upsert replaces the position for the same user.
	moved := domain.RosterEntry{UserID: "alice", Position: domain.Position{X: 9, Y: 9}}
	require.NoError(t, repo.Upsert(ctx, "lobby", moved))
	got, err = repo.Get(ctx, "lobby", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Position{X: 9, Y: 9}, got.Position)

	require.NoError(t, repo.Remove(ctx, "lobby", "alice"))
	_, err = repo.Get(ctx, "lobby", "alice")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestRosterRemoveUnknown(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRosterRepository()

	assert.ErrorIs(t, repo.Remove(ctx, "lobby", "ghost"), domain.ErrUserNotFound)

	require.NoError(t, repo.Upsert(ctx, "lobby", domain.RosterEntry{UserID: "alice"}))
	assert.ErrorIs(t, repo.Remove(ctx, "lobby", "ghost"), domain.ErrUserNotFound)
}

func TestRosterListSortedByUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRosterRepository()

	for _, id := range []domain.UserID{"charlie", "alice", "bob"} {
		require.NoError(t, repo.Upsert(ctx, "lobby", domain.RosterEntry{UserID: id}))
	}

	entries, err := repo.List(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.UserID("alice"), entries[0].UserID)
	assert.Equal(t, domain.UserID("bob"), entries[1].UserID)
	assert.Equal(t, domain.UserID("charlie"), entries[2].UserID)

	empty, err := repo.List(ctx, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRosterRoomsAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRosterRepository()

	require.NoError(t, repo.Upsert(ctx, "lobby", domain.RosterEntry{UserID: "alice"}))
	require.NoError(t, repo.Upsert(ctx, "garden", domain.RosterEntry{UserID: "bob"}))

	_, err := repo.Get(ctx, "garden", "alice")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	entries, err := repo.List(ctx, "garden")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.UserID("bob"), entries[0].UserID)
}
