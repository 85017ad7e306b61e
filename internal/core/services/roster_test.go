package services

import (
	"context"
	"testing"

	"zonecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRosterRepo struct {
	entries map[domain.RoomID]map[domain.UserID]domain.RosterEntry
}

func newFakeRosterRepo() *fakeRosterRepo {
	return &fakeRosterRepo{entries: make(map[domain.RoomID]map[domain.UserID]domain.RosterEntry)}
}

func (r *fakeRosterRepo) Upsert(ctx context.Context, roomID domain.RoomID, entry domain.RosterEntry) error {
	if r.entries[roomID] == nil {
		r.entries[roomID] = make(map[domain.UserID]domain.RosterEntry)
	}
	r.entries[roomID][entry.UserID] = entry
	return nil
}

func (r *fakeRosterRepo) Remove(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if _, ok := r.entries[roomID][userID]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.entries[roomID], userID)
	return nil
}

func (r *fakeRosterRepo) Get(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.RosterEntry, error) {
	entry, ok := r.entries[roomID][userID]
	if !ok {
		return domain.RosterEntry{}, domain.ErrUserNotFound
	}
	return entry, nil
}

func (r *fakeRosterRepo) List(ctx context.Context, roomID domain.RoomID) ([]domain.RosterEntry, error) {
	out := make([]domain.RosterEntry, 0, len(r.entries[roomID]))
	for _, entry := range r.entries[roomID] {
		out = append(out, entry)
	}
	return out, nil
}

func TestRosterServiceJoinMoveLeave(t *testing.T) {
	ctx := context.Background()
	svc := NewRosterService(newFakeRosterRepo(), zap.NewNop())

	require.NoError(t, svc.Join(ctx, "lobby", "alice", domain.Position{X: 1, Y: 2}))

	require.NoError(t, svc.Move(ctx, "lobby", "alice", domain.Position{X: 5, Y: 6}))
	snapshot, err := svc.Snapshot(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.Position{X: 5, Y: 6}, snapshot[0].Position)

	require.NoError(t, svc.Leave(ctx, "lobby", "alice"))
	snapshot, err = svc.Snapshot(ctx, "lobby")
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestRosterServiceMoveUnknownUser(t *testing.T) {
	svc := NewRosterService(newFakeRosterRepo(), zap.NewNop())

	err := svc.Move(context.Background(), "lobby", "ghost", domain.Position{})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
