package services

import (
	"context"
	"errors"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/ports"

	"go.uber.org/zap"
)

type rosterService struct {
	repo   ports.RosterRepository
	logger *zap.SugaredLogger
}

// NewRosterService tracks presence and positions per room on top of the
// configured repository.
func NewRosterService(repo ports.RosterRepository, logger *zap.Logger) ports.RosterService {
	return &rosterService{repo: repo, logger: logger.Sugar()}
}

func (s *rosterService) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID, position domain.Position) error {
	entry := domain.RosterEntry{UserID: userID, Position: position}
	if err := s.repo.Upsert(ctx, roomID, entry); err != nil {
		return err
	}
	s.logger.Infow("user joined room", "room_id", roomID, "user_id", userID)
	return nil
}

func (s *rosterService) Move(ctx context.Context, roomID domain.RoomID, userID domain.UserID, position domain.Position) error {
	if _, err := s.repo.Get(ctx, roomID, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrUserNotFound
		}
		return err
	}
	return s.repo.Upsert(ctx, roomID, domain.RosterEntry{UserID: userID, Position: position})
}

func (s *rosterService) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if err := s.repo.Remove(ctx, roomID, userID); err != nil {
		return err
	}
	s.logger.Infow("user left room", "room_id", roomID, "user_id", userID)
	return nil
}

func (s *rosterService) Snapshot(ctx context.Context, roomID domain.RoomID) ([]domain.RosterEntry, error) {
	return s.repo.List(ctx, roomID)
}
