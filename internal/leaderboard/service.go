package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
)

type Config struct {
	Store docstore.Store
}

// Service reads members or profiles out of the document store and ranks them.
type Service struct {
	store docstore.Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

// Session ranks the current members of a session by playerScore.
func (s *Service) Session(ctx context.Context, code string) ([]domain.RankedMember, error) {
	if _, err := s.store.Get(ctx, docstore.SessionPath(code)); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("leaderboard for %s: %w", code, domain.BackendError(err))
	}

	docs, err := s.store.List(ctx, docstore.MembersPrefix(code))
	if err != nil {
		return nil, fmt.Errorf("leaderboard for %s: %w", code, domain.BackendError(err))
	}

	members := make([]domain.Member, 0, len(docs))
	for _, f := range docs {
		members = append(members, domain.Member{
			UserID:      f.Str("userId"),
			DisplayName: f.Str("displayName"),
			Level:       f.Int("level"),
			GamesPlayed: f.Int("gamesPlayed"),
			GamesWon:    f.Int("gamesWon"),
			IsLeader:    f.Bool("isLeader"),
			PlayerScore: f.Int("playerScore"),
		})
	}
	return Rank(members), nil
}

// Global ranks every durable profile.
func (s *Service) Global(ctx context.Context) ([]domain.RankedProfile, error) {
	docs, err := s.store.List(ctx, docstore.ProfilesPrefix)
	if err != nil {
		return nil, fmt.Errorf("global leaderboard: %w", domain.BackendError(err))
	}

	profiles := make([]domain.Profile, 0, len(docs))
	for _, f := range docs {
		profiles = append(profiles, domain.Profile{
			UserID:      f.Str("userId"),
			Username:    f.Str("username"),
			Level:       f.Int("level"),
			Exp:         f.Int("exp"),
			GamesPlayed: f.Int("multiplayerGamesPlayed"),
			GamesWon:    f.Int("multiplayerGamesWon"),
		})
	}
	return RankProfiles(profiles), nil
}

// PlayerRank returns the dense rank of one player on the global leaderboard.
func (s *Service) PlayerRank(ctx context.Context, username string) (int, error) {
	ranked, err := s.Global(ctx)
	if err != nil {
		return 0, err
	}
	rank, ok := RankOf(ranked, username)
	if !ok {
		return 0, fmt.Errorf("global leaderboard: no profile for %s", username)
	}
	return rank, nil
}
