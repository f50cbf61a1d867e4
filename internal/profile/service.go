// Package profile manages durable player records: leveling, quest assignment
// and lifetime multiplayer counters.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
)

// QuestLoader fetches the quest catalog from a backing store.
type QuestLoader interface {
	LoadQuests(ctx context.Context) ([]domain.Quest, error)
}

type Config struct {
	Store  docstore.Store
	Quests QuestLoader
}

type Service struct {
	store  docstore.Store
	quests QuestLoader
	rnd    *rand.Rand
}

func NewService(c Config) *Service {
	return &Service{
		store:  c.Store,
		quests: c.Quests,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get loads the profile, creating it with defaults (level 1, no experience,
// three quests drawn from the catalog) on first access. A read failure is
// returned to the caller, never fatal.
func (s *Service) Get(ctx context.Context, userID, username string) (domain.Profile, error) {
	fields, err := s.store.Get(ctx, docstore.ProfilePath(userID))
	if err == nil {
		return profileFromFields(fields), nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return domain.Profile{}, fmt.Errorf("get profile %s: %w", userID, domain.BackendError(err))
	}

	quests, err := s.drawQuests(ctx, nil, domain.QuestsPerPlayer)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("create profile %s: %w", userID, err)
	}

	p := domain.Profile{
		UserID:   userID,
		Username: username,
		Level:    1,
		Quests:   quests,
	}
	if err := s.store.Set(ctx, docstore.ProfilePath(userID), profileFields(p)); err != nil {
		return domain.Profile{}, fmt.Errorf("create profile %s: %w", userID, domain.BackendError(err))
	}

	log.Info().Str("user", userID).Str("username", username).Msg("profile: created with defaults")
	return p, nil
}

// AddExp grants experience, carrying overflow across level-ups.
func (s *Service) AddExp(ctx context.Context, userID string, gained int) (domain.Profile, error) {
	var updated domain.Profile
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		fields, err := tx.Get(docstore.ProfilePath(userID))
		if err != nil {
			return err
		}
		p := profileFromFields(fields)
		p.Level, p.Exp = applyExp(p.Level, p.Exp, gained)
		tx.Set(docstore.ProfilePath(userID), docstore.Fields{"level": p.Level, "exp": p.Exp})
		updated = p
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.Profile{}, fmt.Errorf("add exp for %s: %w", userID, err)
		}
		return domain.Profile{}, fmt.Errorf("add exp for %s: %w", userID, domain.BackendError(err))
	}
	return updated, nil
}

// CompleteQuest grants the quest's experience, records the completion and
// replaces the quest so the profile keeps exactly three.
func (s *Service) CompleteQuest(ctx context.Context, userID, questID string) (domain.Profile, error) {
	catalog, err := s.quests.LoadQuests(ctx)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("complete quest for %s: %w", userID, domain.BackendError(err))
	}
	byID := make(map[string]domain.Quest, len(catalog))
	for _, q := range catalog {
		byID[q.ID] = q
	}

	var updated domain.Profile
	err = s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		fields, err := tx.Get(docstore.ProfilePath(userID))
		if err != nil {
			return err
		}
		p := profileFromFields(fields)

		held := -1
		for i, id := range p.Quests {
			if id == questID {
				held = i
				break
			}
		}
		if held < 0 {
			return domain.ErrQuestNotFound
		}

		quest, ok := byID[questID]
		if !ok {
			return domain.ErrQuestNotFound
		}

		p.Level, p.Exp = applyExp(p.Level, p.Exp, quest.Exp)
		p.QuestsCompleted = append(p.QuestsCompleted, questID)

		heldOthers := make([]string, 0, len(p.Quests)-1)
		for i, id := range p.Quests {
			if i != held {
				heldOthers = append(heldOthers, id)
			}
		}

		// Prefer a quest the player has never seen; once the catalog is
		// exhausted, completed quests become eligible again so the profile
		// still holds three.
		exclude := append(append([]string{questID}, heldOthers...), p.QuestsCompleted...)
		replacement, err := s.drawQuests(ctx, exclude, 1)
		if err != nil {
			replacement, err = s.drawQuests(ctx, heldOthers, 1)
			if err != nil {
				return err
			}
		}
		p.Quests[held] = replacement[0]

		tx.Set(docstore.ProfilePath(userID), profileFields(p))
		updated = p
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuestNotFound) {
			return domain.Profile{}, err
		}
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.Profile{}, fmt.Errorf("complete quest for %s: %w", userID, err)
		}
		return domain.Profile{}, fmt.Errorf("complete quest for %s: %w", userID, domain.BackendError(err))
	}

	log.Info().Str("user", userID).Str("quest", questID).Int("level", updated.Level).Msg("profile: quest completed")
	return updated, nil
}

// RecordGame applies quiz completion aggregates: one games-played increment,
// plus a games-won increment for a strict winner.
func (s *Service) RecordGame(ctx context.Context, userID string, won bool) error {
	path := docstore.ProfilePath(userID)
	if err := s.store.Increment(ctx, path, "multiplayerGamesPlayed", 1); err != nil {
		return fmt.Errorf("record game for %s: %w", userID, domain.BackendError(err))
	}
	if won {
		if err := s.store.Increment(ctx, path, "multiplayerGamesWon", 1); err != nil {
			return fmt.Errorf("record game for %s: %w", userID, domain.BackendError(err))
		}
	}
	return nil
}

// drawQuests picks n quests uniformly from the catalog, avoiding the excluded
// IDs when enough remain.
func (s *Service) drawQuests(ctx context.Context, exclude []string, n int) ([]string, error) {
	catalog, err := s.quests.LoadQuests(ctx)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	eligible := make([]string, 0, len(catalog))
	for _, q := range catalog {
		if _, ok := excluded[q.ID]; !ok {
			eligible = append(eligible, q.ID)
		}
	}
	if len(eligible) < n {
		return nil, fmt.Errorf("quest catalog too small: have %d eligible, need %d", len(eligible), n)
	}

	picks := s.rnd.Perm(len(eligible))[:n]
	out := make([]string, 0, n)
	for _, i := range picks {
		out = append(out, eligible[i])
	}
	return out, nil
}

// StaticQuestLoader serves a fixed catalog (tests, demos, no-Postgres setups).
type StaticQuestLoader struct {
	quests []domain.Quest
}

func NewStaticQuestLoader(quests []domain.Quest) *StaticQuestLoader {
	return &StaticQuestLoader{quests: quests}
}

func (l *StaticQuestLoader) LoadQuests(_ context.Context) ([]domain.Quest, error) {
	return l.quests, nil
}

func profileFields(p domain.Profile) docstore.Fields {
	return docstore.Fields{
		"userId":                 p.UserID,
		"username":               p.Username,
		"level":                  p.Level,
		"exp":                    p.Exp,
		"quests":                 p.Quests,
		"questsCompleted":        p.QuestsCompleted,
		"multiplayerGamesPlayed": p.GamesPlayed,
		"multiplayerGamesWon":    p.GamesWon,
	}
}

func profileFromFields(f docstore.Fields) domain.Profile {
	return domain.Profile{
		UserID:          f.Str("userId"),
		Username:        f.Str("username"),
		Level:           f.Int("level"),
		Exp:             f.Int("exp"),
		Quests:          f.Strs("quests"),
		QuestsCompleted: f.Strs("questsCompleted"),
		GamesPlayed:     f.Int("multiplayerGamesPlayed"),
		GamesWon:        f.Int("multiplayerGamesWon"),
	}
}
