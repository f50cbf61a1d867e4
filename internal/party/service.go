// Package party owns session membership: creation, joining, leaving, kicks,
// leader election, and the live roster feed.
package party

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces and persists a session's question set. Implemented by
// the quiz package; injected here so session creation can trigger generation.
type Generator interface {
	Generate(ctx context.Context, code string) ([]domain.Question, error)
}

type Config struct {
	Store     docstore.Store
	Questions Generator
	// Capacity defaults to domain.MaxPartySize.
	Capacity int
}

type Service struct {
	store    docstore.Store
	gen      Generator
	capacity int
	rnd      *rand.Rand
}

func NewService(c Config) *Service {
	capacity := c.Capacity
	if capacity == 0 {
		capacity = domain.MaxPartySize
	}
	return &Service{
		store:    c.Store,
		gen:      c.Questions,
		capacity: capacity,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewCode draws a 6-character alphanumeric session code. Codes are generated
// client-side in the original design with no uniqueness check; a collision is
// possible and unhandled.
func NewCode(rnd *rand.Rand) string {
	buf := make([]byte, domain.CodeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}

// Create persists a new session with the creator as sole member and leader,
// then triggers question generation for it.
func (s *Service) Create(ctx context.Context, creator domain.Profile) (string, error) {
	code := NewCode(s.rnd)

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		tx.Set(docstore.SessionPath(code), docstore.Fields{
			"creatorId":        creator.UserID,
			"phase":            string(domain.PhaseLobby),
			"questionsVersion": 0,
		})
		tx.Set(docstore.MemberPath(code, creator.UserID), memberFields(creator, true))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", domain.BackendError(err))
	}

	if s.gen != nil {
		if _, err := s.gen.Generate(ctx, code); err != nil {
			// The code was never handed to anyone, so the half-built session
			// would only leak. Best-effort removal.
			cleanupErr := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
				tx.Delete(docstore.MemberPath(code, creator.UserID))
				tx.Delete(docstore.SessionPath(code))
				return nil
			})
			if cleanupErr != nil {
				log.Warn().Err(cleanupErr).Str("session", code).Msg("party: cleanup after failed generation")
			}
			return "", fmt.Errorf("create session %s: %w", code, err)
		}
	}

	log.Info().Str("session", code).Str("user", creator.UserID).Msg("party: session created")
	return code, nil
}

// Join appends the profile as a regular member. Fails with ErrSessionNotFound
// if the session document is missing and ErrSessionFull at capacity.
func (s *Service) Join(ctx context.Context, code string, profile domain.Profile) error {
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.SessionPath(code)); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		members, err := tx.List(docstore.MembersPrefix(code))
		if err != nil {
			return err
		}
		if len(members) >= s.capacity {
			return domain.ErrSessionFull
		}
		tx.Set(docstore.MemberPath(code, profile.UserID), memberFields(profile, false))
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionFull) {
			return err
		}
		return fmt.Errorf("join session %s: %w", code, domain.BackendError(err))
	}

	log.Info().Str("session", code).Str("user", profile.UserID).Msg("party: member joined")
	return nil
}

// Leave removes the member. A departing leader hands leadership to the first
// remaining member in roster sort order; the last member out deletes the
// session and its question set.
func (s *Service) Leave(ctx context.Context, code, userID string) error {
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		members, err := tx.List(docstore.MembersPrefix(code))
		if err != nil {
			return err
		}
		leaving, ok := members[docstore.MemberPath(code, userID)]
		if !ok {
			return domain.ErrMemberNotFound
		}
		tx.Delete(docstore.MemberPath(code, userID))
		delete(members, docstore.MemberPath(code, userID))

		if len(members) == 0 {
			questions, err := tx.List(docstore.QuestionsPrefix(code))
			if err != nil {
				return err
			}
			for path := range questions {
				tx.Delete(path)
			}
			tx.Delete(docstore.SessionPath(code))
			return nil
		}

		if leaving.Bool("isLeader") {
			successor := successorPath(members)
			tx.Set(successor, docstore.Fields{"isLeader": true})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return err
		}
		return fmt.Errorf("leave session %s: %w", code, domain.BackendError(err))
	}

	log.Info().Str("session", code).Str("user", userID).Msg("party: member left")
	return nil
}

// Kick marks the target as kicked (observed by its client through the live
// feed) and removes it. Leadership is checked here, not trusted to the UI.
func (s *Service) Kick(ctx context.Context, code, byUserID, targetID string) error {
	if byUserID == targetID {
		return fmt.Errorf("kick in session %s: leader cannot kick self", code)
	}

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		members, err := tx.List(docstore.MembersPrefix(code))
		if err != nil {
			return err
		}
		by, ok := members[docstore.MemberPath(code, byUserID)]
		if !ok {
			return domain.ErrMemberNotFound
		}
		if !by.Bool("isLeader") {
			return domain.ErrNotLeader
		}
		if _, ok := members[docstore.MemberPath(code, targetID)]; !ok {
			return domain.ErrMemberNotFound
		}
		// The kicked flag is published before the delete so the target's
		// subscription sees why it is being removed.
		tx.Set(docstore.MemberPath(code, targetID), docstore.Fields{"isKicked": true})
		tx.Delete(docstore.MemberPath(code, targetID))
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) || errors.Is(err, domain.ErrNotLeader) {
			return err
		}
		return fmt.Errorf("kick from session %s: %w", code, domain.BackendError(err))
	}

	log.Info().Str("session", code).Str("user", targetID).Str("by", byUserID).Msg("party: member kicked")
	return nil
}

// StartQuiz flips the session into the quiz phase and arms every member's
// quiz state. Leader only.
func (s *Service) StartQuiz(ctx context.Context, code, byUserID string) error {
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if _, err := tx.Get(docstore.SessionPath(code)); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		members, err := tx.List(docstore.MembersPrefix(code))
		if err != nil {
			return err
		}
		by, ok := members[docstore.MemberPath(code, byUserID)]
		if !ok {
			return domain.ErrMemberNotFound
		}
		if !by.Bool("isLeader") {
			return domain.ErrNotLeader
		}
		tx.Set(docstore.SessionPath(code), docstore.Fields{"phase": string(domain.PhaseInQuiz)})
		for path := range members {
			tx.Set(path, docstore.Fields{"inQuiz": true, "playerScore": 0})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrMemberNotFound) || errors.Is(err, domain.ErrNotLeader) {
			return err
		}
		return fmt.Errorf("start quiz in session %s: %w", code, domain.BackendError(err))
	}

	log.Info().Str("session", code).Str("by", byUserID).Msg("party: quiz started")
	return nil
}

// Session reads the session document.
func (s *Service) Session(ctx context.Context, code string) (domain.Session, error) {
	fields, err := s.store.Get(ctx, docstore.SessionPath(code))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("get session %s: %w", code, domain.BackendError(err))
	}
	return sessionFromFields(code, fields), nil
}

// Roster returns the current membership in display order: leader first, then
// alphabetical by display name.
func (s *Service) Roster(ctx context.Context, code string) ([]domain.Member, error) {
	docs, err := s.store.List(ctx, docstore.MembersPrefix(code))
	if err != nil {
		return nil, fmt.Errorf("roster for session %s: %w", code, domain.BackendError(err))
	}
	return rosterFromDocs(docs), nil
}

func memberFields(p domain.Profile, leader bool) docstore.Fields {
	return docstore.Fields{
		"userId":          p.UserID,
		"displayName":     p.Username,
		"level":           p.Level,
		"questsCompleted": p.QuestsCompleted,
		"gamesPlayed":     p.GamesPlayed,
		"gamesWon":        p.GamesWon,
		"isLeader":        leader,
		"isKicked":        false,
		"inQuiz":          false,
		"playerScore":     0,
	}
}

func memberFromFields(f docstore.Fields) domain.Member {
	return domain.Member{
		UserID:          f.Str("userId"),
		DisplayName:     f.Str("displayName"),
		Level:           f.Int("level"),
		QuestsCompleted: f.Strs("questsCompleted"),
		GamesPlayed:     f.Int("gamesPlayed"),
		GamesWon:        f.Int("gamesWon"),
		IsLeader:        f.Bool("isLeader"),
		IsKicked:        f.Bool("isKicked"),
		InQuiz:          f.Bool("inQuiz"),
		PlayerScore:     f.Int("playerScore"),
	}
}

func sessionFromFields(code string, f docstore.Fields) domain.Session {
	return domain.Session{
		Code:             code,
		CreatorID:        f.Str("creatorId"),
		Phase:            domain.Phase(f.Str("phase")),
		QuestionsVersion: f.Int("questionsVersion"),
	}
}

func rosterFromDocs(docs map[string]docstore.Fields) []domain.Member {
	members := make([]domain.Member, 0, len(docs))
	for _, f := range docs {
		members = append(members, memberFromFields(f))
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].IsLeader != members[j].IsLeader {
			return members[i].IsLeader
		}
		if members[i].DisplayName != members[j].DisplayName {
			return members[i].DisplayName < members[j].DisplayName
		}
		return members[i].UserID < members[j].UserID
	})
	return members
}

// successorPath picks the leadership successor: first remaining member by the
// roster's stable sort order.
func successorPath(members map[string]docstore.Fields) string {
	type cand struct {
		path string
		name string
		id   string
	}
	cands := make([]cand, 0, len(members))
	for path, f := range members {
		cands = append(cands, cand{path: path, name: f.Str("displayName"), id: f.Str("userId")})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].name != cands[j].name {
			return cands[i].name < cands[j].name
		}
		return cands[i].id < cands[j].id
	})
	return cands[0].path
}
