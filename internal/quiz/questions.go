// Package quiz covers the shared question set of a session and the per-client
// quiz progression engine.
package quiz

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

type QuestionsConfig struct {
	Store docstore.Store
	Pool  PoolLoader
	// PerSession defaults to domain.QuestionsPerSession.
	PerSession int
}

// Questions selects, persists and serves the shared question set per session.
type Questions struct {
	store      docstore.Store
	pool       PoolLoader
	perSession int
	rnd        *rand.Rand
}

func NewQuestions(c QuestionsConfig) *Questions {
	perSession := c.PerSession
	if perSession == 0 {
		perSession = domain.QuestionsPerSession
	}
	return &Questions{
		store:      c.Store,
		pool:       c.Pool,
		perSession: perSession,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate draws the session's question set from the global pool and persists
// it in one transaction. The commit is guarded on the session's
// questionsVersion still being zero, so two creators racing generation cannot
// clobber each other: the loser gets ErrQuestionsExist.
func (s *Questions) Generate(ctx context.Context, code string) ([]domain.Question, error) {
	questions, err := s.draw(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionPoolTooSmall) {
			return nil, fmt.Errorf("generate questions for %s: %w", code, err)
		}
		return nil, fmt.Errorf("generate questions for %s: %w", code, domain.BackendError(err))
	}

	err = s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		sess, err := tx.Get(docstore.SessionPath(code))
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		if sess.Int("questionsVersion") != 0 {
			return domain.ErrQuestionsExist
		}
		tx.Set(docstore.SessionPath(code), docstore.Fields{"questionsVersion": 1})
		for i, q := range questions {
			tx.Set(docstore.QuestionPath(code, i), questionFields(q))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrQuestionsExist) {
			return nil, err
		}
		return nil, fmt.Errorf("generate questions for %s: %w", code, domain.BackendError(err))
	}

	log.Info().Str("session", code).Int("count", len(questions)).Msg("quiz: question set generated")
	return questions, nil
}

// Regenerate deletes the stored set and draws a fresh one. Leader only; the
// version bump keeps stale Generate calls from sneaking in afterwards.
func (s *Questions) Regenerate(ctx context.Context, code, byUserID string) ([]domain.Question, error) {
	questions, err := s.draw(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionPoolTooSmall) {
			return nil, fmt.Errorf("regenerate questions for %s: %w", code, err)
		}
		return nil, fmt.Errorf("regenerate questions for %s: %w", code, domain.BackendError(err))
	}

	err = s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		sess, err := tx.Get(docstore.SessionPath(code))
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		by, err := tx.Get(docstore.MemberPath(code, byUserID))
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return domain.ErrMemberNotFound
			}
			return err
		}
		if !by.Bool("isLeader") {
			return domain.ErrNotLeader
		}

		existing, err := tx.List(docstore.QuestionsPrefix(code))
		if err != nil {
			return err
		}
		for path := range existing {
			tx.Delete(path)
		}
		tx.Set(docstore.SessionPath(code), docstore.Fields{"questionsVersion": sess.Int("questionsVersion") + 1})
		for i, q := range questions {
			tx.Set(docstore.QuestionPath(code, i), questionFields(q))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrMemberNotFound) || errors.Is(err, domain.ErrNotLeader) {
			return nil, err
		}
		return nil, fmt.Errorf("regenerate questions for %s: %w", code, domain.BackendError(err))
	}

	log.Info().Str("session", code).Str("by", byUserID).Msg("quiz: question set regenerated")
	return questions, nil
}

// ForSession returns the stored set in its stable order.
func (s *Questions) ForSession(ctx context.Context, code string) ([]domain.Question, error) {
	docs, err := s.store.List(ctx, docstore.QuestionsPrefix(code))
	if err != nil {
		return nil, fmt.Errorf("questions for %s: %w", code, domain.BackendError(err))
	}
	paths := make([]string, 0, len(docs))
	for path := range docs {
		paths = append(paths, path)
	}
	// Paths carry zero-padded indexes, so lexicographic order is question order.
	sort.Strings(paths)

	questions := make([]domain.Question, 0, len(paths))
	for _, path := range paths {
		questions = append(questions, questionFromFields(docs[path]))
	}
	return questions, nil
}

// draw picks questions uniformly without replacement and shuffles each
// question's answers, recording where the correct one landed.
func (s *Questions) draw(ctx context.Context) ([]domain.Question, error) {
	pool, err := s.pool.LoadPool(ctx)
	if err != nil {
		return nil, err
	}
	if len(pool) < s.perSession {
		return nil, fmt.Errorf("%w: have %d, need %d", domain.ErrQuestionPoolTooSmall, len(pool), s.perSession)
	}

	picks := s.rnd.Perm(len(pool))[:s.perSession]
	questions := make([]domain.Question, 0, s.perSession)
	for _, i := range picks {
		questions = append(questions, shuffleAnswers(pool[i], s.rnd))
	}
	return questions, nil
}

func shuffleAnswers(q domain.PoolQuestion, rnd *rand.Rand) domain.Question {
	answers := make([]string, 0, len(q.Wrong)+1)
	answers = append(answers, q.Correct)
	answers = append(answers, q.Wrong...)

	correct := 0
	rnd.Shuffle(len(answers), func(i, j int) {
		answers[i], answers[j] = answers[j], answers[i]
		switch correct {
		case i:
			correct = j
		case j:
			correct = i
		}
	})

	return domain.Question{
		ID:           q.ID,
		Prompt:       q.Prompt,
		Answers:      answers,
		CorrectIndex: correct,
	}
}

func questionFields(q domain.Question) docstore.Fields {
	return docstore.Fields{
		"id":           q.ID,
		"prompt":       q.Prompt,
		"answers":      q.Answers,
		"correctIndex": q.CorrectIndex,
	}
}

func questionFromFields(f docstore.Fields) domain.Question {
	return domain.Question{
		ID:           f.Str("id"),
		Prompt:       f.Str("prompt"),
		Answers:      f.Strs("answers"),
		CorrectIndex: f.Int("correctIndex"),
	}
}
