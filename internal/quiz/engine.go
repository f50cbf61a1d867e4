package quiz

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
)

// State is the engine's position within the current question.
type State int

const (
	StatePresenting State = iota
	StateLocked
	StateRevealing
	StateTransitioning
	StateComplete
)

func (s State) String() string {
	switch s {
	case StatePresenting:
		return "presenting"
	case StateLocked:
		return "locked"
	case StateRevealing:
		return "revealing"
	case StateTransitioning:
		return "transitioning"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// NoAnswer marks a question locked by the countdown instead of a submission.
const NoAnswer = -1

// Update is one engine state change pushed to the owning client.
type Update struct {
	State         State
	QuestionIndex int
	Question      domain.Question
	Remaining     int
	Selected      int
	Correct       bool
	CorrectIndex  int
	Score         int
}

// ProfileRecorder applies the completion aggregates to the player's durable
// profile. Implemented by the profile service.
type ProfileRecorder interface {
	RecordGame(ctx context.Context, userID string, won bool) error
}

type EngineConfig struct {
	Store    docstore.Store
	Clock    clockwork.Clock
	Profiles ProfileRecorder
	Code     string
	UserID   string
	// Leader engines additionally flip the session phase on completion.
	Leader    bool
	Questions []domain.Question
	// Countdown is the number of time units a question stays open. Default 10.
	Countdown int
	// Step is one time unit: countdown resolution and the reveal/transition
	// delays. Default 1s.
	Step time.Duration
}

// Engine drives one client through the quiz: Presenting -> Locked ->
// Revealing -> Transitioning per question, Complete after the last one.
//
// Each client runs its own countdown from the moment it entered Presenting;
// timers are not synchronized across members. The resulting skew is accepted
// for casual play rather than hidden behind a shared clock.
type Engine struct {
	cfg     EngineConfig
	answers chan submission
	updates chan Update
}

type submission struct {
	question int
	answer   int
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Countdown == 0 {
		cfg.Countdown = 10
	}
	if cfg.Step == 0 {
		cfg.Step = time.Second
	}
	return &Engine{
		cfg:     cfg,
		answers: make(chan submission, domain.MaxPartySize),
		updates: make(chan Update, 16),
	}
}

// Updates delivers state changes until the engine finishes. The channel is
// closed when Run returns.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Submit records the user's answer for a question. Only the first submission
// while the question is still presenting counts; anything later, or aimed at
// a different question, is a no-op.
func (e *Engine) Submit(question, answer int) {
	select {
	case e.answers <- submission{question: question, answer: answer}:
	default:
	}
}

// Run executes the full quiz and applies the completion side effects. It
// returns when every question has been played or the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.updates)

	score := 0
	for i, q := range e.cfg.Questions {
		if err := e.emit(ctx, Update{State: StatePresenting, QuestionIndex: i, Question: q, Remaining: e.cfg.Countdown, Selected: NoAnswer, Score: score}); err != nil {
			return err
		}

		selected, err := e.countdown(ctx, i)
		if err != nil {
			return err
		}

		if err := e.emit(ctx, Update{State: StateLocked, QuestionIndex: i, Selected: selected, Score: score}); err != nil {
			return err
		}

		correct := selected == q.CorrectIndex
		if correct {
			score++
			if err := e.cfg.Store.Increment(ctx, docstore.MemberPath(e.cfg.Code, e.cfg.UserID), "playerScore", 1); err != nil {
				log.Error().Err(err).Str("session", e.cfg.Code).Str("user", e.cfg.UserID).Msg("quiz: score increment failed")
			}
		}

		if err := e.emit(ctx, Update{State: StateRevealing, QuestionIndex: i, Selected: selected, Correct: correct, CorrectIndex: q.CorrectIndex, Score: score}); err != nil {
			return err
		}
		if err := e.wait(ctx); err != nil {
			return err
		}

		if err := e.emit(ctx, Update{State: StateTransitioning, QuestionIndex: i, Score: score}); err != nil {
			return err
		}
		if err := e.wait(ctx); err != nil {
			return err
		}
	}

	if err := e.emit(ctx, Update{State: StateComplete, QuestionIndex: len(e.cfg.Questions), Score: score}); err != nil {
		return err
	}
	return e.finalize(ctx, score)
}

// countdown waits for the first submission to the given question or for the
// timer to run out, whichever comes first.
func (e *Engine) countdown(ctx context.Context, question int) (int, error) {
	ticker := e.cfg.Clock.NewTicker(e.cfg.Step)
	defer ticker.Stop()

	remaining := e.cfg.Countdown
	for {
		select {
		case sub := <-e.answers:
			if sub.question != question {
				continue
			}
			return sub.answer, nil
		case <-ticker.Chan():
			remaining--
			if remaining <= 0 {
				return NoAnswer, nil
			}
			if err := e.emit(ctx, Update{State: StatePresenting, QuestionIndex: question, Remaining: remaining, Selected: NoAnswer}); err != nil {
				return NoAnswer, err
			}
		case <-ctx.Done():
			return NoAnswer, ctx.Err()
		}
	}
}

func (e *Engine) wait(ctx context.Context) error {
	select {
	case <-e.cfg.Clock.After(e.cfg.Step):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) emit(ctx context.Context, up Update) error {
	select {
	case e.updates <- up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finalize applies the completion side effects: the member leaves quiz mode,
// exactly one games-played increment lands on the durable profile, and a
// games-won increment only when this member's score is strictly highest.
// A tied top score means nobody takes the win. The leader's engine also moves
// the session phase to the leaderboard; everyone else detects that through
// their own subscription, so members may arrive there at slightly different
// times.
func (e *Engine) finalize(ctx context.Context, score int) error {
	selfPath := docstore.MemberPath(e.cfg.Code, e.cfg.UserID)
	if err := e.cfg.Store.Set(ctx, selfPath, docstore.Fields{"inQuiz": false}); err != nil {
		return fmt.Errorf("finish quiz in %s: %w", e.cfg.Code, err)
	}

	members, err := e.cfg.Store.List(ctx, docstore.MembersPrefix(e.cfg.Code))
	if err != nil {
		return fmt.Errorf("finish quiz in %s: %w", e.cfg.Code, err)
	}

	own := score
	if f, ok := members[selfPath]; ok {
		own = f.Int("playerScore")
	}
	won := true
	for path, f := range members {
		if path == selfPath {
			continue
		}
		if f.Int("playerScore") >= own {
			won = false
			break
		}
	}

	if e.cfg.Profiles != nil {
		if err := e.cfg.Profiles.RecordGame(ctx, e.cfg.UserID, won); err != nil {
			return fmt.Errorf("finish quiz in %s: %w", e.cfg.Code, err)
		}
	}

	if e.cfg.Leader {
		if err := e.cfg.Store.Set(ctx, docstore.SessionPath(e.cfg.Code), docstore.Fields{"phase": string(domain.PhaseLeaderboard)}); err != nil {
			return fmt.Errorf("finish quiz in %s: %w", e.cfg.Code, err)
		}
	}

	log.Info().Str("session", e.cfg.Code).Str("user", e.cfg.UserID).Int("score", own).Bool("won", won).Msg("quiz: complete")
	return nil
}
