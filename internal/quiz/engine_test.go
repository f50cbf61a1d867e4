package quiz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
	"quest-party-service/internal/infra/memory"
	"quest-party-service/internal/quiz"
)

func engineQuestions(n int) []domain.Question {
	questions := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, domain.Question{
			ID:           string(rune('a' + i)),
			Prompt:       "prompt",
			Answers:      []string{"w", "x", "y", "z"},
			CorrectIndex: i % domain.AnswersPerQuestion,
		})
	}
	return questions
}

func seedQuizMember(t *testing.T, store docstore.Store, code, userID string, leader bool, score int) {
	t.Helper()
	err := store.Set(context.Background(), docstore.MemberPath(code, userID), docstore.Fields{
		"userId":      userID,
		"displayName": userID,
		"isLeader":    leader,
		"inQuiz":      true,
		"playerScore": score,
	})
	if err != nil {
		t.Fatalf("seed member: %v", err)
	}
}

type fakeRecorder struct {
	mu    sync.Mutex
	games []recordedGame
}

type recordedGame struct {
	userID string
	won    bool
}

func (r *fakeRecorder) RecordGame(_ context.Context, userID string, won bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games = append(r.games, recordedGame{userID: userID, won: won})
	return nil
}

func (r *fakeRecorder) recorded() []recordedGame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedGame(nil), r.games...)
}

func TestEngineAnswerFlow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedSession(t, store, "ABC123", 1)
	seedQuizMember(t, store, "ABC123", "u1", true, 0)

	recorder := &fakeRecorder{}
	questions := engineQuestions(2)
	engine := quiz.NewEngine(quiz.EngineConfig{
		Store:     store,
		Profiles:  recorder,
		Code:      "ABC123",
		UserID:    "u1",
		Leader:    true,
		Questions: questions,
		Countdown: 100,
		Step:      5 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	var states []quiz.State
	finalScore := -1
	for up := range engine.Updates() {
		if len(states) == 0 || states[len(states)-1] != up.State {
			states = append(states, up.State)
		}
		switch up.State {
		case quiz.StatePresenting:
			if up.Remaining == 100 {
				// First presentation of the question: answer question 0
				// correctly, question 1 wrong.
				answer := questions[up.QuestionIndex].CorrectIndex
				if up.QuestionIndex == 1 {
					answer = (answer + 1) % domain.AnswersPerQuestion
				}
				engine.Submit(up.QuestionIndex, answer)
			}
		case quiz.StateRevealing:
			wantCorrect := up.QuestionIndex == 0
			if up.Correct != wantCorrect {
				t.Errorf("question %d: correct = %v", up.QuestionIndex, up.Correct)
			}
		case quiz.StateComplete:
			finalScore = up.Score
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []quiz.State{
		quiz.StatePresenting, quiz.StateLocked, quiz.StateRevealing, quiz.StateTransitioning,
		quiz.StatePresenting, quiz.StateLocked, quiz.StateRevealing, quiz.StateTransitioning,
		quiz.StateComplete,
	}
	if len(states) != len(want) {
		t.Fatalf("state sequence %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state sequence %v, want %v", states, want)
		}
	}
	if finalScore != 1 {
		t.Fatalf("final score %d, want 1", finalScore)
	}

	member, err := store.Get(ctx, docstore.MemberPath("ABC123", "u1"))
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.Int("playerScore") != 1 {
		t.Fatalf("stored score %d, want 1", member.Int("playerScore"))
	}
	if member.Bool("inQuiz") {
		t.Fatalf("member still marked in quiz after completion")
	}

	sess, err := store.Get(ctx, docstore.SessionPath("ABC123"))
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got := sess.Str("phase"); got != string(domain.PhaseLeaderboard) {
		t.Fatalf("session phase %q, want leaderboard", got)
	}

	games := recorder.recorded()
	if len(games) != 1 || games[0].userID != "u1" || !games[0].won {
		t.Fatalf("recorded games %+v, want single win for u1", games)
	}
}

func TestEngineIgnoresSubmissionForOtherQuestion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedSession(t, store, "ABC123", 1)
	seedQuizMember(t, store, "ABC123", "u1", false, 0)

	questions := engineQuestions(1)
	engine := quiz.NewEngine(quiz.EngineConfig{
		Store:     store,
		Code:      "ABC123",
		UserID:    "u1",
		Questions: questions,
		Countdown: 100,
		Step:      5 * time.Millisecond,
	})

	// A stale submission for a question that is not presenting must not lock
	// the current one.
	engine.Submit(7, 0)
	engine.Submit(0, questions[0].CorrectIndex)

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	for up := range engine.Updates() {
		if up.State == quiz.StateLocked && up.Selected != questions[0].CorrectIndex {
			t.Errorf("locked on %d, want the valid submission", up.Selected)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestEngineCountdownTimeout(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedSession(t, store, "ABC123", 1)
	seedQuizMember(t, store, "ABC123", "u1", false, 0)

	clock := clockwork.NewFakeClock()
	engine := quiz.NewEngine(quiz.EngineConfig{
		Store:     store,
		Clock:     clock,
		Code:      "ABC123",
		UserID:    "u1",
		Questions: engineQuestions(1),
		Countdown: 3,
		Step:      time.Second,
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	// Drive the fake clock one step per waiter until the engine finishes.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			clock.BlockUntil(1)
			clock.Advance(time.Second)
		}
	}()
	defer close(stop)

	var sawLocked bool
	for up := range engine.Updates() {
		switch up.State {
		case quiz.StateLocked:
			sawLocked = true
			if up.Selected != quiz.NoAnswer {
				t.Errorf("locked with %d, want NoAnswer", up.Selected)
			}
		case quiz.StateRevealing:
			if up.Correct {
				t.Errorf("timed-out question counted as correct")
			}
		case quiz.StateComplete:
			if up.Score != 0 {
				t.Errorf("score %d after timeout, want 0", up.Score)
			}
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !sawLocked {
		t.Fatalf("engine never locked the question")
	}
}

func TestEngineTiedTopScoreWinsNobody(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedSession(t, store, "ABC123", 1)
	seedQuizMember(t, store, "ABC123", "u1", true, 0)
	// The rival already finished with one point.
	seedQuizMember(t, store, "ABC123", "u2", false, 1)

	recorder := &fakeRecorder{}
	questions := engineQuestions(1)
	engine := quiz.NewEngine(quiz.EngineConfig{
		Store:     store,
		Profiles:  recorder,
		Code:      "ABC123",
		UserID:    "u1",
		Leader:    true,
		Questions: questions,
		Countdown: 100,
		Step:      5 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	for up := range engine.Updates() {
		if up.State == quiz.StatePresenting && up.Remaining == 100 {
			engine.Submit(up.QuestionIndex, questions[up.QuestionIndex].CorrectIndex)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	games := recorder.recorded()
	if len(games) != 1 || games[0].won {
		t.Fatalf("recorded games %+v, want a single loss on the tie", games)
	}
}
