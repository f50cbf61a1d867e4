// Package http exposes the party/quiz coordinator over WebSocket: one
// connection per member, inbound commands, outbound live snapshots.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quest-party-service/internal/docstore"
	"quest-party-service/internal/domain"
	"quest-party-service/internal/leaderboard"
	"quest-party-service/internal/party"
	"quest-party-service/internal/profile"
	"quest-party-service/internal/quiz"
)

type WSHandlerConfig struct {
	Store     docstore.Store
	Parties   *party.Service
	Questions *quiz.Questions
	Profiles  *profile.Service
	Boards    *leaderboard.Service
	Clock     clockwork.Clock
	// Countdown and Step configure the quiz engines started for connections.
	Countdown int
	Step      time.Duration
}

type WSHandler struct {
	store     docstore.Store
	parties   *party.Service
	questions *quiz.Questions
	profiles  *profile.Service
	boards    *leaderboard.Service
	clock     clockwork.Clock
	countdown int
	step      time.Duration
	upgrader  websocket.Upgrader
}

func NewWSHandler(c WSHandlerConfig) *WSHandler {
	clock := c.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WSHandler{
		store:     c.Store,
		parties:   c.Parties,
		questions: c.Questions,
		profiles:  c.Profiles,
		boards:    c.Boards,
		clock:     clock,
		countdown: c.Countdown,
		step:      c.Step,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Question int `json:"question"`
	Answer   int `json:"answer"`
}

type kickPayload struct {
	UserID string `json:"userId"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	Code   string       `json:"code"`
	UserID string       `json:"userId"`
	Roster []memberView `json:"roster"`
	Phase  string       `json:"phase"`
	Leader bool         `json:"leader"`
}

type memberView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Level       int    `json:"level"`
	IsLeader    bool   `json:"isLeader"`
	InQuiz      bool   `json:"inQuiz"`
	PlayerScore int    `json:"playerScore"`
}

type questionView struct {
	Index     int      `json:"index"`
	Prompt    string   `json:"prompt"`
	Answers   []string `json:"answers"`
	Remaining int      `json:"remaining"`
}

type countdownView struct {
	Index     int `json:"index"`
	Remaining int `json:"remaining"`
}

type answerResultView struct {
	Index        int  `json:"index"`
	Selected     int  `json:"selected"`
	Correct      bool `json:"correct"`
	CorrectIndex int  `json:"correctIndex"`
	Score        int  `json:"score"`
}

type leaderboardView struct {
	Code    string                 `json:"code"`
	Entries []leaderboardEntryView `json:"entries"`
}

type leaderboardEntryView struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// ServeWS upgrades the request and wires the connection into the party and
// quiz services. An empty code creates a new session; an empty userId mints a
// guest identity.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if displayName == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws: upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	prof, err := h.profiles.Get(ctx, userID, displayName)
	if err != nil {
		writeError(conn, err)
		return
	}

	created := false
	if code == "" {
		code, err = h.parties.Create(ctx, prof)
		created = true
	} else {
		err = h.parties.Join(ctx, code, prof)
	}
	if err != nil {
		writeError(conn, err)
		return
	}

	updates, cancelWatch, err := h.parties.Watch(ctx, code, userID)
	if err != nil {
		writeError(conn, err)
		return
	}
	defer cancelWatch()

	c := &wsClient{
		handler: h,
		conn:    conn,
		code:    code,
		userID:  userID,
		leader:  created,
		send:    make(chan outboundMessage, 32),
	}

	roster, err := h.parties.Roster(ctx, code)
	if err != nil {
		writeError(conn, err)
		return
	}
	sess, err := h.parties.Session(ctx, code)
	if err != nil {
		writeError(conn, err)
		return
	}

	writerDone := make(chan struct{})
	go c.writer(writerDone)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pumpUpdates(ctx, updates)
	}()

	c.enqueue(outboundMessage{Type: "joined", Payload: joinedPayload{
		Code:   code,
		UserID: userID,
		Roster: rosterViews(roster),
		Phase:  string(sess.Phase),
		Leader: created,
	}})

	c.readLoop(ctx)

	// The member may already be gone (kicked, or last one out); a not-found
	// on leave is normal teardown.
	cancel()
	if err := h.parties.Leave(context.Background(), code, userID); err != nil && !errors.Is(err, domain.ErrMemberNotFound) && !errors.Is(err, domain.ErrSessionNotFound) {
		log.Warn().Err(err).Str("session", code).Str("user", userID).Msg("ws: leave failed")
	}
	<-pumpDone

	// No engine can start once the update pump has stopped, so reading the
	// done channel here is race-free. The engine pump must finish before the
	// send channel closes or a drained buffered update would enqueue into it.
	c.mu.Lock()
	engineDone := c.engineDone
	c.mu.Unlock()
	if engineDone != nil {
		<-engineDone
	}

	close(c.send)
	<-writerDone
}

// wsClient tracks one connection's session state across the reader, the
// update pump and the engine pump.
type wsClient struct {
	handler *WSHandler
	conn    *websocket.Conn
	code    string
	userID  string
	send    chan outboundMessage

	mu         sync.Mutex
	leader     bool
	engine     *quiz.Engine
	engineDone chan struct{}
	kicked     bool
}

func (c *wsClient) writer(done chan struct{}) {
	defer close(done)
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Str("session", c.code).Str("user", c.userID).Msg("ws: write failed")
			return
		}
	}
}

// enqueue drops the connection rather than blocking the caller when the send
// buffer is full; a client that far behind is not coming back.
func (c *wsClient) enqueue(msg outboundMessage) {
	select {
	case c.send <- msg:
	default:
		_ = c.conn.Close()
	}
}

func (c *wsClient) readLoop(ctx context.Context) {
	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start":
			if err := c.handler.parties.StartQuiz(ctx, c.code, c.userID); err != nil {
				c.enqueue(errorMessage(err))
			}
		case "answer":
			var p answerPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				c.enqueue(errorMessage(errInvalidPayload))
				continue
			}
			c.mu.Lock()
			eng := c.engine
			c.mu.Unlock()
			if eng == nil {
				c.enqueue(outboundMessage{Type: "error", Payload: errorPayload{Message: "quiz not running"}})
				continue
			}
			eng.Submit(p.Question, p.Answer)
		case "kick":
			var p kickPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				c.enqueue(errorMessage(errInvalidPayload))
				continue
			}
			if err := c.handler.parties.Kick(ctx, c.code, c.userID, p.UserID); err != nil {
				c.enqueue(errorMessage(err))
			}
		case "leave":
			return
		default:
			c.enqueue(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}
}

// pumpUpdates folds the session live feed into outbound messages and starts
// the quiz engine when the phase flips.
func (c *wsClient) pumpUpdates(ctx context.Context, updates <-chan party.Update) {
	for {
		select {
		case up, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(ctx, up)
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsClient) handleUpdate(ctx context.Context, up party.Update) {
	if up.Kicked {
		c.mu.Lock()
		already := c.kicked
		c.kicked = true
		c.mu.Unlock()
		if !already {
			c.enqueue(outboundMessage{Type: "kicked", Payload: struct{}{}})
			// Kicked members transition to "left" immediately: closing the
			// connection ends the read loop and tears the client down.
			_ = c.conn.Close()
		}
		return
	}

	if up.Self != nil {
		c.mu.Lock()
		c.leader = up.Self.IsLeader
		c.mu.Unlock()
	}

	c.enqueue(outboundMessage{Type: "roster", Payload: rosterViews(up.Roster)})

	if up.Phase == domain.PhaseInQuiz && up.Self != nil && up.Self.InQuiz {
		c.startEngine(ctx)
	}
}

func (c *wsClient) startEngine(ctx context.Context) {
	c.mu.Lock()
	if c.engine != nil {
		c.mu.Unlock()
		return
	}
	leader := c.leader
	c.mu.Unlock()

	questions, err := c.handler.questions.ForSession(ctx, c.code)
	if err != nil {
		c.enqueue(errorMessage(err))
		return
	}

	eng := quiz.NewEngine(quiz.EngineConfig{
		Store:     c.handler.store,
		Clock:     c.handler.clock,
		Profiles:  c.handler.profiles,
		Code:      c.code,
		UserID:    c.userID,
		Leader:    leader,
		Questions: questions,
		Countdown: c.handler.countdown,
		Step:      c.handler.step,
	})

	done := make(chan struct{})
	c.mu.Lock()
	c.engine = eng
	c.engineDone = done
	c.mu.Unlock()

	c.enqueue(outboundMessage{Type: "quizStarted", Payload: struct{}{}})

	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("session", c.code).Str("user", c.userID).Msg("ws: quiz engine failed")
		}
	}()
	go func() {
		defer close(done)
		c.pumpEngine(ctx, eng)
	}()
}

func (c *wsClient) pumpEngine(ctx context.Context, eng *quiz.Engine) {
	for up := range eng.Updates() {
		switch up.State {
		case quiz.StatePresenting:
			// The first presenting update carries the question; later ones
			// are countdown ticks.
			if len(up.Question.Answers) > 0 {
				c.enqueue(outboundMessage{Type: "question", Payload: questionView{
					Index:     up.QuestionIndex,
					Prompt:    up.Question.Prompt,
					Answers:   up.Question.Answers,
					Remaining: up.Remaining,
				}})
				continue
			}
			c.enqueue(outboundMessage{Type: "countdown", Payload: countdownView{
				Index:     up.QuestionIndex,
				Remaining: up.Remaining,
			}})
		case quiz.StateRevealing:
			c.enqueue(outboundMessage{Type: "answerResult", Payload: answerResultView{
				Index:        up.QuestionIndex,
				Selected:     up.Selected,
				Correct:      up.Correct,
				CorrectIndex: up.CorrectIndex,
				Score:        up.Score,
			}})
		case quiz.StateComplete:
			ranked, err := c.handler.boards.Session(ctx, c.code)
			if err != nil {
				c.enqueue(errorMessage(err))
				continue
			}
			c.enqueue(outboundMessage{Type: "leaderboard", Payload: leaderboardPayload(c.code, ranked)})
		}
	}
}

func rosterViews(members []domain.Member) []memberView {
	views := make([]memberView, 0, len(members))
	for _, m := range members {
		views = append(views, memberView{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Level:       m.Level,
			IsLeader:    m.IsLeader,
			InQuiz:      m.InQuiz,
			PlayerScore: m.PlayerScore,
		})
	}
	return views
}

func leaderboardPayload(code string, ranked []domain.RankedMember) leaderboardView {
	entries := make([]leaderboardEntryView, 0, len(ranked))
	for _, r := range ranked {
		entries = append(entries, leaderboardEntryView{
			Rank:        r.Rank,
			UserID:      r.UserID,
			DisplayName: r.DisplayName,
			Score:       r.PlayerScore,
		})
	}
	return leaderboardView{Code: code, Entries: entries}
}

var errInvalidPayload = errors.New("invalid payload")

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

func writeError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(errorMessage(err))
}
