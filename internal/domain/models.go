package domain

// Phase is the lifecycle phase of a party session.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseInQuiz      Phase = "in_quiz"
	PhaseLeaderboard Phase = "leaderboard"
)

const (
	// MaxPartySize bounds party membership.
	MaxPartySize = 4
	// QuestionsPerSession is the size of the question set drawn for each session.
	QuestionsPerSession = 10
	// AnswersPerQuestion is the size of the shuffled answer set.
	AnswersPerQuestion = 4
	// QuestsPerPlayer is the number of concurrent quests a profile holds.
	QuestsPerPlayer = 3
	// CodeLength is the length of a session code.
	CodeLength = 6
)

// Session is a short-lived multiplayer grouping identified by a session code.
type Session struct {
	Code             string
	CreatorID        string
	Phase            Phase
	QuestionsVersion int
}

// Member represents one participant inside a session. Member documents are
// owned for write purposes by that member's own client, except leader-initiated
// operations (kick, quiz start).
type Member struct {
	UserID          string
	DisplayName     string
	Level           int
	QuestsCompleted []string
	GamesPlayed     int
	GamesWon        int
	IsLeader        bool
	IsKicked        bool
	InQuiz          bool
	PlayerScore     int
}

// Question is one entry of a session's stable ordered question set. Answers are
// pre-shuffled at generation time; CorrectIndex is the zero-based index of the
// correct answer after that shuffle.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Answers      []string `json:"answers"`
	CorrectIndex int      `json:"correctIndex"`
}

// PoolQuestion is a question as stored in the global pool, before answers are
// shuffled for a session.
type PoolQuestion struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Correct string   `json:"correct"`
	Wrong   []string `json:"wrong"`
}

// Quest is a catalog entry a profile can hold and complete for experience.
type Quest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Exp   int    `json:"exp"`
}

// Profile is the durable per-user record, created lazily with defaults on
// first access.
type Profile struct {
	UserID          string
	Username        string
	Level           int
	Exp             int
	Quests          []string
	QuestsCompleted []string
	GamesPlayed     int
	GamesWon        int
}

// RankedMember is a session leaderboard row with its dense rank.
type RankedMember struct {
	Member
	Rank int
}

// RankedProfile is a global leaderboard row with its dense rank.
type RankedProfile struct {
	Profile
	Rank int
}
