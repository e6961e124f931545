// Package domain holds the types shared by every component of the game
// orchestration core: sessions, participants, questions and the live,
// in-memory state of an active game.
package domain

import "time"

// Mode identifies one of the five supported game modes.
type Mode string

const (
	ModeQuickDuel    Mode = "QUICK_DUEL"
	ModeFFF          Mode = "FASTEST_FINGER_FIRST"
	ModePractice     Mode = "PRACTICE"
	ModeTimeAttack   Mode = "TIME_ATTACK"
	ModeGroupPlay    Mode = "GROUP_PLAY"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusWaiting         Status = "WAITING"
	StatusLobby           Status = "LOBBY"
	StatusReadyCountdown  Status = "READY_COUNTDOWN"
	StatusActive          Status = "ACTIVE"
	StatusFinished        Status = "FINISHED"
	StatusCancelled       Status = "CANCELLED"
)

// Tier is a difficulty band.
type Tier string

const (
	TierEasy   Tier = "EASY"
	TierMedium Tier = "MEDIUM"
	TierHard   Tier = "HARD"
)

// DifficultyFromRating maps a numeric rating to a Tier using the cutoffs
// from spec.md §4.1: below 1300 is EASY, [1300,1600) is MEDIUM, 1600+ is HARD.
func DifficultyFromRating(rating int) Tier {
	switch {
	case rating < 1300:
		return TierEasy
	case rating < 1600:
		return TierMedium
	default:
		return TierHard
	}
}

// Session is the root record of a single game instance.
type Session struct {
	ID          string
	Mode        Mode
	Status      Status
	Difficulty  Tier
	DurationMin int
	RoomCode    string // GROUP_PLAY only; empty once status leaves LOBBY/READY_COUNTDOWN
	HostID      string // GROUP_PLAY only
	MinPlayers  int
	MaxPlayers  int
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// Participant is a user's (or bot's) enrollment in exactly one session.
type Participant struct {
	ID         string
	SessionID  string
	UserID     string
	IsBot      bool
	Rating     int
	FinalScore int
}

// Option is one answer choice for a Question.
type Option struct {
	ID   string
	Text string
}

// Question is read-only within the core.
type Question struct {
	ID              string
	Prompt          string
	Options         []Option
	CorrectOptionID string
	Explanation     string
	LearningTip     string
	CreatedAt       time.Time
	CategoryTags    []string
}

// Stripped returns a copy of the Question with the fields that must never
// leave the server (correctness metadata) removed.
func (q Question) Stripped() Question {
	stripped := q
	stripped.CorrectOptionID = ""
	stripped.Explanation = ""
	stripped.LearningTip = ""
	return stripped
}

// AnswerAction classifies how a participant resolved a single question.
type AnswerAction string

const (
	ActionAnswered AnswerAction = "answered"
	ActionSkipped  AnswerAction = "skipped"
	ActionTimeout  AnswerAction = "timeout"
)

// AnswerRecord is one entry in a participant's results history.
type AnswerRecord struct {
	QuestionID string
	TimeTaken  time.Duration
	Action     AnswerAction
	Correct    bool
}

// FFFAnswer records one submission during a Fastest Finger First question
// window, kept in arrival order for audit; scoring never uses Timestamp to
// break ties, only processing order (spec.md §5).
type FFFAnswer struct {
	ParticipantID string
	OptionID      string
	Timestamp     time.Time
	Correct       bool
}

// LiveState is the mutable, per-session game state held by C3 while a
// session is ACTIVE. Exactly one LiveState exists per active session.
type LiveState struct {
	SessionID  string
	Mode       Mode
	Difficulty Tier
	EndTime    time.Time

	Questions []Question

	Scores        map[string]int
	UserProgress  map[string]int
	QuestionSentAt map[string]time.Time
	Results       map[string][]AnswerRecord

	// FFF-only fields.
	TimePerQuestion      time.Duration
	CurrentQuestionIndex int
	QuestionStartTime    time.Time
	QuestionAnswers      []FFFAnswer
}

// NewLiveState builds an empty LiveState for the given participants.
func NewLiveState(sessionID string, mode Mode, tier Tier, questions []Question, endTime time.Time, participantIDs []string) *LiveState {
	ls := &LiveState{
		SessionID:      sessionID,
		Mode:           mode,
		Difficulty:     tier,
		EndTime:        endTime,
		Questions:      questions,
		Scores:         make(map[string]int, len(participantIDs)),
		UserProgress:   make(map[string]int, len(participantIDs)),
		QuestionSentAt: make(map[string]time.Time, len(participantIDs)),
		Results:        make(map[string][]AnswerRecord, len(participantIDs)),
	}
	for _, pid := range participantIDs {
		ls.Scores[pid] = 0
		ls.UserProgress[pid] = 0
		ls.Results[pid] = nil
	}
	return ls
}
