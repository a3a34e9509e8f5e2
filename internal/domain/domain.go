package domain

import "time"

// Question is a multiple choice question of the question bank.
type Question struct {
	QuestionID         string
	Text               string
	Options            []string
	CorrectOptionIndex int
	Category           string
	Difficulty         string
}

// IsCorrect reports whether option is the correct answer of the question.
func (q Question) IsCorrect(option int) bool {
	return q.CorrectOptionIndex == option
}

// HasOption reports whether option is a valid index into the question options.
func (q Question) HasOption(option int) bool {
	return option >= 0 && option < len(q.Options)
}

// Participant is a connected user asking to be matched with an opponent.
type Participant struct {
	ConnectionID  string
	UserID        string
	Username      string
	QuestionCount int
}

// PlayerState is the state of one of the two players of a battle session.
type PlayerState struct {
	UserID   string
	Username string
	Score    int
}

type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusFinished SessionStatus = "finished"
)

// Session is a point-in-time copy of a battle session.
// Players is keyed by connection ID and always holds exactly two entries.
type Session struct {
	SessionID   string
	Questions   []Question
	Players     map[string]PlayerState
	Round       int
	RoundLocked bool
	Status      SessionStatus
	CreateTime  time.Time
}

// Opponent returns the connection ID of the other player of the session.
func (s Session) Opponent(connID string) (string, bool) {
	if _, ok := s.Players[connID]; !ok {
		return "", false
	}

	for id := range s.Players {
		if id != connID {
			return id, true
		}
	}

	return "", false
}

// Answer is a player's answer for one round of a session.
type Answer struct {
	SessionID    string
	ConnectionID string
	RoundIndex   int
	OptionIndex  int
}

// AnswerResult describes how a round was resolved.
type AnswerResult struct {
	ConnectionID string
	Correct      bool
	CorrectIndex int
}

const (
	AbandonReasonOpponentLeft = "opponent_left"
	AbandonReasonExpired      = "expired"
)
