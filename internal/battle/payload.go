package battle

import "github.com/victornm/quizbattle/internal/domain"

// Notifications sent to the players of a session.
const (
	EventSessionStarted   = "session_started"
	EventRoundResult      = "round_result"
	EventSessionFinished  = "session_finished"
	EventSessionAbandoned = "session_abandoned"
	EventError            = "error"
)

// QuestionView is a question as shown to players, without its answer.
type QuestionView struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

type PlayerView struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type SessionStarted struct {
	SessionID    string         `json:"sessionId"`
	PlayerID     string         `json:"playerId"`
	OpponentName string         `json:"opponentName"`
	Questions    []QuestionView `json:"questions"`
}

// RoundResult is sent twice per round: once when the round is resolved (with LastAnswer),
// and once when the next round opens (RoundIndex is the new round).
type RoundResult struct {
	SessionID  string                `json:"sessionId"`
	Players    map[string]PlayerView `json:"players"`
	RoundIndex int                   `json:"roundIndex"`
	LastAnswer *LastAnswer           `json:"lastAnswer,omitempty"`
}

type LastAnswer struct {
	ConnectionID string `json:"connectionId"`
	Correct      bool   `json:"correct"`
	CorrectIndex int    `json:"correctIndex"`
}

type SessionFinished struct {
	SessionID string                `json:"sessionId"`
	Players   map[string]PlayerView `json:"players"`
}

type SessionAbandoned struct {
	SessionID string                `json:"sessionId"`
	Reason    string                `json:"reason"`
	Players   map[string]PlayerView `json:"players"`
}

func questionViews(qs []domain.Question) []QuestionView {
	views := make([]QuestionView, 0, len(qs))
	for _, q := range qs {
		views = append(views, QuestionView{
			Text:    q.Text,
			Options: q.Options,
		})
	}
	return views
}

func playerViews(players map[string]domain.PlayerState) map[string]PlayerView {
	views := make(map[string]PlayerView, len(players))
	for id, p := range players {
		views[id] = PlayerView{
			UserID:   p.UserID,
			Username: p.Username,
			Score:    p.Score,
		}
	}
	return views
}
