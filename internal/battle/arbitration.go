package battle

import (
	"context"
	"log/slog"

	"github.com/victornm/quizbattle/internal/domain"
)

// SubmitAnswer scores the first answer received for the current round of a session.
//
// Late, duplicate, out-of-order or malformed answers are dropped silently: the answer
// is rejected when the session is unknown or finished, the connection is not one of its
// players, the round is not the current one, the round is already locked, or the option
// does not exist. It reports whether the answer was accepted.
func (s *Service) SubmitAnswer(ctx context.Context, a domain.Answer) bool {
	s.mu.Lock()
	ss, ok := s.sessions[a.SessionID]
	if !ok || ss.status != domain.SessionStatusActive || ss.round != a.RoundIndex || ss.locked {
		s.mu.Unlock()
		return false
	}

	player, ok := ss.players[a.ConnectionID]
	q := ss.questions[ss.round]
	if !ok || !q.HasOption(a.OptionIndex) {
		s.mu.Unlock()
		return false
	}

	ss.locked = true
	correct := q.IsCorrect(a.OptionIndex)
	if correct {
		player.Score += s.points
	}
	round := ss.round
	snap := ss.snapshot()
	s.mu.Unlock()

	result := domain.AnswerResult{
		ConnectionID: a.ConnectionID,
		Correct:      correct,
		CorrectIndex: q.CorrectOptionIndex,
	}

	s.broadcast(ctx, ss.id, EventRoundResult, RoundResult{
		SessionID:  ss.id,
		Players:    playerViews(snap.Players),
		RoundIndex: round,
		LastAnswer: &LastAnswer{
			ConnectionID: result.ConnectionID,
			Correct:      result.Correct,
			CorrectIndex: result.CorrectIndex,
		},
	})
	s.eb.Publish(ctx, domain.EventRoundResolved{
		Session: snap,
		Result:  result,
	})

	s.mu.Lock()
	if s.sessions[ss.id] == ss {
		ss.timer = s.afterFunc(s.settleDelay, func() {
			s.advance(ss, round)
		})
	}
	s.mu.Unlock()

	return true
}

// advance closes the locked round and opens the next one, or finishes the session
// after its last round. The result of the closed round is always out before the next one opens.
func (s *Service) advance(ss *session, round int) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	s.mu.Lock()
	if s.sessions[ss.id] != ss || ss.round != round || !ss.locked {
		s.mu.Unlock()
		return
	}

	ss.timer = nil
	ss.round++
	if ss.round >= len(ss.questions) {
		s.removeLocked(ss)
		snap := ss.snapshot()
		s.mu.Unlock()

		s.finished(ctx, snap)
		return
	}
	ss.locked = false
	snap := ss.snapshot()
	s.mu.Unlock()

	s.broadcast(ctx, ss.id, EventRoundResult, RoundResult{
		SessionID:  ss.id,
		Players:    playerViews(snap.Players),
		RoundIndex: snap.Round,
	})
}

func (s *Service) finished(ctx context.Context, snap domain.Session) {
	slog.InfoContext(ctx, "battle: session finished",
		"session", snap.SessionID,
		"rounds", snap.Round,
	)

	s.broadcast(ctx, snap.SessionID, EventSessionFinished, SessionFinished{
		SessionID: snap.SessionID,
		Players:   playerViews(snap.Players),
	})
	s.closeRoom(ctx, snap.SessionID)

	s.eb.Publish(ctx, domain.EventSessionFinished{Session: snap})
}
