package battle_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbattle/internal/battle"
	"github.com/victornm/quizbattle/internal/domain"
	"github.com/victornm/quizbattle/internal/event"
)

func TestService_SubmitAnswer_FullBattle(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		finished int
	)
	done := make(chan struct{})
	f.eb.Subscribe(domain.EventNameSessionFinished, func(context.Context, event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		finished++
		close(done)
		return nil
	})

	ss, err := f.s.CreateSession(ctx, alice, bob)
	require.NoError(t, err)
	require.Len(t, ss.Questions, 5)

	for round := range 5 {
		// alice is always faster and right, bob's answer arrives after the round is locked.
		assert.True(t, f.s.SubmitAnswer(ctx, answer(ss, "c1", round, correctOption(ss, round))), "round %d", round)
		assert.False(t, f.s.SubmitAnswer(ctx, answer(ss, "c2", round, correctOption(ss, round))), "round %d", round)

		assert.Equal(t, 1, f.timers.fire(), "round %d", round)
	}

	_, ok := f.s.Session(ss.SessionID)
	assert.False(t, ok, "finished session should be removed")
	assert.False(t, f.s.InSession("c1"))
	assert.False(t, f.s.InSession("c2"))
	assert.True(t, f.pub.closed[ss.SessionID])

	msgs := f.pub.broadcasts(ss.SessionID, battle.EventSessionFinished)
	require.Len(t, msgs, 1)
	final := msgs[0].(battle.SessionFinished)
	assert.Equal(t, 50, final.Players["c1"].Score)
	assert.Equal(t, 0, final.Players["c2"].Score)

	var (
		resolved []int
		opened   []int
	)
	for _, m := range f.pub.broadcasts(ss.SessionID, battle.EventRoundResult) {
		r := m.(battle.RoundResult)
		if r.LastAnswer != nil {
			assert.Equal(t, "c1", r.LastAnswer.ConnectionID)
			assert.True(t, r.LastAnswer.Correct)
			resolved = append(resolved, r.RoundIndex)
		} else {
			opened = append(opened, r.RoundIndex)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, resolved)
	assert.Equal(t, []int{1, 2, 3, 4}, opened)

	<-done
	mu.Lock()
	assert.Equal(t, 1, finished)
	mu.Unlock()

	assert.False(t, f.s.SubmitAnswer(ctx, answer(ss, "c1", 4, correctOption(ss, 4))), "answers after the end should be ignored")
	assert.Equal(t, 0, f.timers.fire())
}

func TestService_SubmitAnswer_WrongAnswer(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	ss, err := f.s.CreateSession(ctx, alice, bob)
	require.NoError(t, err)

	require.True(t, f.s.SubmitAnswer(ctx, answer(ss, "c2", 0, wrongOption(ss, 0))))

	got, ok := f.s.Session(ss.SessionID)
	require.True(t, ok)
	assert.True(t, got.RoundLocked, "a wrong answer also locks the round")
	assert.Equal(t, 0, got.Players["c1"].Score)
	assert.Equal(t, 0, got.Players["c2"].Score)

	msgs := f.pub.broadcasts(ss.SessionID, battle.EventRoundResult)
	require.Len(t, msgs, 1)
	r := msgs[0].(battle.RoundResult)
	require.NotNil(t, r.LastAnswer)
	assert.False(t, r.LastAnswer.Correct)
	assert.Equal(t, correctOption(ss, 0), r.LastAnswer.CorrectIndex)

	require.Equal(t, 1, f.timers.fire())

	got, ok = f.s.Session(ss.SessionID)
	require.True(t, ok)
	assert.Equal(t, 1, got.Round)
	assert.False(t, got.RoundLocked)
}

func TestService_SubmitAnswer_Ignored(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, f *fixture, ss *domain.Session) domain.Answer
	}{
		"unknown session": {
			arrange: func(_ *testing.T, _ *fixture, ss *domain.Session) domain.Answer {
				a := answer(ss, "c1", 0, correctOption(ss, 0))
				a.SessionID = "unknown"
				return a
			},
		},
		"not a player of the session": {
			arrange: func(_ *testing.T, _ *fixture, ss *domain.Session) domain.Answer {
				return answer(ss, "c9", 0, correctOption(ss, 0))
			},
		},
		"future round": {
			arrange: func(_ *testing.T, _ *fixture, ss *domain.Session) domain.Answer {
				return answer(ss, "c1", 1, correctOption(ss, 1))
			},
		},
		"stale round": {
			arrange: func(t *testing.T, f *fixture, ss *domain.Session) domain.Answer {
				require.True(t, f.s.SubmitAnswer(context.Background(), answer(ss, "c1", 0, correctOption(ss, 0))))
				require.Equal(t, 1, f.timers.fire())
				return answer(ss, "c2", 0, correctOption(ss, 0))
			},
		},
		"locked round": {
			arrange: func(t *testing.T, f *fixture, ss *domain.Session) domain.Answer {
				require.True(t, f.s.SubmitAnswer(context.Background(), answer(ss, "c2", 0, wrongOption(ss, 0))))
				return answer(ss, "c1", 0, correctOption(ss, 0))
			},
		},
		"negative option": {
			arrange: func(_ *testing.T, _ *fixture, ss *domain.Session) domain.Answer {
				return answer(ss, "c1", 0, -1)
			},
		},
		"option out of range": {
			arrange: func(_ *testing.T, _ *fixture, ss *domain.Session) domain.Answer {
				return answer(ss, "c1", 0, len(ss.Questions[0].Options))
			},
		},
		"abandoned session": {
			arrange: func(_ *testing.T, f *fixture, ss *domain.Session) domain.Answer {
				f.s.Disconnect(context.Background(), "c2")
				return answer(ss, "c1", 0, correctOption(ss, 0))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := makeFixture(t)
			ctx := context.Background()

			ss, err := f.s.CreateSession(ctx, alice, bob)
			require.NoError(t, err)

			a := tt.arrange(t, f, ss)
			before, _ := f.s.Session(ss.SessionID)
			results := len(f.pub.broadcasts(ss.SessionID, battle.EventRoundResult))

			assert.False(t, f.s.SubmitAnswer(ctx, a))

			after, _ := f.s.Session(ss.SessionID)
			assert.Equal(t, before, after, "session should not change")
			assert.Len(t, f.pub.broadcasts(ss.SessionID, battle.EventRoundResult), results)
		})
	}
}

func TestService_SubmitAnswer_OnlyFirstAnswerScores(t *testing.T) {
	f := makeFixture(t)
	ctx := context.Background()

	ss, err := f.s.CreateSession(ctx, alice, bob)
	require.NoError(t, err)

	var (
		start    = make(chan struct{})
		finished = make(chan bool, 10)
	)
	for i := range 10 {
		conn := "c1"
		if i%2 == 1 {
			conn = "c2"
		}
		go func() {
			<-start
			finished <- f.s.SubmitAnswer(ctx, answer(ss, conn, 0, correctOption(ss, 0)))
		}()
	}
	close(start)

	accepted := 0
	for range 10 {
		if <-finished {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)

	got, ok := f.s.Session(ss.SessionID)
	require.True(t, ok)
	assert.Equal(t, 10, got.Players["c1"].Score+got.Players["c2"].Score)
}
