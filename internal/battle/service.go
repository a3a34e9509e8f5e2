package battle

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/quizbattle/internal/domain"
	"github.com/victornm/quizbattle/internal/errors"
	"github.com/victornm/quizbattle/internal/event"
	"github.com/victornm/quizbattle/internal/question"
)

const (
	defaultPoints         = 10
	defaultSettleDelay    = 1500 * time.Millisecond
	defaultQuestions      = 5
	defaultMaxQuestions   = 50
	defaultSessionTTL     = 30 * time.Minute
	defaultReapInterval   = time.Minute
	defaultPublishTimeout = 5 * time.Second
)

var errNoQuestions = stderrors.New("question bank returned no questions")

// Publisher delivers notifications to connections and session rooms.
type Publisher interface {
	Unicast(ctx context.Context, connID, event string, data any) error
	Join(ctx context.Context, room string, connIDs ...string) error
	Broadcast(ctx context.Context, room, event string, data any) error
	Close(ctx context.Context, room string) error
}

// Presence tells whether a connection is still attached.
type Presence interface {
	Connected(connID string) bool
}

type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

type Config struct {
	Questions question.Sampler
	Publisher Publisher
	Presence  Presence
	EventBus  *event.Bus

	Points           int
	SettleDelay      time.Duration
	SessionTTL       time.Duration
	DefaultQuestions int
	MaxQuestions     int

	// AfterFunc schedules the end of a round, time.AfterFunc when nil.
	AfterFunc AfterFunc
	// Now is the clock used to expire sessions, time.Now when nil.
	Now func() time.Time
}

type session struct {
	id         string
	questions  []domain.Question
	players    map[string]*domain.PlayerState
	round      int
	locked     bool
	status     domain.SessionStatus
	createTime time.Time
	timer      Timer
}

func (ss *session) snapshot() domain.Session {
	players := make(map[string]domain.PlayerState, len(ss.players))
	for id, p := range ss.players {
		players[id] = *p
	}

	return domain.Session{
		SessionID:   ss.id,
		Questions:   ss.questions,
		Players:     players,
		Round:       ss.round,
		RoundLocked: ss.locked,
		Status:      ss.status,
		CreateTime:  ss.createTime,
	}
}

// Service is the store of active battle sessions and drives their state machine.
// Sessions live in memory only: both players must stay attached to the process that created it.
type Service struct {
	questions question.Sampler
	publisher Publisher
	presence  Presence
	eb        *event.Bus

	points           int
	settleDelay      time.Duration
	sessionTTL       time.Duration
	defaultQuestions int
	maxQuestions     int
	afterFunc        AfterFunc
	now              func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	conns    map[string]string // connection ID -> session ID
}

func NewService(c Config) *Service {
	s := &Service{
		questions:        c.Questions,
		publisher:        c.Publisher,
		presence:         c.Presence,
		eb:               c.EventBus,
		points:           c.Points,
		settleDelay:      c.SettleDelay,
		sessionTTL:       c.SessionTTL,
		defaultQuestions: c.DefaultQuestions,
		maxQuestions:     c.MaxQuestions,
		afterFunc:        c.AfterFunc,
		now:              c.Now,
		sessions:         make(map[string]*session),
		conns:            make(map[string]string),
	}

	if s.points <= 0 {
		s.points = defaultPoints
	}
	if s.settleDelay <= 0 {
		s.settleDelay = defaultSettleDelay
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = defaultSessionTTL
	}
	if s.defaultQuestions <= 0 {
		s.defaultQuestions = defaultQuestions
	}
	if s.maxQuestions <= 0 {
		s.maxQuestions = defaultMaxQuestions
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// CreateSession starts a battle between two paired participants. The number of questions
// is the one requested by the joiner.
func (s *Service) CreateSession(ctx context.Context, waiting, joiner domain.Participant) (*domain.Session, error) {
	n := s.questionCount(joiner.QuestionCount)

	qs, err := s.questions.SampleRandom(ctx, n)
	if err == nil && len(qs) == 0 {
		err = errNoQuestions
	}
	if err != nil {
		e := errors.New(errors.CodeUnavailable,
			errors.WithMessagef("cannot start battle: no questions available"),
			errors.WithCause(err),
		)
		s.notifyError(ctx, e, waiting.ConnectionID, joiner.ConnectionID)
		return nil, fmt.Errorf("battle: sample %d questions: %w", n, e)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("battle: generate session ID: %w", err)
	}

	ss := &session{
		id:        id.String(),
		questions: qs,
		players: map[string]*domain.PlayerState{
			waiting.ConnectionID: {UserID: waiting.UserID, Username: waiting.Username},
			joiner.ConnectionID:  {UserID: joiner.UserID, Username: joiner.Username},
		},
		status:     domain.SessionStatusActive,
		createTime: s.now(),
	}

	s.mu.Lock()
	for connID := range ss.players {
		if other, ok := s.conns[connID]; ok {
			s.mu.Unlock()
			e := errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("cannot start battle: a player is already in a battle"),
			)
			s.notifyError(ctx, e, waiting.ConnectionID, joiner.ConnectionID)
			return nil, fmt.Errorf("battle: connection %s already in session %s: %w", connID, other, e)
		}
	}
	s.sessions[ss.id] = ss
	for connID := range ss.players {
		s.conns[connID] = ss.id
	}
	snap := ss.snapshot()
	s.mu.Unlock()

	if err := s.announce(ctx, snap, waiting, joiner); err != nil {
		s.mu.Lock()
		s.removeLocked(ss)
		s.mu.Unlock()

		// One of the players may already have been told the session started.
		s.closeRoom(ctx, snap.SessionID)
		e := errors.New(errors.CodeUnavailable,
			errors.WithMessagef("cannot start battle: session %s was cancelled", snap.SessionID),
			errors.WithCause(err),
		)
		s.notifyError(ctx, e, waiting.ConnectionID, joiner.ConnectionID)
		return nil, fmt.Errorf("%w: %w", err, e)
	}

	slog.InfoContext(ctx, "battle: session started",
		"session", snap.SessionID,
		"questions", len(qs),
	)
	s.eb.Publish(ctx, domain.EventSessionStarted{Session: snap})

	// A player who left while the questions were fetched never got a chance to be cleaned up.
	if s.presence != nil {
		for _, p := range []domain.Participant{waiting, joiner} {
			if !s.presence.Connected(p.ConnectionID) {
				s.Disconnect(ctx, p.ConnectionID)
				break
			}
		}
	}

	return &snap, nil
}

func (s *Service) announce(ctx context.Context, snap domain.Session, waiting, joiner domain.Participant) error {
	if err := s.publisher.Join(ctx, snap.SessionID, waiting.ConnectionID, joiner.ConnectionID); err != nil {
		return fmt.Errorf("battle: join session room: %w", err)
	}

	questions := questionViews(snap.Questions)
	for _, pair := range [][2]domain.Participant{{waiting, joiner}, {joiner, waiting}} {
		me, opponent := pair[0], pair[1]
		err := s.publisher.Unicast(ctx, me.ConnectionID, EventSessionStarted, SessionStarted{
			SessionID:    snap.SessionID,
			PlayerID:     me.ConnectionID,
			OpponentName: opponent.Username,
			Questions:    questions,
		})
		if err != nil {
			return fmt.Errorf("battle: notify session started: %w", err)
		}
	}

	return nil
}

// Disconnect abandons the active session of a connection, if any. The remaining player is
// notified; no winner is declared.
func (s *Service) Disconnect(ctx context.Context, connID string) bool {
	s.mu.Lock()
	id, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	ss := s.sessions[id]
	s.removeLocked(ss)
	snap := ss.snapshot()
	s.mu.Unlock()

	remaining, _ := snap.Opponent(connID)
	slog.InfoContext(ctx, "battle: session abandoned",
		"session", snap.SessionID,
		"conn", connID,
		"remaining", remaining,
	)
	s.abandoned(ctx, snap, domain.AbandonReasonOpponentLeft)
	return true
}

// Reap abandons the sessions which outlived the session TTL and returns how many were removed.
func (s *Service) Reap(ctx context.Context) int {
	deadline := s.now().Add(-s.sessionTTL)

	s.mu.Lock()
	var expired []domain.Session
	for _, ss := range s.sessions {
		if ss.createTime.Before(deadline) {
			s.removeLocked(ss)
			expired = append(expired, ss.snapshot())
		}
	}
	s.mu.Unlock()

	for _, snap := range expired {
		slog.WarnContext(ctx, "battle: session expired", "session", snap.SessionID)
		s.abandoned(ctx, snap, domain.AbandonReasonExpired)
	}

	return len(expired)
}

// Run reaps expired sessions every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultReapInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Reap(ctx)
		}
	}
}

// Shutdown stops every pending round timer. Sessions are dropped.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ss := range s.sessions {
		s.removeLocked(ss)
	}
}

// InSession reports whether the connection plays in an active session.
func (s *Service) InSession(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.conns[connID]
	return ok
}

// Session returns a copy of an active session.
func (s *Service) Session(id string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, false
	}

	return ss.snapshot(), true
}

// Len returns the number of active sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// removeLocked finishes the session and deletes it from the store. s.mu must be held.
func (s *Service) removeLocked(ss *session) {
	if ss.timer != nil {
		ss.timer.Stop()
		ss.timer = nil
	}
	ss.status = domain.SessionStatusFinished

	delete(s.sessions, ss.id)
	for connID := range ss.players {
		if s.conns[connID] == ss.id {
			delete(s.conns, connID)
		}
	}
}

func (s *Service) abandoned(ctx context.Context, snap domain.Session, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()

	s.broadcast(ctx, snap.SessionID, EventSessionAbandoned, SessionAbandoned{
		SessionID: snap.SessionID,
		Reason:    reason,
		Players:   playerViews(snap.Players),
	})
	s.closeRoom(ctx, snap.SessionID)

	s.eb.Publish(ctx, domain.EventSessionAbandoned{
		Session: snap,
		Reason:  reason,
	})
}

func (s *Service) broadcast(ctx context.Context, room, event string, data any) {
	if err := s.publisher.Broadcast(ctx, room, event, data); err != nil {
		slog.ErrorContext(ctx, "battle: broadcast failed",
			"session", room,
			"event", event,
			"error", err,
		)
	}
}

func (s *Service) closeRoom(ctx context.Context, room string) {
	if err := s.publisher.Close(ctx, room); err != nil {
		slog.ErrorContext(ctx, "battle: close session room failed",
			"session", room,
			"error", err,
		)
	}
}

func (s *Service) notifyError(ctx context.Context, e *errors.Error, connIDs ...string) {
	for _, id := range connIDs {
		if err := s.publisher.Unicast(ctx, id, EventError, e); err != nil {
			slog.ErrorContext(ctx, "battle: notify error failed",
				"conn", id,
				"error", err,
			)
		}
	}
}

func (s *Service) questionCount(requested int) int {
	if requested <= 0 {
		return s.defaultQuestions
	}

	return min(requested, s.maxQuestions)
}
