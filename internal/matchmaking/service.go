package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/victornm/quizbattle/internal/domain"
)

const EventWaiting = "waiting"

// Sessions creates battle sessions out of paired participants.
type Sessions interface {
	CreateSession(ctx context.Context, waiting, joiner domain.Participant) (*domain.Session, error)
	// InSession reports whether the connection already plays in an active session.
	// It is called with the queue locked.
	InSession(connID string) bool
}

// Notifier sends a notification to a single connection.
type Notifier interface {
	Unicast(ctx context.Context, connID, event string, data any) error
}

type Config struct {
	Sessions Sessions
	Notifier Notifier
}

// Service is a single-slot matchmaking queue: at most one participant waits at any time,
// and the next distinct user to join is paired with it.
type Service struct {
	sessions Sessions
	notifier Notifier

	mu      sync.Mutex
	waiting *domain.Participant
	pairing map[string]struct{} // connections whose session is being created
}

func NewService(c Config) *Service {
	return &Service{
		sessions: c.Sessions,
		notifier: c.Notifier,
		pairing:  make(map[string]struct{}),
	}
}

// Join puts the participant in the queue, or pairs it with the waiting one.
//
// The slot is released before the session is created, so a participant joining while the
// questions of the new session are being fetched becomes the next waiting participant.
// Joins from the two connections being paired are ignored until their session exists.
func (s *Service) Join(ctx context.Context, p domain.Participant) error {
	s.mu.Lock()
	if s.busyLocked(p.ConnectionID) {
		s.mu.Unlock()
		slog.DebugContext(ctx, "matchmaking: ignore join from connection in session", "conn", p.ConnectionID)
		return nil
	}

	if s.waiting == nil || s.waiting.UserID == p.UserID || s.waiting.ConnectionID == p.ConnectionID {
		s.waiting = &p
		s.mu.Unlock()

		if err := s.notifier.Unicast(ctx, p.ConnectionID, EventWaiting, nil); err != nil {
			return fmt.Errorf("matchmaking: notify waiting: %w", err)
		}
		return nil
	}

	opponent := *s.waiting
	s.waiting = nil
	s.pairing[opponent.ConnectionID] = struct{}{}
	s.pairing[p.ConnectionID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pairing, opponent.ConnectionID)
		delete(s.pairing, p.ConnectionID)
		s.mu.Unlock()
	}()

	slog.InfoContext(ctx, "matchmaking: paired",
		"waiting", opponent.UserID,
		"joiner", p.UserID,
	)

	if _, err := s.sessions.CreateSession(ctx, opponent, p); err != nil {
		return fmt.Errorf("matchmaking: create session: %w", err)
	}

	return nil
}

// busyLocked reports whether the connection is being paired or already plays. s.mu must be held.
// A connection leaves the pairing set only after its session is registered.
func (s *Service) busyLocked(connID string) bool {
	if _, ok := s.pairing[connID]; ok {
		return true
	}

	return s.sessions.InSession(connID)
}

// Leave releases the slot if, and only if, the connection is the one waiting.
func (s *Service) Leave(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting == nil || s.waiting.ConnectionID != connID {
		return false
	}

	s.waiting = nil
	return true
}

// Waiting returns the participant currently waiting for an opponent.
func (s *Service) Waiting() (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting == nil {
		return domain.Participant{}, false
	}

	return *s.waiting, true
}
