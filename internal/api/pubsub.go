package api

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/victornm/quizbattle/internal/broadcast"
	"github.com/victornm/quizbattle/internal/domain"
	"github.com/victornm/quizbattle/internal/event"
)

type (
	// Lifecycle is published for the notification service when a session starts or ends.
	Lifecycle struct {
		SessionID string            `json:"sessionId"`
		Questions int               `json:"questions"`
		Players   []LifecyclePlayer `json:"players"`
		Reason    string            `json:"reason,omitempty"`
	}

	LifecyclePlayer struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Score    int    `json:"score"`
	}
)

func (a *API) PublishLifecycle(ctx context.Context, e event.Event) error {
	var data Lifecycle

	switch e := e.(type) {
	case domain.EventSessionStarted:
		data = lifecycle(e.Session)
	case domain.EventSessionFinished:
		data = lifecycle(e.Session)
	case domain.EventSessionAbandoned:
		data = lifecycle(e.Session)
		data.Reason = e.Reason
	default:
		return fmt.Errorf("pubsub: unexpected event %s", e.Name())
	}

	return a.publishNotification(ctx, e.Name(), data)
}

func (a *API) publishNotification(ctx context.Context, event string, data any) error {
	n := broadcast.Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, LifecycleChannel(a.prefix), b).Err()
}

// LifecycleChannel is the Redis channel session lifecycle notifications are published on.
func LifecycleChannel(prefix string) string {
	return fmt.Sprintf("%s:lifecycle", prefix)
}

func lifecycle(ss domain.Session) Lifecycle {
	l := Lifecycle{
		SessionID: ss.SessionID,
		Questions: len(ss.Questions),
		Players:   make([]LifecyclePlayer, 0, len(ss.Players)),
	}

	for _, p := range ss.Players {
		l.Players = append(l.Players, LifecyclePlayer{
			UserID:   p.UserID,
			Username: p.Username,
			Score:    p.Score,
		})
	}
	slices.SortFunc(l.Players, func(x, y LifecyclePlayer) int {
		return cmp.Compare(x.UserID, y.UserID)
	})

	return l
}
