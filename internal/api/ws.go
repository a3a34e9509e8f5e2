package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/victornm/quizbattle/internal/battle"
	"github.com/victornm/quizbattle/internal/broadcast"
	"github.com/victornm/quizbattle/internal/domain"
	"github.com/victornm/quizbattle/internal/errors"
)

// Events sent by players.
const (
	EventJoinQueue    = "join_queue"
	EventSubmitAnswer = "submit_answer"
)

const (
	maxFrameSize = 4 << 10
	writeTimeout = 5 * time.Second
)

type (
	// Frame is the envelope of every message received from a player.
	Frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}

	JoinQueueRequest struct {
		UserID        string `json:"userId"`
		Username      string `json:"username"`
		QuestionCount int    `json:"questionCount"`
	}

	SubmitAnswerRequest struct {
		SessionID   string `json:"sessionId"`
		RoundIndex  *int   `json:"roundIndex"`
		OptionIndex *int   `json:"optionIndex"`
	}
)

// ServeWS upgrades the request to a battle connection.
//
// The connection gets a fresh ID and an outbox in the hub. Every notification addressed to it,
// by this process or another one, is written from the outbox. When the connection goes away
// it leaves the matchmaking queue and abandons its running session.
func (a *API) ServeWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: a.origins,
	})
	if err != nil {
		slog.WarnContext(c.Request.Context(), "api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(maxFrameSize)

	ctx := c.Request.Context()
	id := uuid.NewString()
	outbox := a.hub.Register(id)
	slog.InfoContext(ctx, "api: connection attached", "conn", id)

	written := make(chan struct{})
	go func() {
		defer close(written)
		a.write(ctx, conn, outbox)
	}()

	a.read(ctx, conn, id)
	a.detach(ctx, id)
	<-written
}

func (a *API) write(ctx context.Context, conn *websocket.Conn, outbox <-chan []byte) {
	// The outbox is closed when the connection is detached or dropped for being too slow.
	defer conn.CloseNow()

	for msg := range outbox {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, msg)
		cancel()

		if err != nil {
			slog.DebugContext(ctx, "api: write failed", "error", err)
			return
		}
	}
}

func (a *API) read(ctx context.Context, conn *websocket.Conn, id string) {
	for {
		typ, b, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				slog.DebugContext(ctx, "api: read failed", "conn", id, "error", err)
			}
			return
		}

		if typ != websocket.MessageText {
			a.reject(ctx, id, "expected a text frame")
			continue
		}

		a.handle(ctx, id, b)
	}
}

func (a *API) handle(ctx context.Context, id string, b []byte) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		a.reject(ctx, id, "malformed frame")
		return
	}

	// Work started by a player, such as creating a session, outlives its connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultHandleTimeout)
	defer cancel()

	switch f.Event {
	case EventJoinQueue:
		var req JoinQueueRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			a.reject(ctx, id, "malformed %s data", f.Event)
			return
		}
		if req.UserID == "" {
			a.reject(ctx, id, "userId is required")
			return
		}

		err := a.mm.Join(ctx, domain.Participant{
			ConnectionID:  id,
			UserID:        req.UserID,
			Username:      req.Username,
			QuestionCount: req.QuestionCount,
		})
		switch {
		case err == nil:
		case errors.Is(err, errors.CodeUnavailable):
			// Both players already got an error frame.
			slog.WarnContext(ctx, "api: join queue failed", "conn", id, "error", err)
		default:
			slog.ErrorContext(ctx, "api: join queue failed", "conn", id, "error", err)
		}

	case EventSubmitAnswer:
		var req SubmitAnswerRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			a.reject(ctx, id, "malformed %s data", f.Event)
			return
		}
		if req.SessionID == "" || req.RoundIndex == nil || req.OptionIndex == nil {
			a.reject(ctx, id, "sessionId, roundIndex and optionIndex are required")
			return
		}

		// Late or duplicate answers are expected and ignored.
		a.bs.SubmitAnswer(ctx, domain.Answer{
			SessionID:    req.SessionID,
			ConnectionID: id,
			RoundIndex:   *req.RoundIndex,
			OptionIndex:  *req.OptionIndex,
		})

	default:
		a.reject(ctx, id, "unknown event %q", f.Event)
	}
}

func (a *API) detach(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultHandleTimeout)
	defer cancel()

	a.hub.Unregister(id)
	a.mm.Leave(id)
	a.bs.Disconnect(ctx, id)

	slog.InfoContext(ctx, "api: connection detached", "conn", id)
}

// reject replies an error frame to the connection only, it does not go through the fan-out.
func (a *API) reject(ctx context.Context, id, format string, args ...any) {
	e := errors.New(errors.CodeInvalidArgument, errors.WithMessagef(format, args...))

	b, err := json.Marshal(broadcast.Notification{
		Event: battle.EventError,
		Data:  e,
	})
	if err != nil {
		slog.ErrorContext(ctx, "api: marshal error frame failed", "error", err)
		return
	}

	a.hub.Deliver(id, b)
}
