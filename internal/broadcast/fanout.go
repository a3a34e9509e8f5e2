package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizbattle/internal/hub"
)

const (
	maxConcurrent  = 100
	defaultRoomTTL = 2 * time.Hour
)

// Notification is the envelope of every message pushed to a connection.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Config struct {
	Redis   redis.UniversalClient
	Prefix  string
	Hub     *hub.Hub
	RoomTTL time.Duration
}

// Fanout delivers notifications to connections regardless of the process they are attached to.
//
// Every connection has its own channel <prefix>:conn:<id>. Each process subscribes to
// the pattern of all connection channels and hands over the messages addressed to the
// connections registered in its hub. Room membership lives in Redis sets, so any process
// can broadcast to a room.
type Fanout struct {
	redis   redis.UniversalClient
	prefix  string
	hub     *hub.Hub
	roomTTL time.Duration

	mu   sync.Mutex
	sub  *redis.PubSub
	done chan struct{}
}

func New(c Config) *Fanout {
	if c.RoomTTL <= 0 {
		c.RoomTTL = defaultRoomTTL
	}

	return &Fanout{
		redis:   c.Redis,
		prefix:  c.Prefix,
		hub:     c.Hub,
		roomTTL: c.RoomTTL,
	}
}

// Start subscribes to the connection channels. It returns once the subscription is confirmed.
func (f *Fanout) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sub != nil {
		return nil
	}

	sub := f.redis.PSubscribe(ctx, f.connChannel("*"))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("broadcast: psubscribe: %w", err)
	}

	f.sub = sub
	f.done = make(chan struct{})
	go f.deliver(sub.Channel(), f.done)

	return nil
}

func (f *Fanout) deliver(ch <-chan *redis.Message, done chan<- struct{}) {
	defer close(done)

	prefix := f.connChannel("")
	for msg := range ch {
		id := strings.TrimPrefix(msg.Channel, prefix)
		// Connections of other processes are not in the hub, they are served elsewhere.
		f.hub.Deliver(id, []byte(msg.Payload))
	}
}

// Stop closes the subscription and waits for the delivery loop to exit.
func (f *Fanout) Stop() {
	f.mu.Lock()
	sub, done := f.sub, f.done
	f.sub, f.done = nil, nil
	f.mu.Unlock()

	if sub == nil {
		return
	}

	if err := sub.Close(); err != nil {
		slog.Error("broadcast: close subscription failed", "error", err)
	}
	<-done
}

// Unicast sends a notification to a single connection.
func (f *Fanout) Unicast(ctx context.Context, connID, event string, data any) error {
	b, err := encode(event, data)
	if err != nil {
		return err
	}

	return f.publish(ctx, connID, b)
}

// Join adds connections to a room.
func (f *Fanout) Join(ctx context.Context, room string, connIDs ...string) error {
	if len(connIDs) == 0 {
		return nil
	}

	members := make([]any, 0, len(connIDs))
	for _, id := range connIDs {
		members = append(members, id)
	}

	key := f.roomKey(room)
	_, err := f.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, members...)
		p.Expire(ctx, key, f.roomTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("broadcast: join room %s: %w", room, err)
	}

	return nil
}

// Broadcast sends a notification to every member of a room.
func (f *Fanout) Broadcast(ctx context.Context, room, event string, data any) error {
	members, err := f.redis.SMembers(ctx, f.roomKey(room)).Result()
	if err != nil {
		return fmt.Errorf("broadcast: room %s members: %w", room, err)
	}

	if len(members) == 0 {
		return nil
	}

	b, err := encode(event, data)
	if err != nil {
		return err
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, id := range members {
		eg.Go(func() error {
			return f.publish(ctx, id, b)
		})
	}

	return eg.Wait()
}

// Close deletes a room. Members keep their connections.
func (f *Fanout) Close(ctx context.Context, room string) error {
	if err := f.redis.Del(ctx, f.roomKey(room)).Err(); err != nil {
		return fmt.Errorf("broadcast: close room %s: %w", room, err)
	}

	return nil
}

// Check pings the pub/sub backbone, it's used by the health endpoint.
func (f *Fanout) Check(ctx context.Context) error {
	return f.redis.Ping(ctx).Err()
}

func (f *Fanout) publish(ctx context.Context, connID string, b []byte) error {
	if err := f.redis.Publish(ctx, f.connChannel(connID), b).Err(); err != nil {
		return fmt.Errorf("broadcast: publish to %s: %w", connID, err)
	}

	return nil
}

func encode(event string, data any) ([]byte, error) {
	if data == nil {
		data = struct{}{}
	}

	b, err := json.Marshal(Notification{
		Event: event,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast: marshal %s: %w", event, err)
	}

	return b, nil
}

func (f *Fanout) connChannel(connID string) string {
	return fmt.Sprintf("%s:conn:%s", f.prefix, connID)
}

func (f *Fanout) roomKey(room string) string {
	return fmt.Sprintf("%s:room:%s", f.prefix, room)
}
