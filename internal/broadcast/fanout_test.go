package broadcast_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbattle/internal/broadcast"
	"github.com/victornm/quizbattle/internal/hub"
)

func TestFanout_Unicast(t *testing.T) {
	rs := miniredis.RunT(t)
	h := hub.New(hub.Config{})
	f := makeFanout(t, rs, h)

	out := h.Register("c1")
	other := h.Register("c2")

	err := f.Unicast(context.Background(), "c1", "waiting", nil)
	require.NoError(t, err)

	n := receive(t, out)
	assert.Equal(t, "waiting", n.Event)
	assert.JSONEq(t, `{}`, string(n.Data))

	assertNothing(t, other)
}

func TestFanout_Broadcast(t *testing.T) {
	type (
		inputs struct {
			rooms map[string][]string
			room  string
		}

		outputs struct {
			received map[string]int
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"all members of the room should receive the notification": {
			arrange: func() inputs {
				return inputs{
					rooms: map[string][]string{"s1": {"c1", "c2"}},
					room:  "s1",
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, map[string]int{"c1": 1, "c2": 1}, out.received)
			},
		},

		"members of other rooms should not receive the notification": {
			arrange: func() inputs {
				return inputs{
					rooms: map[string][]string{"s1": {"c1", "c2"}, "s2": {"c3", "c4"}},
					room:  "s2",
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, map[string]int{"c3": 1, "c4": 1}, out.received)
			},
		},

		"broadcasting to an unknown room should be a no-op": {
			arrange: func() inputs {
				return inputs{
					rooms: map[string][]string{"s1": {"c1", "c2"}},
					room:  "s9",
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Empty(t, out.received)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in, out := tt.arrange(), outputs{received: make(map[string]int)}

			rs := miniredis.RunT(t)
			h := hub.New(hub.Config{})
			f := makeFanout(t, rs, h)
			ctx := context.Background()

			outboxes := make(map[string]<-chan []byte)
			for room, members := range in.rooms {
				for _, m := range members {
					outboxes[m] = h.Register(m)
				}
				require.NoError(t, f.Join(ctx, room, members...))
			}

			require.NoError(t, f.Broadcast(ctx, in.room, "round_result", map[string]int{"roundIndex": 1}))

			for id, ch := range outboxes {
				select {
				case <-ch:
					out.received[id]++
				case <-time.After(100 * time.Millisecond):
				}
			}

			tt.assert(t, out)
		})
	}
}

func TestFanout_AcrossInstances(t *testing.T) {
	rs := miniredis.RunT(t)
	ctx := context.Background()

	h1, h2 := hub.New(hub.Config{}), hub.New(hub.Config{})
	f1, f2 := makeFanout(t, rs, h1), makeFanout(t, rs, h2)

	out1 := h1.Register("c1")
	out2 := h2.Register("c2")

	require.NoError(t, f1.Join(ctx, "s1", "c1", "c2"))
	require.NoError(t, f2.Broadcast(ctx, "s1", "session_finished", map[string]string{"sessionId": "s1"}))

	assert.Equal(t, "session_finished", receive(t, out1).Event)
	assert.Equal(t, "session_finished", receive(t, out2).Event)

	// Each instance only delivers to its own connections.
	assertNothing(t, out1)
	assertNothing(t, out2)
}

func TestFanout_Close(t *testing.T) {
	rs := miniredis.RunT(t)
	h := hub.New(hub.Config{})
	f := makeFanout(t, rs, h)
	ctx := context.Background()

	out := h.Register("c1")
	require.NoError(t, f.Join(ctx, "s1", "c1"))
	require.True(t, rs.Exists("test:room:s1"))

	require.NoError(t, f.Close(ctx, "s1"))
	assert.False(t, rs.Exists("test:room:s1"))

	require.NoError(t, f.Broadcast(ctx, "s1", "round_result", nil))
	assertNothing(t, out)
}

func TestFanout_RoomExpires(t *testing.T) {
	rs := miniredis.RunT(t)
	h := hub.New(hub.Config{})
	f := broadcast.New(broadcast.Config{
		Redis:   makeRedis(t, rs),
		Prefix:  "test",
		Hub:     h,
		RoomTTL: time.Minute,
	})

	require.NoError(t, f.Join(context.Background(), "s1", "c1", "c2"))
	assert.Equal(t, time.Minute, rs.TTL("test:room:s1"))

	rs.FastForward(2 * time.Minute)
	assert.False(t, rs.Exists("test:room:s1"))
}

type notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func receive(t *testing.T, ch <-chan []byte) notification {
	t.Helper()

	select {
	case b, ok := <-ch:
		require.True(t, ok, "outbox closed unexpectedly")
		var n notification
		require.NoError(t, json.Unmarshal(b, &n))
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return notification{}
	}
}

func assertNothing(t *testing.T, ch <-chan []byte) {
	t.Helper()

	select {
	case b := <-ch:
		t.Fatalf("expected no notification, got %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func makeFanout(t *testing.T, rs *miniredis.Miniredis, h *hub.Hub) *broadcast.Fanout {
	f := broadcast.New(broadcast.Config{
		Redis:  makeRedis(t, rs),
		Prefix: "test",
		Hub:    h,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, f.Start(ctx), "should be able to subscribe")
	t.Cleanup(f.Stop)

	return f
}

func makeRedis(t *testing.T, rs *miniredis.Miniredis) redis.UniversalClient {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return rc
}
