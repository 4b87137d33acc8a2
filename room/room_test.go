package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/player"
	"github.com/cyberinferno/go-rooms/session/sessiontest"
)

type countingGame struct {
	runs   atomic.Int32
	closes atomic.Int32
	onRun  func(r *Room)
}

func (g *countingGame) Run(r *Room) {
	g.runs.Add(1)
	if g.onRun != nil {
		g.onRun(r)
	}
}

func (g *countingGame) Close(*Room) {
	g.closes.Add(1)
}

type hookGame struct {
	countingGame
	mu     sync.Mutex
	joined []string
	left   []string
}

func (g *hookGame) OnPlayerJoin(_ *Room, p *player.Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joined = append(g.joined, p.ID())
}

func (g *hookGame) OnPlayerLeave(_ *Room, p *player.Player) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.left = append(g.left, p.ID())
}

// orderGame records the order of Run and Close with the state seen by Run.
type orderGame struct {
	mu     sync.Mutex
	calls  []string
	onRun  func(r *Room)
	onJoin func(r *Room)
}

func (g *orderGame) Run(r *Room) {
	g.record("run:" + r.State().String())
	if g.onRun != nil {
		g.onRun(r)
	}
}

func (g *orderGame) Close(*Room) {
	g.record("close")
}

func (g *orderGame) OnPlayerJoin(r *Room, _ *player.Player) {
	if g.onJoin != nil {
		g.onJoin(r)
	}
}

func (g *orderGame) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *orderGame) log() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func newPlayer(id string) (*player.Player, *sessiontest.Recorder) {
	rec := sessiontest.NewRecorder("s-" + id)
	return player.NewWithSession(id, rec), rec
}

func TestRoom_AddPlayer(t *testing.T) {
	t.Run("rejects beyond capacity", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(2))
		a, _ := newPlayer("a")
		b, _ := newPlayer("b")
		c, _ := newPlayer("c")

		assert.True(t, r.AddPlayer(a))
		assert.True(t, r.AddPlayer(b))
		assert.False(t, r.AddPlayer(c))
		assert.Equal(t, 2, r.Len())
		_, ok := r.Player("c")
		assert.False(t, ok)
	})

	t.Run("rejects a duplicate identity", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(3))
		a, _ := newPlayer("a")
		assert.True(t, r.AddPlayer(a))
		assert.False(t, r.AddPlayer(a))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("non-positive capacity keeps the default", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(0))
		assert.Equal(t, DefaultCapacity, r.Capacity())
	})
}

func TestRoom_Capacity_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 12).Draw(t, "capacity")
		extra := rapid.IntRange(1, 5).Draw(t, "extra")
		g := &countingGame{}
		r := New(1, g, WithCapacity(capacity))

		accepted := 0
		for i := 0; i < capacity+extra; i++ {
			p, _ := newPlayer(fmt.Sprintf("p%d", i))
			if r.AddPlayer(p) {
				accepted++
			}
		}

		if accepted != capacity {
			t.Fatalf("accepted %d players, want %d", accepted, capacity)
		}
		if r.Len() != capacity {
			t.Fatalf("room has %d players, want %d", r.Len(), capacity)
		}
		if g.runs.Load() != 1 {
			t.Fatalf("run fired %d times, want 1", g.runs.Load())
		}
		if r.State() != Started {
			t.Fatalf("state %s, want started", r.State())
		}
	})
}

func TestRoom_TwoPlayerScenario(t *testing.T) {
	g := &countingGame{}
	r := New(1, g)
	a, recA := newPlayer("a")
	b, recB := newPlayer("b")

	require.True(t, r.AddPlayer(a))
	assert.Equal(t, Forming, r.State())
	assert.False(t, r.IsFull())
	assert.Equal(t, int32(0), g.runs.Load())

	joins := recA.SentFor(EventPlayerJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, "a", joins[0][PlayerIDKey])
	assert.Equal(t, "a", joins[0].SenderID())

	require.True(t, r.AddPlayer(b))
	assert.Equal(t, Started, r.State())
	assert.True(t, r.IsFull())
	assert.True(t, r.Started())
	assert.Equal(t, int32(1), g.runs.Load())

	joinsA := recA.SentFor(EventPlayerJoin)
	require.Len(t, joinsA, 2)
	assert.Equal(t, "b", joinsA[1][PlayerIDKey])

	joinsB := recB.SentFor(EventPlayerJoin)
	require.Len(t, joinsB, 1)
	assert.Equal(t, "b", joinsB[0][PlayerIDKey])
	assert.Equal(t, "b", joinsB[0].SenderID())
}

func TestRoom_RegisterReceiveEvent(t *testing.T) {
	t.Run("handlers registered while forming reach every player", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(3))
		var mu sync.Mutex
		got := map[string]int{}
		record := func(_ packet.Packet, sender *player.Player) {
			mu.Lock()
			got[sender.ID()]++
			mu.Unlock()
		}

		a, recA := newPlayer("a")
		require.True(t, r.AddPlayer(a))
		r.RegisterReceiveEvent("move", record)
		b, recB := newPlayer("b")
		require.True(t, r.AddPlayer(b))
		c, recC := newPlayer("c")
		require.True(t, r.AddPlayer(c))

		assert.True(t, recA.Emit("move", nil))
		assert.True(t, recB.Emit("move", nil))
		assert.True(t, recC.Emit("move", nil))
		assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, got)
	})

	t.Run("registration after start binds immediately", func(t *testing.T) {
		r := New(1, &countingGame{})
		a, recA := newPlayer("a")
		b, recB := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))

		var calls atomic.Int32
		r.RegisterReceiveEvent("chat", func(packet.Packet, *player.Player) { calls.Add(1) })

		assert.True(t, recA.Emit("chat", nil))
		assert.True(t, recB.Emit("chat", nil))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("handler registered inside Run is bound to everyone", func(t *testing.T) {
		var calls atomic.Int32
		g := &countingGame{onRun: func(r *Room) {
			r.RegisterReceiveEvent("ready", func(packet.Packet, *player.Player) { calls.Add(1) })
		}}
		r := New(1, g)
		a, recA := newPlayer("a")
		b, recB := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))

		recA.Emit("ready", nil)
		recB.Emit("ready", nil)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("replacement handler supersedes the old one", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(1))
		a, recA := newPlayer("a")
		var first, second atomic.Int32
		r.RegisterReceiveEvent("move", func(packet.Packet, *player.Player) { first.Add(1) })
		require.True(t, r.AddPlayer(a))
		r.RegisterReceiveEvent("move", func(packet.Packet, *player.Player) { second.Add(1) })

		recA.Emit("move", nil)
		assert.Equal(t, int32(0), first.Load())
		assert.Equal(t, int32(1), second.Load())
	})

	t.Run("handler receives the payload", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(1))
		a, recA := newPlayer("a")
		var x float64
		r.RegisterReceiveEvent("move", func(p packet.Packet, _ *player.Player) {
			x, _ = p["x"].(float64)
		})
		require.True(t, r.AddPlayer(a))

		recA.Emit("move", map[string]any{"x": 3})
		assert.Equal(t, float64(3), x)
	})

	t.Run("unregister unbinds from every player", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(1))
		a, recA := newPlayer("a")
		r.RegisterReceiveEvent("move", func(packet.Packet, *player.Player) {})
		require.True(t, r.AddPlayer(a))

		assert.True(t, r.UnregisterReceiveEvent("move"))
		assert.False(t, r.UnregisterReceiveEvent("move"))
		assert.False(t, recA.Emit("move", nil))
	})
}

func TestRoom_RemovePlayer(t *testing.T) {
	t.Run("non-member is rejected", func(t *testing.T) {
		r := New(1, &countingGame{})
		a, _ := newPlayer("a")
		stranger, _ := newPlayer("x")
		require.True(t, r.AddPlayer(a))

		assert.False(t, r.RemovePlayer(stranger))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("member is removed and the rest are notified", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(3))
		a, recA := newPlayer("a")
		b, recB := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))

		assert.True(t, r.RemovePlayer(b))
		assert.Equal(t, 1, r.Len())

		leaves := recA.SentFor(EventPlayerLeave)
		require.Len(t, leaves, 1)
		assert.Equal(t, "b", leaves[0][PlayerIDKey])
		assert.Empty(t, recB.SentFor(EventPlayerLeave))
	})

	t.Run("removal unbinds room handlers", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(3))
		a, recA := newPlayer("a")
		r.RegisterReceiveEvent("move", func(packet.Packet, *player.Player) {})
		require.True(t, r.AddPlayer(a))
		require.True(t, r.RemovePlayer(a))

		assert.False(t, recA.Emit("move", nil))
	})

	t.Run("leave hook replaces the default notification", func(t *testing.T) {
		g := &hookGame{}
		r := New(1, g, WithCapacity(3))
		a, recA := newPlayer("a")
		b, _ := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))
		require.True(t, r.RemovePlayer(b))

		assert.Equal(t, []string{"a", "b"}, g.joined)
		assert.Equal(t, []string{"b"}, g.left)
		assert.Empty(t, recA.SentFor(EventPlayerJoin))
		assert.Empty(t, recA.SentFor(EventPlayerLeave))
	})

	t.Run("vacated slot is not reused by default", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(2))
		a, _ := newPlayer("a")
		b, _ := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.RemovePlayer(a))

		assert.False(t, r.IsFull())
		require.True(t, r.AddPlayer(b))
		assert.True(t, r.IsFull())
		c, _ := newPlayer("c")
		assert.False(t, r.AddPlayer(c))
	})

	t.Run("backfill frees the slot", func(t *testing.T) {
		g := &countingGame{}
		r := New(1, g, WithCapacity(2), WithBackfill(true))
		a, _ := newPlayer("a")
		b, _ := newPlayer("b")
		c, _ := newPlayer("c")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))
		require.True(t, r.RemovePlayer(b))

		assert.False(t, r.IsFull())
		assert.True(t, r.AddPlayer(c))
		assert.Equal(t, Started, r.State())
		assert.Equal(t, int32(1), g.runs.Load())
	})
}

func TestRoom_ForceStart(t *testing.T) {
	t.Run("starts an under-filled room", func(t *testing.T) {
		g := &countingGame{}
		r := New(1, g, WithCapacity(4))
		a, _ := newPlayer("a")
		require.True(t, r.AddPlayer(a))

		assert.True(t, r.ForceStart())
		assert.Equal(t, Started, r.State())
		assert.Equal(t, 1, r.Capacity())
		assert.True(t, r.IsFull())
		assert.Equal(t, int32(1), g.runs.Load())

		b, _ := newPlayer("b")
		assert.False(t, r.AddPlayer(b))
	})

	t.Run("only from forming", func(t *testing.T) {
		g := &countingGame{}
		r := New(1, g, WithCapacity(1))
		a, _ := newPlayer("a")
		require.True(t, r.AddPlayer(a))

		assert.False(t, r.ForceStart())
		assert.Equal(t, int32(1), g.runs.Load())
	})
}

func TestRoom_Stop(t *testing.T) {
	t.Run("close runs once", func(t *testing.T) {
		g := &countingGame{}
		r := New(1, g, WithCapacity(1))
		a, _ := newPlayer("a")
		require.True(t, r.AddPlayer(a))

		assert.True(t, r.Stop())
		assert.False(t, r.Stop())
		assert.Equal(t, int32(1), g.closes.Load())
		assert.True(t, r.Ended())
		assert.True(t, r.Started())
	})

	t.Run("forming room cannot stop", func(t *testing.T) {
		g := &countingGame{}
		r := New(1, g)
		assert.False(t, r.Stop())
		assert.Equal(t, Forming, r.State())
		assert.Equal(t, int32(0), g.closes.Load())
	})

	t.Run("stop from the filling join hook closes after run", func(t *testing.T) {
		g := &orderGame{}
		g.onJoin = func(r *Room) {
			if r.IsFull() {
				assert.True(t, r.Stop())
				assert.False(t, r.Stop())
			}
		}
		r := New(1, g, WithCapacity(2))
		a, _ := newPlayer("a")
		b, _ := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))

		assert.Equal(t, []string{"run:started", "close"}, g.log())
		assert.Equal(t, Ended, r.State())
		assert.True(t, r.Ended())
	})

	t.Run("stop inside run is deferred", func(t *testing.T) {
		g := &orderGame{}
		g.onRun = func(r *Room) {
			assert.True(t, r.Stop())
			assert.True(t, r.Ended())
			assert.Equal(t, Started, r.State())
		}
		r := New(1, g, WithCapacity(1))
		a, _ := newPlayer("a")
		require.True(t, r.AddPlayer(a))

		assert.Equal(t, []string{"run:started", "close"}, g.log())
		assert.Equal(t, Ended, r.State())
	})

	t.Run("stopping room admits nobody", func(t *testing.T) {
		g := &orderGame{}
		r := New(1, g, WithCapacity(2), WithBackfill(true))
		g.onRun = func(r *Room) {
			b, _ := r.Player("b")
			require.True(t, r.RemovePlayer(b))
			require.True(t, r.Stop())
			c, _ := newPlayer("c")
			assert.False(t, r.AddPlayer(c))
		}
		a, _ := newPlayer("a")
		b, _ := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))
		assert.Equal(t, []string{"run:started", "close"}, g.log())
	})

	t.Run("ended room admits nobody", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(2), WithBackfill(true))
		a, _ := newPlayer("a")
		b, _ := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))
		require.True(t, r.RemovePlayer(b))
		require.True(t, r.Stop())

		c, _ := newPlayer("c")
		assert.False(t, r.AddPlayer(c))
	})
}

func TestRoom_Broadcast(t *testing.T) {
	t.Run("reaches only players present at call time", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(3))
		a, recA := newPlayer("a")
		b, recB := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))

		r.Broadcast("tick", packet.Packet{"n": 1})

		c, recC := newPlayer("c")
		require.True(t, r.AddPlayer(c))

		for _, rec := range []*sessiontest.Recorder{recA, recB} {
			ticks := rec.SentFor("tick")
			require.Len(t, ticks, 1)
			assert.Equal(t, "tick", ticks[0].Event())
			assert.Equal(t, 1, ticks[0]["n"])
		}
		assert.Empty(t, recC.SentFor("tick"))
	})

	t.Run("disconnected players do not stop delivery", func(t *testing.T) {
		r := New(1, &countingGame{}, WithCapacity(3))
		a, recA := newPlayer("a")
		b, _ := newPlayer("b")
		require.True(t, r.AddPlayer(a))
		require.True(t, r.AddPlayer(b))
		b.Disconnect()

		r.Broadcast("tick", packet.Packet{})
		assert.Len(t, recA.SentFor("tick"), 1)
	})
}

func TestRoom_ApplyFilter(t *testing.T) {
	r := New(1, &countingGame{}, WithCapacity(3))
	a, recA := newPlayer("a")
	b, recB := newPlayer("b")
	require.True(t, r.AddPlayer(a))
	require.True(t, r.AddPlayer(b))
	a.Set("team", "red")
	b.Set("team", "blue")

	red := r.Filter(func(p *player.Player) bool {
		team, _ := p.Get("team")
		return team == "red"
	})
	assert.Equal(t, 1, red.Len())
	assert.Equal(t, 2, r.Len(), "filter must not change membership")

	red.Broadcast("score", packet.Packet{})
	assert.Len(t, recA.SentFor("score"), 1)
	assert.Empty(t, recB.SentFor("score"))

	var seen []string
	view := r.Apply(func(p *player.Player) { seen = append(seen, p.ID()) })
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
	assert.Equal(t, 2, view.Len())
	assert.Len(t, view.Players(), 2)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "forming", Forming.String())
	assert.Equal(t, "started", Started.String())
	assert.Equal(t, "ended", Ended.String())
	assert.Equal(t, "unknown", State(9).String())
}
