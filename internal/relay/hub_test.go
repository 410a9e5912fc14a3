package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/vrsync/internal/protocol"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

type recordingJournal struct {
	mu     sync.Mutex
	joins  []Participation
	leaves []uuid.UUID
	err    error
}

func (j *recordingJournal) RecordJoin(_ context.Context, p Participation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.joins = append(j.joins, p)
	return j.err
}

func (j *recordingJournal) RecordLeave(_ context.Context, id uuid.UUID, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.leaves = append(j.leaves, id)
	return j.err
}

func encode(t require.TestingT, msg protocol.Message) []byte {
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	return data
}

func connect(t require.TestingT, h *Hub, buffer int) *peer {
	p := newPeer("10.0.0.1:5000", buffer)
	require.True(t, h.attach(p))
	return p
}

func join(t require.TestingT, h *Hub, role protocol.Role) *peer {
	p := connect(t, h, 64)
	h.handle(p, encode(t, protocol.Regist(role)))
	return p
}

// received drains and decodes every queued frame.
func received(t require.TestingT, p *peer) []protocol.Message {
	var out []protocol.Message
	for {
		select {
		case frame := <-p.send:
			msg, err := protocol.Decode(frame)
			require.NoError(t, err)
			out = append(out, msg)
		default:
			return out
		}
	}
}

func isClosed(p *peer) bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func TestRegisterAssignsLowestSeats(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))

	host := join(t, h, protocol.RoleHost)
	assert.Equal(t, []protocol.Message{protocol.Accept(0)}, received(t, host))

	guest := join(t, h, protocol.RoleGuest)
	assert.Equal(t, []protocol.Message{
		protocol.Accept(1),
		protocol.GuestParticipation(0),
	}, received(t, guest), "newcomer learns about seats already present")
	assert.Equal(t, []protocol.Message{protocol.GuestParticipation(1)}, received(t, host))

	assert.Equal(t, []int{0, 1}, h.Seats())
}

func TestSecondHostRejected(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	host := join(t, h, protocol.RoleHost)
	received(t, host)

	second := join(t, h, protocol.RoleHost)
	assert.Equal(t, []protocol.Message{protocol.Reject()}, received(t, second))
	assert.True(t, isClosed(second))
	assert.Empty(t, received(t, host))
	assert.Equal(t, []int{0}, h.Seats())
}

func TestHostSlotFreedOnLeave(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	host := join(t, h, protocol.RoleHost)
	h.detach(host)

	again := join(t, h, protocol.RoleHost)
	assert.Equal(t, []protocol.Message{protocol.Accept(0)}, received(t, again))
}

func TestFullRelayRejects(t *testing.T) {
	h := NewHub(1, nil, zaptest.NewLogger(t))
	join(t, h, protocol.RoleGuest)

	late := join(t, h, protocol.RoleGuest)
	assert.Equal(t, []protocol.Message{protocol.Reject()}, received(t, late))
	assert.True(t, isClosed(late))
}

func TestServerRoleCannotRegister(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	p := join(t, h, protocol.RoleServer)
	assert.Equal(t, []protocol.Message{protocol.Reject()}, received(t, p))
	assert.Empty(t, h.Seats())
}

func TestRepeatedRegistIgnored(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	p := join(t, h, protocol.RoleGuest)
	received(t, p)

	h.handle(p, encode(t, protocol.Regist(protocol.RoleGuest)))
	assert.Empty(t, received(t, p))
	assert.Equal(t, []int{0}, h.Seats())
}

func TestForwardsFramesVerbatim(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	a := join(t, h, protocol.RoleHost)
	b := join(t, h, protocol.RoleGuest)
	c := join(t, h, protocol.RoleGuest)
	received(t, a)
	received(t, b)
	received(t, c)

	frame := []byte(`{ "role":1, "action":9, "seatIndex":-1, "extra":"kept",
		"transform":{"id":"cube1","position":{"x":1,"y":2,"z":3},"rotation":{"w":1},"scale":{"x":1,"y":1,"z":1}} }`)
	h.handle(a, frame)

	for _, q := range []*peer{b, c} {
		select {
		case got := <-q.send:
			assert.Equal(t, frame, got)
		default:
			t.Fatal("frame not forwarded")
		}
	}
	assert.Empty(t, received(t, a), "sender does not receive its own frame")
}

func TestUnregisteredFramesDropped(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	member := join(t, h, protocol.RoleHost)
	received(t, member)

	lurker := connect(t, h, 8)
	h.handle(lurker, encode(t, protocol.GrabLock(protocol.RoleGuest, "cube1", 3)))
	h.handle(lurker, encode(t, protocol.AllocateGravity(protocol.RoleGuest, "cube1", true)))

	assert.Empty(t, received(t, member))
	assert.Empty(t, h.Allocations())
}

func TestServerActionsFromParticipantDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := NewHub(4, nil, zap.New(core))
	a := join(t, h, protocol.RoleHost)
	b := join(t, h, protocol.RoleGuest)
	received(t, a)
	received(t, b)

	h.handle(a, encode(t, protocol.GuestDisconnect(1)))
	h.handle(a, encode(t, protocol.Accept(7)))

	assert.Empty(t, received(t, b))
	assert.Equal(t, 2, logs.FilterMessage("dropping server action from participant").Len())
}

func TestMalformedFrameDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := NewHub(4, nil, zap.New(core))
	a := join(t, h, protocol.RoleHost)
	b := join(t, h, protocol.RoleGuest)
	received(t, a)
	received(t, b)

	h.handle(a, []byte(`{"role":1,"action":42}`))
	h.handle(a, []byte(`not json`))

	assert.Empty(t, received(t, b))
	assert.Equal(t, 2, logs.FilterMessage("dropping malformed frame").Len())
}

func TestLeaveBroadcastsAndFreesSeat(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	a := join(t, h, protocol.RoleHost)
	b := join(t, h, protocol.RoleGuest)
	c := join(t, h, protocol.RoleGuest)
	received(t, a)
	received(t, b)
	received(t, c)

	h.detach(b)
	assert.Equal(t, []protocol.Message{protocol.GuestDisconnect(1)}, received(t, a))
	assert.Equal(t, []protocol.Message{protocol.GuestDisconnect(1)}, received(t, c))
	assert.Equal(t, []int{0, 2}, h.Seats())

	d := join(t, h, protocol.RoleGuest)
	msgs := received(t, d)
	require.NotEmpty(t, msgs)
	assert.Equal(t, protocol.Accept(1), msgs[0], "freed seat is reused")
	received(t, a)

	h.detach(b)
	assert.Empty(t, received(t, a), "detaching twice is a no-op")
}

func TestGravityAllocation(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	host := join(t, h, protocol.RoleHost)
	guest := join(t, h, protocol.RoleGuest)
	received(t, host)
	received(t, guest)

	h.handle(host, encode(t, protocol.AllocateGravity(protocol.RoleHost, "cube1", true)))
	assert.Equal(t, []protocol.Message{protocol.AllocateGravity(protocol.RoleServer, "cube1", true)}, received(t, host))
	assert.Equal(t, []protocol.Message{protocol.AllocateGravity(protocol.RoleServer, "cube1", false)}, received(t, guest))

	// A live holder keeps the object.
	h.handle(guest, encode(t, protocol.AllocateGravity(protocol.RoleGuest, "cube1", true)))
	assert.Equal(t, []protocol.Message{protocol.AllocateGravity(protocol.RoleServer, "cube1", true)}, received(t, host))
	assert.Equal(t, []protocol.Message{protocol.AllocateGravity(protocol.RoleServer, "cube1", false)}, received(t, guest))
	assert.Equal(t, map[string]int{"cube1": 0}, h.Allocations())

	// Newcomers are told they do not simulate pooled objects.
	late := join(t, h, protocol.RoleGuest)
	assert.Contains(t, received(t, late), protocol.AllocateGravity(protocol.RoleServer, "cube1", false))

	// Only the holder can release.
	h.handle(guest, encode(t, protocol.AllocateGravity(protocol.RoleGuest, "cube1", false)))
	assert.Equal(t, map[string]int{"cube1": 0}, h.Allocations())
	h.handle(host, encode(t, protocol.AllocateGravity(protocol.RoleHost, "cube1", false)))
	assert.Empty(t, h.Allocations())
}

func TestReallocationOnLeave(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	host := join(t, h, protocol.RoleHost)
	g1 := join(t, h, protocol.RoleGuest)
	g2 := join(t, h, protocol.RoleGuest)
	h.handle(host, encode(t, protocol.AllocateGravity(protocol.RoleHost, "cube1", true)))
	h.handle(host, encode(t, protocol.AllocateGravity(protocol.RoleHost, "door1", true)))
	received(t, g1)
	received(t, g2)

	h.detach(host)
	assert.Equal(t, []protocol.Message{
		protocol.GuestDisconnect(0),
		protocol.AllocateGravity(protocol.RoleServer, "cube1", true),
		protocol.AllocateGravity(protocol.RoleServer, "door1", true),
	}, received(t, g1))
	assert.Equal(t, []protocol.Message{
		protocol.GuestDisconnect(0),
		protocol.AllocateGravity(protocol.RoleServer, "cube1", false),
		protocol.AllocateGravity(protocol.RoleServer, "door1", false),
	}, received(t, g2))
	assert.Equal(t, map[string]int{"cube1": 1, "door1": 1}, h.Allocations())

	h.detach(g1)
	h.detach(g2)
	assert.Empty(t, h.Allocations(), "pool empties with the relay")
}

func TestRelayedSyncTransformRoundTrip(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	a := join(t, h, protocol.RoleHost)
	b := join(t, h, protocol.RoleGuest)
	received(t, a)
	received(t, b)

	info := protocol.NewTransformInfo("cube1", true, true, spatial.At(spatial.Vec3{1, 2, 3}))
	h.handle(a, encode(t, protocol.SyncTransform(protocol.RoleHost, info)))

	got := received(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, "cube1", got[0].ObjectID())
	assert.Equal(t, protocol.ActionSyncTransform, got[0].Action)
}

func TestJournalRecordsJoinAndLeave(t *testing.T) {
	journal := &recordingJournal{}
	h := NewHub(4, journal, zaptest.NewLogger(t))

	p := join(t, h, protocol.RoleGuest)
	h.detach(p)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.joins, 1)
	assert.Equal(t, p.id, journal.joins[0].ConnID)
	assert.Equal(t, 0, journal.joins[0].Seat)
	assert.Equal(t, protocol.RoleGuest, journal.joins[0].Role)
	assert.Equal(t, "10.0.0.1:5000", journal.joins[0].RemoteAddr)
	assert.Equal(t, []uuid.UUID{p.id}, journal.leaves)
}

func TestJournalFailureDoesNotAffectRelaying(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := NewHub(4, &recordingJournal{err: errors.New("db down")}, zap.New(core))

	a := join(t, h, protocol.RoleHost)
	assert.Equal(t, []protocol.Message{protocol.Accept(0)}, received(t, a))
	assert.Equal(t, 1, logs.FilterMessage("journal join failed").Len())

	h.detach(a)
	assert.Equal(t, 1, logs.FilterMessage("journal leave failed").Len())
	assert.Empty(t, h.Seats())
}

func TestUnregisteredLeaveNotJournaled(t *testing.T) {
	journal := &recordingJournal{}
	h := NewHub(4, journal, zaptest.NewLogger(t))
	p := connect(t, h, 4)
	h.detach(p)
	assert.Empty(t, journal.leaves)
}

func TestSlowConsumerDisconnected(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	fast := join(t, h, protocol.RoleHost)
	slow := connect(t, h, 1)
	h.handle(slow, encode(t, protocol.Regist(protocol.RoleGuest)))
	// accept fills the queue; the participation notice overflows it.
	assert.True(t, isClosed(slow))

	received(t, fast)
	h.handle(fast, encode(t, protocol.GrabLock(protocol.RoleHost, "cube1", 0)))
	assert.Len(t, slow.send, 1)
}

func TestClosedHubRefusesPeers(t *testing.T) {
	h := NewHub(4, nil, zaptest.NewLogger(t))
	p := join(t, h, protocol.RoleGuest)
	h.closeAll()
	assert.True(t, isClosed(p))
	assert.False(t, h.attach(newPeer("x", 1)))
}

// Property-based tests

func TestPropertySeatAssignment(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSeats := rapid.IntRange(1, 6).Draw(rt, "max_seats")
		h := NewHub(maxSeats, nil, zap.NewNop())

		var live []*peer
		ops := rapid.IntRange(1, 40).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			if len(live) > 0 && rapid.Bool().Draw(rt, "leave") {
				idx := rapid.IntRange(0, len(live)-1).Draw(rt, "victim")
				h.detach(live[idx])
				live = append(live[:idx], live[idx+1:]...)
				continue
			}

			role := rapid.SampledFrom([]protocol.Role{protocol.RoleHost, protocol.RoleGuest}).Draw(rt, "role")
			expected := lowestFree(h.Seats(), maxSeats)
			hostPresent := false
			for _, p := range live {
				if p.role == protocol.RoleHost {
					hostPresent = true
				}
			}

			p := join(rt, h, role)
			msgs := received(rt, p)
			if len(msgs) == 0 {
				rt.Fatalf("no reply to regist")
			}
			if expected < 0 || (role == protocol.RoleHost && hostPresent) {
				if msgs[0].Action != protocol.ActionReject {
					rt.Fatalf("expected reject, got %v", msgs[0].Action)
				}
				h.detach(p)
				continue
			}
			if msgs[0] != protocol.Accept(expected) {
				rt.Fatalf("expected accept(%d), got %+v", expected, msgs[0])
			}
			live = append(live, p)
			for _, q := range live {
				received(rt, q)
			}
		}

		seats := h.Seats()
		if len(seats) != len(live) {
			rt.Fatalf("seat count %d != live peers %d", len(seats), len(live))
		}
		hosts := 0
		seen := make(map[int]bool)
		for _, p := range live {
			if p.seat < 0 || p.seat >= maxSeats {
				rt.Fatalf("seat %d out of range", p.seat)
			}
			if seen[p.seat] {
				rt.Fatalf("seat %d assigned twice", p.seat)
			}
			seen[p.seat] = true
			if p.role == protocol.RoleHost {
				hosts++
			}
		}
		if hosts > 1 {
			rt.Fatalf("%d hosts registered", hosts)
		}
	})
}

func TestPropertyAllocationSingleHolder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := NewHub(4, nil, zap.NewNop())
		peers := []*peer{
			join(rt, h, protocol.RoleHost),
			join(rt, h, protocol.RoleGuest),
			join(rt, h, protocol.RoleGuest),
		}
		ids := []string{"cube1", "door1", "lamp"}

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			p := rapid.SampledFrom(peers).Draw(rt, "peer")
			id := rapid.SampledFrom(ids).Draw(rt, "id")
			active := rapid.Bool().Draw(rt, "active")
			before, held := h.Allocations()[id]
			h.handle(p, encode(rt, protocol.AllocateGravity(p.role, id, active)))
			after, nowHeld := h.Allocations()[id]

			switch {
			case active && held && after != before:
				rt.Fatalf("%s moved from live seat %d to %d", id, before, after)
			case active && !nowHeld:
				rt.Fatalf("%s not allocated after request", id)
			case !active && held && before == p.seat && nowHeld:
				rt.Fatalf("%s still held after holder released it", id)
			}
			for _, q := range peers {
				received(rt, q)
			}
		}
	})
}

func lowestFree(occupied []int, maxSeats int) int {
	taken := make(map[int]bool, len(occupied))
	for _, s := range occupied {
		taken[s] = true
	}
	for s := 0; s < maxSeats; s++ {
		if !taken[s] {
			return s
		}
	}
	return -1
}
