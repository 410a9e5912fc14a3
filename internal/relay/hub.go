// Package relay implements the WebSocket relay that sits between
// participants: it assigns seats, forwards frames verbatim and keeps the
// gravity allocation pool. It performs no simulation.
package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/protocol"
)

const journalTimeout = 5 * time.Second

// Hub routes frames between connected peers.
type Hub struct {
	maxSeats int
	journal  Journal
	logger   *zap.Logger

	mu     sync.Mutex
	peers  map[*peer]struct{}
	seats  map[int]*peer
	host   *peer
	pool   *allocationPool
	closed bool
}

// NewHub creates a hub with maxSeats seats.
//
// Precondition: maxSeats must be >= 1; logger must be non-nil. A nil journal
// is replaced with NopJournal.
func NewHub(maxSeats int, journal Journal, logger *zap.Logger) *Hub {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Hub{
		maxSeats: maxSeats,
		journal:  journal,
		logger:   logger,
		peers:    make(map[*peer]struct{}),
		seats:    make(map[int]*peer),
		pool:     newAllocationPool(),
	}
}

// Seats returns the occupied seat indices in ascending order.
func (h *Hub) Seats() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sortedSeats()
}

// Allocations returns a copy of the object id to seat gravity allocation.
func (h *Hub) Allocations() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pool.snapshot()
}

// attach adds an unregistered peer. It reports false once the hub is closed.
func (h *Hub) attach(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	return true
}

// detach removes p, frees its seat and hands its allocations to the lowest
// remaining seat.
func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	if _, ok := h.peers[p]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p)
	registered := p.registered
	if registered {
		h.unseat(p)
	}
	h.mu.Unlock()

	if !registered {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := h.journal.RecordLeave(ctx, p.id, time.Now()); err != nil {
		h.logger.Warn("journal leave failed",
			zap.String("conn_id", p.id.String()),
			zap.Error(err),
		)
	}
}

// unseat must be called with mu held.
func (h *Hub) unseat(p *peer) {
	seat := p.seat
	delete(h.seats, seat)
	if h.host == p {
		h.host = nil
	}
	p.registered = false

	h.logger.Info("participant left",
		zap.String("conn_id", p.id.String()),
		zap.Int("seat", seat),
		zap.Stringer("role", p.role),
	)

	h.broadcast(nil, protocol.GuestDisconnect(seat))

	next := h.lowestSeat()
	moved := h.pool.reassign(seat, next)
	for _, id := range moved {
		if next >= 0 {
			h.announceAllocation(id, next)
		}
	}
	if len(moved) > 0 {
		h.logger.Info("reallocated gravity",
			zap.Int("from_seat", seat),
			zap.Int("to_seat", next),
			zap.Strings("objects", moved),
		)
	}
}

// handle routes one inbound frame from p.
func (h *Hub) handle(p *peer, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		h.logger.Warn("dropping malformed frame",
			zap.String("conn_id", p.id.String()),
			zap.Error(err),
		)
		return
	}

	h.mu.Lock()
	joined, ok := h.route(p, msg, frame)
	h.mu.Unlock()

	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := h.journal.RecordJoin(ctx, joined); err != nil {
		h.logger.Warn("journal join failed",
			zap.String("conn_id", p.id.String()),
			zap.Error(err),
		)
	}
}

// route must be called with mu held. It reports a participation when the
// frame registered p.
func (h *Hub) route(p *peer, msg protocol.Message, frame []byte) (Participation, bool) {
	if _, ok := h.peers[p]; !ok {
		return Participation{}, false
	}
	if msg.Action == protocol.ActionRegist {
		return h.register(p, msg.Role)
	}
	if !p.registered {
		h.logger.Debug("dropping frame from unregistered connection",
			zap.String("conn_id", p.id.String()),
			zap.Stringer("action", msg.Action),
		)
		return Participation{}, false
	}

	switch msg.Action {
	case protocol.ActionAllocateGravity:
		h.allocate(p, msg.ObjectID(), msg.Active)
	case protocol.ActionAccept, protocol.ActionReject,
		protocol.ActionGuestDisconnect, protocol.ActionGuestParticipation:
		h.logger.Warn("dropping server action from participant",
			zap.String("conn_id", p.id.String()),
			zap.Int("seat", p.seat),
			zap.Stringer("action", msg.Action),
		)
	default:
		h.forward(p, frame)
	}
	return Participation{}, false
}

func (h *Hub) register(p *peer, role protocol.Role) (Participation, bool) {
	if p.registered {
		h.logger.Warn("ignoring repeated regist",
			zap.String("conn_id", p.id.String()),
			zap.Int("seat", p.seat),
		)
		return Participation{}, false
	}

	seat := h.freeSeat()
	var reason string
	switch {
	case role != protocol.RoleHost && role != protocol.RoleGuest:
		reason = "role cannot participate"
	case role == protocol.RoleHost && h.host != nil:
		reason = "host already present"
	case seat < 0:
		reason = "relay full"
	}
	if reason != "" {
		h.logger.Warn("rejecting participant",
			zap.String("conn_id", p.id.String()),
			zap.String("remote_addr", p.remoteAddr),
			zap.Stringer("role", role),
			zap.String("reason", reason),
		)
		h.deliver(p, protocol.Reject())
		p.kick()
		return Participation{}, false
	}

	p.registered = true
	p.seat = seat
	p.role = role
	h.seats[seat] = p
	if role == protocol.RoleHost {
		h.host = p
	}

	h.deliver(p, protocol.Accept(seat))
	h.broadcast(p, protocol.GuestParticipation(seat))
	for _, other := range h.sortedSeats() {
		if other != seat {
			h.deliver(p, protocol.GuestParticipation(other))
		}
	}
	for _, id := range h.pool.ids() {
		h.deliver(p, protocol.AllocateGravity(protocol.RoleServer, id, false))
	}

	h.logger.Info("participant registered",
		zap.String("conn_id", p.id.String()),
		zap.String("remote_addr", p.remoteAddr),
		zap.Int("seat", seat),
		zap.Stringer("role", role),
	)
	return Participation{
		ConnID:     p.id,
		Seat:       seat,
		Role:       role,
		RemoteAddr: p.remoteAddr,
		JoinedAt:   time.Now(),
	}, true
}

func (h *Hub) allocate(p *peer, id string, active bool) {
	if id == "" {
		h.logger.Warn("dropping allocation without object id",
			zap.Int("seat", p.seat),
		)
		return
	}
	if !active {
		if h.pool.release(id, p.seat) {
			h.logger.Debug("gravity allocation released",
				zap.String("object_id", id),
				zap.Int("seat", p.seat),
			)
		}
		return
	}
	holder := h.pool.claim(id, p.seat, func(seat int) bool {
		_, ok := h.seats[seat]
		return ok
	})
	h.logger.Debug("gravity allocated",
		zap.String("object_id", id),
		zap.Int("requested_by", p.seat),
		zap.Int("holder", holder),
	)
	h.announceAllocation(id, holder)
}

// announceAllocation tells holder it simulates id and everyone else that
// they do not.
func (h *Hub) announceAllocation(id string, holder int) {
	for seat, q := range h.seats {
		h.deliver(q, protocol.AllocateGravity(protocol.RoleServer, id, seat == holder))
	}
}

// forward sends frame unchanged to every registered peer except from.
func (h *Hub) forward(from *peer, frame []byte) {
	for _, q := range h.seats {
		if q == from {
			continue
		}
		h.enqueue(q, frame)
	}
}

// broadcast encodes msg and sends it to every registered peer except skip.
func (h *Hub) broadcast(skip *peer, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("encoding broadcast", zap.Stringer("action", msg.Action), zap.Error(err))
		return
	}
	h.forward(skip, frame)
}

func (h *Hub) deliver(p *peer, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("encoding reply", zap.Stringer("action", msg.Action), zap.Error(err))
		return
	}
	h.enqueue(p, frame)
}

// enqueue disconnects peers whose queue is full.
func (h *Hub) enqueue(p *peer, frame []byte) {
	if p.enqueue(frame) {
		return
	}
	select {
	case <-p.closed:
		return
	default:
	}
	h.logger.Warn("send queue full, disconnecting",
		zap.String("conn_id", p.id.String()),
		zap.Int("seat", p.seat),
	)
	p.kick()
}

// freeSeat returns the lowest unoccupied seat or -1 when full.
func (h *Hub) freeSeat() int {
	for seat := 0; seat < h.maxSeats; seat++ {
		if _, ok := h.seats[seat]; !ok {
			return seat
		}
	}
	return -1
}

// lowestSeat returns the lowest occupied seat or -1 when empty.
func (h *Hub) lowestSeat() int {
	seats := h.sortedSeats()
	if len(seats) == 0 {
		return -1
	}
	return seats[0]
}

func (h *Hub) sortedSeats() []int {
	out := make([]int, 0, len(h.seats))
	for seat := range h.seats {
		out = append(out, seat)
	}
	sort.Ints(out)
	return out
}

// closeAll refuses new peers and disconnects every current one.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for p := range h.peers {
		p.kick()
	}
}
