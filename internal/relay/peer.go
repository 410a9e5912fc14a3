package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/vrsync/internal/protocol"
)

// peer is one relay connection. Registration fields are guarded by the
// hub's mutex; the queue and closed channel are safe for concurrent use.
type peer struct {
	id         uuid.UUID
	remoteAddr string

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	registered bool
	seat       int
	role       protocol.Role
}

func newPeer(remoteAddr string, buffer int) *peer {
	return &peer{
		id:         uuid.New(),
		remoteAddr: remoteAddr,
		send:       make(chan []byte, buffer),
		closed:     make(chan struct{}),
		seat:       -1,
	}
}

// enqueue queues frame without blocking. It reports false when the peer is
// closed or its queue is full.
func (p *peer) enqueue(frame []byte) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// kick signals the writer to flush and close the connection.
func (p *peer) kick() {
	p.closeOnce.Do(func() { close(p.closed) })
}
