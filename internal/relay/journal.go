package relay

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/vrsync/internal/protocol"
)

// Participation describes one registered connection.
type Participation struct {
	ConnID     uuid.UUID
	Seat       int
	Role       protocol.Role
	RemoteAddr string
	JoinedAt   time.Time
}

// Journal persists join and leave events. Journal errors are logged by the
// hub and never affect relaying.
type Journal interface {
	RecordJoin(ctx context.Context, p Participation) error
	RecordLeave(ctx context.Context, connID uuid.UUID, leftAt time.Time) error
}

// NopJournal discards every event.
type NopJournal struct{}

// RecordJoin does nothing.
func (NopJournal) RecordJoin(context.Context, Participation) error { return nil }

// RecordLeave does nothing.
func (NopJournal) RecordLeave(context.Context, uuid.UUID, time.Time) error { return nil }
