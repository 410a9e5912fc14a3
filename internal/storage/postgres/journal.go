package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/vrsync/internal/protocol"
	"github.com/cory-johannsen/vrsync/internal/relay"
)

// ErrParticipationNotFound is returned when a leave has no open join row.
var ErrParticipationNotFound = errors.New("participation not found")

// ErrParticipationExists is returned when a connection id is journaled twice.
var ErrParticipationExists = errors.New("participation already recorded")

// JournalRepository records relay participation in the participations table.
// It implements relay.Journal.
type JournalRepository struct {
	db *pgxpool.Pool
}

// NewJournalRepository creates a JournalRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewJournalRepository(db *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{db: db}
}

// RecordJoin inserts an open participation row.
//
// Postcondition: Returns ErrParticipationExists if p.ConnID is already journaled.
func (r *JournalRepository) RecordJoin(ctx context.Context, p relay.Participation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO participations (conn_id, seat, role, remote_addr, joined_at)
		 VALUES ($1::uuid, $2, $3, $4, $5)`,
		p.ConnID.String(), p.Seat, p.Role.String(), p.RemoteAddr, p.JoinedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrParticipationExists
		}
		return fmt.Errorf("inserting participation: %w", err)
	}
	return nil
}

// RecordLeave closes the open participation of connID.
//
// Postcondition: Returns ErrParticipationNotFound if no open row exists.
func (r *JournalRepository) RecordLeave(ctx context.Context, connID uuid.UUID, leftAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE participations SET left_at = $2
		 WHERE conn_id = $1::uuid AND left_at IS NULL`,
		connID.String(), leftAt,
	)
	if err != nil {
		return fmt.Errorf("closing participation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipationNotFound
	}
	return nil
}

// ActiveParticipants returns every open participation ordered by seat.
func (r *JournalRepository) ActiveParticipants(ctx context.Context) ([]relay.Participation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT conn_id::text, seat, role, remote_addr, joined_at
		 FROM participations WHERE left_at IS NULL
		 ORDER BY seat, joined_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying participations: %w", err)
	}
	defer rows.Close()

	var out []relay.Participation
	for rows.Next() {
		var (
			p      relay.Participation
			connID string
			role   string
		)
		if err := rows.Scan(&connID, &p.Seat, &role, &p.RemoteAddr, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning participation: %w", err)
		}
		if p.ConnID, err = uuid.Parse(connID); err != nil {
			return nil, fmt.Errorf("parsing conn_id %q: %w", connID, err)
		}
		if p.Role, err = protocol.ParseRole(role); err != nil {
			return nil, fmt.Errorf("parsing role: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participations: %w", err)
	}
	return out, nil
}

// CloseDangling marks every open participation as left at the given time.
// The relay calls it on startup since a restart drops all connections.
//
// Postcondition: Returns the number of rows closed.
func (r *JournalRepository) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE participations SET left_at = $1 WHERE left_at IS NULL`, at,
	)
	if err != nil {
		return 0, fmt.Errorf("closing dangling participations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
