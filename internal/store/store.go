package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"orderflow.app/engine/core/db"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so stores can run
// inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Stores bundles all store implementations behind their interfaces.
type Stores struct {
	sessions     SessionStore
	interactions InteractionStore
	eventLogs    EventLogStore
}

func NewStores(database *db.DB) *Stores {
	return &Stores{
		sessions:     newSessionStore(database),
		interactions: newInteractionStore(database.Pool()),
		eventLogs:    newEventLogStore(database.Pool()),
	}
}

// NewStoresWith assembles Stores from explicit implementations. Tests use it
// to swap in mocks.
func NewStoresWith(sessions SessionStore, interactions InteractionStore, eventLogs EventLogStore) *Stores {
	return &Stores{
		sessions:     sessions,
		interactions: interactions,
		eventLogs:    eventLogs,
	}
}

func (s *Stores) Sessions() SessionStore         { return s.sessions }
func (s *Stores) Interactions() InteractionStore { return s.interactions }
func (s *Stores) EventLogs() EventLogStore       { return s.eventLogs }

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
