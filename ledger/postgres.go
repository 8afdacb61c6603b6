package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // golang postgres driver
	"github.com/jmoiron/sqlx"

	"github.com/cloudx-io/dutchauction/core"
)

const uniqueViolation = "23505"

const schema = `
	CREATE TABLE IF NOT EXISTS auction_outcomes (
		sequence        BIGSERIAL PRIMARY KEY,
		run_id          TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		item            TEXT NOT NULL,
		won             BOOLEAN NOT NULL,
		winner          TEXT NOT NULL DEFAULT '',
		winning_bid     DOUBLE PRECISION NOT NULL DEFAULT 0,
		reason          TEXT NOT NULL DEFAULT '',
		rounds_run      INTEGER NOT NULL,
		prev_hash       TEXT NOT NULL,
		hash            TEXT NOT NULL,
		recorded_at     TIMESTAMPTZ NOT NULL
	)`

type entrySchema struct {
	Sequence       int64     `db:"sequence"`
	RunID          string    `db:"run_id"`
	ConversationID string    `db:"conversation_id"`
	Item           string    `db:"item"`
	Won            bool      `db:"won"`
	Winner         string    `db:"winner"`
	WinningBid     float64   `db:"winning_bid"`
	Reason         string    `db:"reason"`
	RoundsRun      int       `db:"rounds_run"`
	PrevHash       string    `db:"prev_hash"`
	Hash           string    `db:"hash"`
	RecordedAt     time.Time `db:"recorded_at"`
}

func fromEntry(e Entry) entrySchema {
	return entrySchema{
		Sequence:       e.Sequence,
		RunID:          e.RunID,
		ConversationID: e.Outcome.ConversationID,
		Item:           e.Outcome.Item,
		Won:            e.Outcome.Won,
		Winner:         e.Outcome.Winner,
		WinningBid:     e.Outcome.WinningBid,
		Reason:         string(e.Outcome.Reason),
		RoundsRun:      e.Outcome.RoundsRun,
		PrevHash:       e.PrevHash,
		Hash:           e.Hash,
		RecordedAt:     e.RecordedAt,
	}
}

func (s entrySchema) toEntry() Entry {
	return Entry{
		Sequence: s.Sequence,
		RunID:    s.RunID,
		Outcome: core.Outcome{
			ConversationID: s.ConversationID,
			Item:           s.Item,
			Won:            s.Won,
			Winner:         s.Winner,
			WinningBid:     s.WinningBid,
			Reason:         core.FailureReason(s.Reason),
			RoundsRun:      s.RoundsRun,
		},
		PrevHash:   s.PrevHash,
		Hash:       s.Hash,
		RecordedAt: s.RecordedAt,
	}
}

// Postgres is a ledger stored in PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

// Connect opens the database through the pgx driver and creates the table if needed.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlx.ConnectContext: %w", err)
	}
	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the outcome table.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create auction_outcomes: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Record appends the outcome. Writers are serialized with a table lock so the hash chain stays
// linear across processes.
func (p *Postgres) Record(ctx context.Context, runID string, outcome core.Outcome) (Entry, error) {
	var entry Entry
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE auction_outcomes IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("lock auction_outcomes: %w", err)
		}

		var prev string
		err := tx.GetContext(ctx, &prev, `SELECT hash FROM auction_outcomes ORDER BY sequence DESC LIMIT 1`)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read chain head: %w", err)
		}

		entry = Entry{
			RunID:      runID,
			Outcome:    outcome,
			PrevHash:   prev,
			Hash:       core.ComputeOutcomeHash(prev, outcome),
			RecordedAt: time.Now().UTC(),
		}

		query := `
			INSERT INTO auction_outcomes (
				run_id, conversation_id, item, won, winner, winning_bid,
				reason, rounds_run, prev_hash, hash, recorded_at
			) VALUES (
				:run_id, :conversation_id, :item, :won, :winner, :winning_bid,
				:reason, :rounds_run, :prev_hash, :hash, :recorded_at
			)
			RETURNING sequence`

		rows, err := tx.NamedQuery(query, fromEntry(entry))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicate, runID)
			}
			return fmt.Errorf("insert outcome: %w", err)
		}
		defer rows.Close()

		if rows.Next() {
			if err := rows.Scan(&entry.Sequence); err != nil {
				return fmt.Errorf("scan sequence: %w", err)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	var rows []entrySchema
	if err := p.db.SelectContext(ctx, &rows, `SELECT * FROM auction_outcomes ORDER BY sequence`); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
	}
	return entries, nil
}
