package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/botmaker/core/logger"
)

// casAttempts bounds the optimistic retries of one update.
const casAttempts = 5

// PostgresStore keeps one JSON document per user in the record_users table
// and the counters in the single record_stats row. Updates are
// compare-and-swap on the version column.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres wraps an open connection. Migrations must already be applied.
func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type userRow struct {
	ID      int64  `db:"id"`
	Doc     []byte `db:"doc"`
	Version int64  `db:"version"`
}

func decodeUser(row userRow) (*UserRecord, error) {
	var u UserRecord
	if err := json.Unmarshal(row.Doc, &u); err != nil {
		return nil, fmt.Errorf("decode user %d: %w", row.ID, err)
	}
	u.ID = row.ID
	return &u, nil
}

// GetUser loads one user or returns ErrNotFound.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*UserRecord, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, doc, version FROM record_users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return decodeUser(row)
}

// PutUser upserts the user's document unconditionally.
func (s *PostgresStore) PutUser(ctx context.Context, u *UserRecord) error {
	if u == nil || u.ID == 0 {
		return errors.New("records: put user without id")
	}
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO record_users (id, doc, version, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (id) DO UPDATE SET
	doc = EXCLUDED.doc,
	version = record_users.version + 1,
	updated_at = NOW()
`, u.ID, doc)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// ListUsers loads every user ordered by ID.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*UserRecord, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, doc, version FROM record_users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*UserRecord, 0, len(rows))
	for _, row := range rows {
		u, err := decodeUser(row)
		if err != nil {
			logger.Store.WarnContext(ctx, "skipping undecodable user",
				slog.String("event", "store.list"),
				slog.Int64("id", row.ID),
				logger.Err(err),
			)
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Update runs fn against the latest version and retries when another writer
// got in between.
func (s *PostgresStore) Update(ctx context.Context, id int64, fn UpdateFunc) (*UserRecord, error) {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		var row userRow
		err := s.db.GetContext(ctx, &row, `SELECT id, doc, version FROM record_users WHERE id = $1`, id)
		found := true
		switch {
		case errors.Is(err, sql.ErrNoRows):
			found = false
		case err != nil:
			return nil, fmt.Errorf("load user: %w", err)
		}

		work := &UserRecord{ID: id}
		if found {
			if work, err = decodeUser(row); err != nil {
				return nil, err
			}
		}
		before := work.Clone()
		if err := fn(work, found); err != nil {
			if errors.Is(err, ErrUnchanged) {
				if !found {
					return nil, ErrNotFound
				}
				return before, nil
			}
			return nil, err
		}
		work.ID = id

		doc, err := json.Marshal(work)
		if err != nil {
			return nil, fmt.Errorf("encode user: %w", err)
		}
		var res sql.Result
		if found {
			res, err = s.db.ExecContext(ctx, `
UPDATE record_users SET doc = $2, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $3
`, id, doc, row.Version)
		} else {
			res, err = s.db.ExecContext(ctx, `
INSERT INTO record_users (id, doc, version, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (id) DO NOTHING
`, id, doc)
		}
		if err != nil {
			return nil, fmt.Errorf("write user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return work, nil
		}
		logger.Store.DebugContext(ctx, "update lost race",
			slog.String("event", "store.cas"),
			slog.Int64("id", id),
			slog.Int("attempt", attempt),
		)
	}
	return nil, ErrConflict
}

type statsRow struct {
	Doc     []byte `db:"doc"`
	Version int64  `db:"version"`
}

func (s *PostgresStore) loadStats(ctx context.Context) (Stats, int64, error) {
	var row statsRow
	if err := s.db.GetContext(ctx, &row, `SELECT doc, version FROM record_stats WHERE id = 1`); err != nil {
		return Stats{}, 0, fmt.Errorf("load stats: %w", err)
	}
	var st Stats
	if err := json.Unmarshal(row.Doc, &st); err != nil {
		return Stats{}, 0, fmt.Errorf("decode stats: %w", err)
	}
	return st, row.Version, nil
}

// Stats returns the deployment counters.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st, _, err := s.loadStats(ctx)
	return st, err
}

// UpdateStats applies fn to the counters with the same CAS discipline as Update.
func (s *PostgresStore) UpdateStats(ctx context.Context, fn func(*Stats) error) error {
	for attempt := 1; attempt <= casAttempts; attempt++ {
		st, version, err := s.loadStats(ctx)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return nil
			}
			return err
		}
		doc, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		res, err := s.db.ExecContext(ctx, `
UPDATE record_stats SET doc = $1, version = version + 1
WHERE id = 1 AND version = $2
`, doc, version)
		if err != nil {
			return fmt.Errorf("write stats: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}
	return ErrConflict
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
