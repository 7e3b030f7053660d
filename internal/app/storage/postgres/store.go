package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/signal_bridge/internal/app/storage"
	"github.com/R3E-Network/signal_bridge/internal/engine/state"
)

// Store implements storage.Store for one chain, backed by PostgreSQL. Several
// chains may share a database; every row is keyed by chain ID.
type Store struct {
	db      *sqlx.DB
	chainID int64
	ownsDB  bool
}

var _ storage.Store = (*Store)(nil)

// New creates a Store for chainID using the provided database handle. The
// caller keeps ownership of db.
func New(db *sqlx.DB, chainID uint64) *Store {
	return &Store{db: db, chainID: int64(chainID)}
}

// Open connects to dsn, applies migrations and returns a Store that closes the
// connection on Close.
func Open(ctx context.Context, dsn string, chainID uint64) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	s := New(db, chainID)
	s.ownsDB = true
	return s, nil
}

func key(h common.Hash) string { return h.Hex() }

// --- SignalStore -------------------------------------------------------------

func (s *Store) RaiseSignal(ctx context.Context, signal common.Hash) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_signals (chain_id, signal)
		VALUES ($1, $2)
		ON CONFLICT (chain_id, signal) DO NOTHING
	`, s.chainID, key(signal))
	if err != nil {
		return false, fmt.Errorf("raise signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) IsSignalRaised(ctx context.Context, signal common.Hash) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM bridge_signals WHERE chain_id = $1 AND signal = $2)
	`, s.chainID, key(signal))
	if err != nil {
		return false, fmt.Errorf("read signal: %w", err)
	}
	return exists, nil
}

func (s *Store) RetractSignal(ctx context.Context, signal common.Hash) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM bridge_signals WHERE chain_id = $1 AND signal = $2
	`, s.chainID, key(signal))
	return err
}

// --- StatusStore -------------------------------------------------------------

func (s *Store) GetStatus(ctx context.Context, msgHash common.Hash) (state.Status, error) {
	var status int32
	err := s.db.GetContext(ctx, &status, `
		SELECT status FROM bridge_message_status WHERE chain_id = $1 AND msg_hash = $2
	`, s.chainID, key(msgHash))
	if errors.Is(err, sql.ErrNoRows) {
		return state.StatusNew, nil
	}
	if err != nil {
		return state.StatusNew, fmt.Errorf("read status: %w", err)
	}
	return state.Status(status), nil
}

func (s *Store) SetStatus(ctx context.Context, msgHash common.Hash, status state.Status) error {
	if status == state.StatusNew {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM bridge_message_status WHERE chain_id = $1 AND msg_hash = $2
		`, s.chainID, key(msgHash))
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_message_status (chain_id, msg_hash, status, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id, msg_hash)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, s.chainID, key(msgHash), int32(status))
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status state.Status, limit int) ([]common.Hash, error) {
	if status == state.StatusNew {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	var rows []string
	err := s.db.SelectContext(ctx, &rows, `
		SELECT msg_hash FROM bridge_message_status
		WHERE chain_id = $1 AND status = $2
		ORDER BY msg_hash
		LIMIT $3
	`, s.chainID, int32(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	out := make([]common.Hash, 0, len(rows))
	for _, r := range rows {
		out = append(out, common.HexToHash(r))
	}
	return out, nil
}

// --- RecallStore -------------------------------------------------------------

func (s *Store) MarkRecalled(ctx context.Context, msgHash common.Hash) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_recalls (chain_id, msg_hash)
		VALUES ($1, $2)
		ON CONFLICT (chain_id, msg_hash) DO NOTHING
	`, s.chainID, key(msgHash))
	if err != nil {
		return false, fmt.Errorf("mark recalled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) UnmarkRecalled(ctx context.Context, msgHash common.Hash) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM bridge_recalls WHERE chain_id = $1 AND msg_hash = $2
	`, s.chainID, key(msgHash))
	return err
}

func (s *Store) IsRecalled(ctx context.Context, msgHash common.Hash) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM bridge_recalls WHERE chain_id = $1 AND msg_hash = $2)
	`, s.chainID, key(msgHash))
	if err != nil {
		return false, fmt.Errorf("read recalled: %w", err)
	}
	return exists, nil
}

// Close closes the connection if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
