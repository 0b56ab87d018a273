package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// PositionStore implements domain.PositionRepository using PostgreSQL.
// Identities come from the positions.id sequence.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionRepository = (*PositionStore)(nil)

const positionSelectCols = `id, base_currency, quote_currency, amount::text,
	stop_gain_pct, stop_loss_pct, status, open_order_id,
	COALESCE(close_order_id, ''), created_at, updated_at`

func scanPosition(row pgx.Row) (domain.PositionSnapshot, error) {
	var (
		s           domain.PositionSnapshot
		base, quote string
		amount      string
		status      string
	)
	if err := row.Scan(
		&s.ID, &base, &quote, &amount,
		&s.Rules.StopGainPercentage, &s.Rules.StopLossPercentage,
		&status, &s.OpenOrderID, &s.CloseOrderID,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return domain.PositionSnapshot{}, err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	s.Pair = domain.CurrencyPair{Base: domain.Currency(base), Quote: domain.Currency(quote)}
	s.Amount = amt
	s.Status = domain.PositionStatus(status)
	return s, nil
}

func scanPositions(rows pgx.Rows) ([]domain.PositionSnapshot, error) {
	defer rows.Close()
	var out []domain.PositionSnapshot
	for rows.Next() {
		s, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Save inserts a snapshot without identity, returning the assigned id, or
// upserts a snapshot that already has one.
func (s *PositionStore) Save(ctx context.Context, snap domain.PositionSnapshot) (domain.PositionSnapshot, error) {
	closeOrder := nullable(snap.CloseOrderID)
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = snap.CreatedAt
	}

	if snap.ID == 0 {
		const insert = `
			INSERT INTO positions (
				base_currency, quote_currency, amount, stop_gain_pct, stop_loss_pct,
				status, open_order_id, close_order_id, created_at, updated_at
			) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`
		err := s.pool.QueryRow(ctx, insert,
			string(snap.Pair.Base), string(snap.Pair.Quote), snap.Amount.String(),
			snap.Rules.StopGainPercentage, snap.Rules.StopLossPercentage,
			string(snap.Status), snap.OpenOrderID, closeOrder,
			snap.CreatedAt, snap.UpdatedAt,
		).Scan(&snap.ID)
		if err != nil {
			return domain.PositionSnapshot{}, fmt.Errorf("postgres: insert position: %w", err)
		}
		return snap, nil
	}

	const upsert = `
		INSERT INTO positions (
			id, base_currency, quote_currency, amount, stop_gain_pct, stop_loss_pct,
			status, open_order_id, close_order_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			stop_gain_pct  = EXCLUDED.stop_gain_pct,
			stop_loss_pct  = EXCLUDED.stop_loss_pct,
			status         = EXCLUDED.status,
			close_order_id = EXCLUDED.close_order_id,
			updated_at     = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, upsert,
		snap.ID, string(snap.Pair.Base), string(snap.Pair.Quote), snap.Amount.String(),
		snap.Rules.StopGainPercentage, snap.Rules.StopLossPercentage,
		string(snap.Status), snap.OpenOrderID, closeOrder,
		snap.CreatedAt, snap.UpdatedAt,
	); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("postgres: upsert position %d: %w", snap.ID, err)
	}
	return snap, nil
}

// LoadAll returns every position snapshot ordered by id.
func (s *PositionStore) LoadAll(ctx context.Context) ([]domain.PositionSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionSelectCols+` FROM positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return out, nil
}

// ListClosedBefore returns closed, not yet archived positions last updated
// before the cut-off.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.PositionSnapshot, error) {
	const query = `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'CLOSED' AND archived_at IS NULL AND updated_at < $1
		ORDER BY id`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return out, nil
}

// MarkArchived flags positions as exported to cold storage.
func (s *PositionStore) MarkArchived(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE positions SET archived_at = NOW() WHERE id = ANY($1)`, ids,
	); err != nil {
		return fmt.Errorf("postgres: mark %d positions archived: %w", len(ids), err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
