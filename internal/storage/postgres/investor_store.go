package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

// InvestorStore reads investor profiles from the investors table.
type InvestorStore struct {
	pool *Pool
}

// NewInvestorStore creates a new InvestorStore.
func NewInvestorStore(pool *Pool) *InvestorStore {
	return &InvestorStore{pool: pool}
}

// ByUserID resolves the investor profile of a platform user.
func (s *InvestorStore) ByUserID(ctx context.Context, userID string) (*domain.Investor, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, name, email FROM investors WHERE user_id = $1`, userID)
	return scanInvestor(row, "get investor by user")
}

// ByID retrieves an investor profile by investor ID.
func (s *InvestorStore) ByID(ctx context.Context, investorID string) (*domain.Investor, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, name, email FROM investors WHERE id = $1`, investorID)
	return scanInvestor(row, "get investor")
}

// Upsert creates or replaces an investor profile.
func (s *InvestorStore) Upsert(ctx context.Context, inv *domain.Investor) error {
	if inv == nil || inv.ID == "" || inv.UserID == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO investors (id, user_id, name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, name = EXCLUDED.name, email = EXCLUDED.email
	`, inv.ID, inv.UserID, inv.Name, inv.Email)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("upsert investor: %w", err)
	}
	return nil
}

func scanInvestor(row pgx.Row, op string) (*domain.Investor, error) {
	var inv domain.Investor
	if err := row.Scan(&inv.ID, &inv.UserID, &inv.Name, &inv.Email); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &inv, nil
}
