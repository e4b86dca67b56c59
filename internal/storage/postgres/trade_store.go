package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

const tradeColumns = `
	id, reference, listing_id, syndicate_id, buyer_id, seller_id,
	tokens, price_per_token, total_amount, fee, status, executed_at
`

// GetTrade retrieves a trade by ID. Returns ErrNotFound if not exists.
func (q queries) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	row := q.db.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// ListTradesByInvestor returns trades where the investor is either party.
func (q queries) ListTradesByInvestor(ctx context.Context, investorID string) ([]*domain.Trade, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY executed_at DESC, id ASC
	`, investorID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}

// InsertTrade adds a trade. Returns ErrDuplicateKey if id or reference exists.
func (t *pgTx) InsertTrade(ctx context.Context, tr *domain.Trade) error {
	if tr == nil || tr.ID == "" {
		return storage.ErrInvalidInput
	}
	_, err := t.db.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		tr.ID, tr.Reference, tr.ListingID, tr.SyndicateID, tr.BuyerID, tr.SellerID,
		tr.Tokens, tr.PricePerToken, tr.TotalAmount, tr.Fee, string(tr.Status), tr.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		t      domain.Trade
		status string
	)
	err := row.Scan(
		&t.ID, &t.Reference, &t.ListingID, &t.SyndicateID, &t.BuyerID, &t.SellerID,
		&t.Tokens, &t.PricePerToken, &t.TotalAmount, &t.Fee, &status, &t.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Status, err = domain.ParseTradeStatus(status); err != nil {
		return nil, err
	}
	return &t, nil
}
