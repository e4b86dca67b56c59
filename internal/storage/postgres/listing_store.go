package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

const listingColumns = `
	id, syndicate_id, seller_id, tokens_available, price_per_token, min_tokens,
	status, expires_at, listed_at, updated_at
`

// GetListing retrieves a listing by ID. Returns ErrNotFound if not exists.
func (q queries) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	row := q.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// LockListing reads a listing with FOR UPDATE.
func (t *pgTx) LockListing(ctx context.Context, id string) (*domain.Listing, error) {
	row := t.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id)
	l, err := scanListing(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock listing: %w", err)
	}
	return l, nil
}

// ListListings returns listings ordered by listed_at DESC.
func (q queries) ListListings(ctx context.Context, f storage.ListingFilter) ([]*domain.Listing, error) {
	var (
		conds []string
		args  []any
	)
	if f.SyndicateID != "" {
		args = append(args, f.SyndicateID)
		conds = append(conds, fmt.Sprintf("syndicate_id = $%d", len(args)))
	}
	if f.SellerID != "" {
		args = append(args, f.SellerID)
		conds = append(conds, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY listed_at DESC, id ASC`

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return collectListings(rows)
}

// InsertListing adds a listing. Returns ErrDuplicateKey if id exists.
func (t *pgTx) InsertListing(ctx context.Context, l *domain.Listing) error {
	if l == nil || l.ID == "" {
		return storage.ErrInvalidInput
	}
	_, err := t.db.Exec(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, listingArgs(l)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// UpdateListing overwrites a listing's mutable columns.
func (t *pgTx) UpdateListing(ctx context.Context, l *domain.Listing) error {
	if l == nil || l.ID == "" {
		return storage.ErrInvalidInput
	}
	tag, err := t.db.Exec(ctx, `
		UPDATE listings SET
			syndicate_id = $2, seller_id = $3, tokens_available = $4,
			price_per_token = $5, min_tokens = $6, status = $7,
			expires_at = $8, listed_at = $9, updated_at = $10
		WHERE id = $1
	`, listingArgs(l)...)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LockedTokens sums tokens_available over the seller's live listings.
func (t *pgTx) LockedTokens(ctx context.Context, syndicateID, sellerID string, now time.Time) (decimal.Decimal, error) {
	var locked decimal.Decimal
	err := t.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(tokens_available), 0) FROM listings
		WHERE syndicate_id = $1 AND seller_id = $2 AND status = 'ACTIVE'
			AND (expires_at IS NULL OR expires_at > $3)
	`, syndicateID, sellerID, now).Scan(&locked)
	if err != nil {
		return decimal.Zero, fmt.Errorf("locked tokens: %w", err)
	}
	return locked, nil
}

// CountMarketActivity counts listings plus trades of a syndicate.
func (t *pgTx) CountMarketActivity(ctx context.Context, syndicateID string) (int, error) {
	var n int
	err := t.db.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM listings WHERE syndicate_id = $1)
		     + (SELECT COUNT(*) FROM trades WHERE syndicate_id = $1)
	`, syndicateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count market activity: %w", err)
	}
	return n, nil
}

// LockExpiredListings locks ACTIVE listings past expiry, skipping rows
// already held by a buy or cancel in flight.
func (t *pgTx) LockExpiredListings(ctx context.Context, now time.Time, limit int) ([]*domain.Listing, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.db.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lock expired listings: %w", err)
	}
	return collectListings(rows)
}

func listingArgs(l *domain.Listing) []any {
	return []any{
		l.ID, l.SyndicateID, l.SellerID, l.TokensAvailable, l.PricePerToken, l.MinTokens,
		string(l.Status), l.ExpiresAt, l.ListedAt, l.UpdatedAt,
	}
}

func collectListings(rows pgx.Rows) ([]*domain.Listing, error) {
	defer rows.Close()

	var result []*domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return result, nil
}

// scanListing scans a single row into a Listing.
func scanListing(row pgx.Row) (*domain.Listing, error) {
	var (
		l      domain.Listing
		status string
	)
	err := row.Scan(
		&l.ID, &l.SyndicateID, &l.SellerID, &l.TokensAvailable, &l.PricePerToken, &l.MinTokens,
		&status, &l.ExpiresAt, &l.ListedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if l.Status, err = domain.ParseListingStatus(status); err != nil {
		return nil, err
	}
	return &l, nil
}
