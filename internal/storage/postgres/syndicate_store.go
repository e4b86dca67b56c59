package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

const syndicateColumns = `
	id, name, description, lead_investor_id,
	target_amount, min_investment, max_investment, management_fee_pct, carry_fee_pct,
	status, is_tokenized, token_name, token_symbol,
	price_per_token, total_tokens, tokens_sold,
	deal_id, closing_date, created_at, updated_at
`

// GetSyndicate retrieves a syndicate by ID. Returns ErrNotFound if not exists.
func (q queries) GetSyndicate(ctx context.Context, id string) (*domain.Syndicate, error) {
	row := q.db.QueryRow(ctx, `SELECT `+syndicateColumns+` FROM syndicates WHERE id = $1`, id)
	s, err := scanSyndicate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get syndicate: %w", err)
	}
	return s, nil
}

// LockSyndicate reads a syndicate with FOR UPDATE.
func (t *pgTx) LockSyndicate(ctx context.Context, id string) (*domain.Syndicate, error) {
	row := t.db.QueryRow(ctx, `SELECT `+syndicateColumns+` FROM syndicates WHERE id = $1 FOR UPDATE`, id)
	s, err := scanSyndicate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock syndicate: %w", err)
	}
	return s, nil
}

// ListSyndicates returns syndicates ordered by created_at DESC.
func (q queries) ListSyndicates(ctx context.Context, f storage.SyndicateFilter) ([]*domain.Syndicate, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.LeadInvestorID != "" {
		args = append(args, f.LeadInvestorID)
		conds = append(conds, fmt.Sprintf("lead_investor_id = $%d", len(args)))
	}

	query := `SELECT ` + syndicateColumns + ` FROM syndicates`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list syndicates: %w", err)
	}
	defer rows.Close()

	var result []*domain.Syndicate
	for rows.Next() {
		s, err := scanSyndicate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan syndicate: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate syndicates: %w", err)
	}
	return result, nil
}

// SyndicateTotals aggregates APPROVED memberships of a syndicate.
func (q queries) SyndicateTotals(ctx context.Context, syndicateID string) (storage.SyndicateTotals, error) {
	var totals storage.SyndicateTotals
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(primary_amount), 0), COUNT(*)
		FROM memberships
		WHERE syndicate_id = $1 AND status = 'APPROVED'
	`, syndicateID).Scan(&totals.Raised, &totals.MemberCount)
	if err != nil {
		return storage.SyndicateTotals{}, fmt.Errorf("syndicate totals: %w", err)
	}
	return totals, nil
}

// Overview aggregates all syndicates.
func (q queries) Overview(ctx context.Context) (storage.Overview, error) {
	ov := storage.Overview{
		ByStatus:    make(map[domain.SyndicateStatus]int, len(domain.SyndicateStatuses)),
		TotalRaised: decimal.Zero,
		TotalTarget: decimal.Zero,
	}
	for _, st := range domain.SyndicateStatuses {
		ov.ByStatus[st] = 0
	}

	rows, err := q.db.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(target_amount), 0)
		FROM syndicates
		GROUP BY status
	`)
	if err != nil {
		return storage.Overview{}, fmt.Errorf("overview by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
			target decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &target); err != nil {
			return storage.Overview{}, fmt.Errorf("scan overview: %w", err)
		}
		ov.ByStatus[domain.SyndicateStatus(status)] = count
		ov.Total += count
		ov.TotalTarget = ov.TotalTarget.Add(target)
	}
	if err := rows.Err(); err != nil {
		return storage.Overview{}, fmt.Errorf("iterate overview: %w", err)
	}

	err = q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(primary_amount), 0) FROM memberships WHERE status = 'APPROVED'
	`).Scan(&ov.TotalRaised)
	if err != nil {
		return storage.Overview{}, fmt.Errorf("overview raised: %w", err)
	}
	return ov, nil
}

// InsertSyndicate adds a new syndicate. Returns ErrDuplicateKey if id exists.
func (t *pgTx) InsertSyndicate(ctx context.Context, s *domain.Syndicate) error {
	if s == nil || s.ID == "" {
		return storage.ErrInvalidInput
	}
	_, err := t.db.Exec(ctx, `
		INSERT INTO syndicates (`+syndicateColumns+`) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20
		)
	`, syndicateArgs(s)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert syndicate: %w", err)
	}
	return nil
}

// UpdateSyndicate overwrites every mutable column. Returns ErrNotFound if id does not exist.
func (t *pgTx) UpdateSyndicate(ctx context.Context, s *domain.Syndicate) error {
	if s == nil || s.ID == "" {
		return storage.ErrInvalidInput
	}
	tag, err := t.db.Exec(ctx, `
		UPDATE syndicates SET
			name = $2, description = $3, lead_investor_id = $4,
			target_amount = $5, min_investment = $6, max_investment = $7,
			management_fee_pct = $8, carry_fee_pct = $9,
			status = $10, is_tokenized = $11, token_name = $12, token_symbol = $13,
			price_per_token = $14, total_tokens = $15, tokens_sold = $16,
			deal_id = $17, closing_date = $18, created_at = $19, updated_at = $20
		WHERE id = $1
	`, syndicateArgs(s)...)
	if err != nil {
		return fmt.Errorf("update syndicate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func syndicateArgs(s *domain.Syndicate) []any {
	return []any{
		s.ID, s.Name, s.Description, s.LeadInvestorID,
		s.TargetAmount, s.MinInvestment, nullDecimal(s.MaxInvestment), s.ManagementFeePct, s.CarryFeePct,
		string(s.Status), s.IsTokenized, s.TokenName, s.TokenSymbol,
		nullDecimal(s.PricePerToken), nullDecimal(s.TotalTokens), s.TokensSold,
		s.DealID, s.ClosingDate, s.CreatedAt, s.UpdatedAt,
	}
}

// scanSyndicate scans a single row into a Syndicate.
func scanSyndicate(row pgx.Row) (*domain.Syndicate, error) {
	var (
		s             domain.Syndicate
		status        string
		maxInvestment decimal.NullDecimal
		pricePerToken decimal.NullDecimal
		totalTokens   decimal.NullDecimal
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.LeadInvestorID,
		&s.TargetAmount, &s.MinInvestment, &maxInvestment, &s.ManagementFeePct, &s.CarryFeePct,
		&status, &s.IsTokenized, &s.TokenName, &s.TokenSymbol,
		&pricePerToken, &totalTokens, &s.TokensSold,
		&s.DealID, &s.ClosingDate, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.Status, err = domain.ParseSyndicateStatus(status); err != nil {
		return nil, err
	}
	s.MaxInvestment = decimalPtr(maxInvestment)
	s.PricePerToken = decimalPtr(pricePerToken)
	s.TotalTokens = decimalPtr(totalTokens)
	return &s, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
