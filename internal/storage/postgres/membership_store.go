package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

const membershipColumns = `
	syndicate_id, investor_id, amount, primary_amount, tokens, dust,
	status, joined_at, updated_at
`

// GetMembership retrieves a membership. Returns ErrNotFound if not exists.
func (q queries) GetMembership(ctx context.Context, syndicateID, investorID string) (*domain.Membership, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE syndicate_id = $1 AND investor_id = $2
	`, syndicateID, investorID)
	m, err := scanMembership(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// LockMembership reads a membership with FOR UPDATE.
func (t *pgTx) LockMembership(ctx context.Context, syndicateID, investorID string) (*domain.Membership, error) {
	row := t.db.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE syndicate_id = $1 AND investor_id = $2
		FOR UPDATE
	`, syndicateID, investorID)
	m, err := scanMembership(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock membership: %w", err)
	}
	return m, nil
}

// ListMemberships returns a syndicate's memberships ordered by joined_at ASC.
func (q queries) ListMemberships(ctx context.Context, syndicateID string) ([]*domain.Membership, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE syndicate_id = $1
		ORDER BY joined_at ASC, investor_id ASC
	`, syndicateID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var result []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return result, nil
}

// InsertMembership adds a membership. Returns ErrDuplicateKey if the pair
// exists and ErrNotFound if the syndicate does not.
func (t *pgTx) InsertMembership(ctx context.Context, m *domain.Membership) error {
	if m == nil || m.SyndicateID == "" || m.InvestorID == "" {
		return storage.ErrInvalidInput
	}
	_, err := t.db.Exec(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, membershipArgs(m)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// UpdateMembership overwrites balances and status. Returns ErrNotFound if absent.
func (t *pgTx) UpdateMembership(ctx context.Context, m *domain.Membership) error {
	if m == nil || m.SyndicateID == "" || m.InvestorID == "" {
		return storage.ErrInvalidInput
	}
	tag, err := t.db.Exec(ctx, `
		UPDATE memberships SET
			amount = $3, primary_amount = $4, tokens = $5, dust = $6,
			status = $7, joined_at = $8, updated_at = $9
		WHERE syndicate_id = $1 AND investor_id = $2
	`, membershipArgs(m)...)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func membershipArgs(m *domain.Membership) []any {
	return []any{
		m.SyndicateID, m.InvestorID, m.Amount, m.PrimaryAmount, m.Tokens, m.Dust,
		string(m.Status), m.JoinedAt, m.UpdatedAt,
	}
}

// scanMembership scans a single row into a Membership.
func scanMembership(row pgx.Row) (*domain.Membership, error) {
	var (
		m      domain.Membership
		status string
	)
	err := row.Scan(
		&m.SyndicateID, &m.InvestorID, &m.Amount, &m.PrimaryAmount, &m.Tokens, &m.Dust,
		&status, &m.JoinedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.Status, err = domain.ParseMembershipStatus(status); err != nil {
		return nil, err
	}
	return &m, nil
}
