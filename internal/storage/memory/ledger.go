package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

type memberKey struct {
	syndicateID string
	investorID  string
}

// state is one immutable generation of ledger data. A transaction forks the
// committed state, writes clones into its own maps and swaps the pointer on
// commit, so committed maps are never mutated.
type state struct {
	syndicates  map[string]*domain.Syndicate
	memberships map[memberKey]*domain.Membership
	listings    map[string]*domain.Listing
	trades      map[string]*domain.Trade
}

func newState() *state {
	return &state{
		syndicates:  make(map[string]*domain.Syndicate),
		memberships: make(map[memberKey]*domain.Membership),
		listings:    make(map[string]*domain.Listing),
		trades:      make(map[string]*domain.Trade),
	}
}

func (s *state) fork() *state {
	f := &state{
		syndicates:  make(map[string]*domain.Syndicate, len(s.syndicates)),
		memberships: make(map[memberKey]*domain.Membership, len(s.memberships)),
		listings:    make(map[string]*domain.Listing, len(s.listings)),
		trades:      make(map[string]*domain.Trade, len(s.trades)),
	}
	for k, v := range s.syndicates {
		f.syndicates[k] = v
	}
	for k, v := range s.memberships {
		f.memberships[k] = v
	}
	for k, v := range s.listings {
		f.listings[k] = v
	}
	for k, v := range s.trades {
		f.trades[k] = v
	}
	return f
}

// Ledger is an in-memory implementation of storage.Ledger.
// Transactions are serialised on one mutex and applied all-or-nothing.
type Ledger struct {
	txMu sync.Mutex // serialises writers

	mu sync.RWMutex // guards st
	st *state
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{st: newState()}
}

func (l *Ledger) committed() reader {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return reader{st: l.st}
}

// InTx runs fn against a staged copy and commits it only if fn succeeds.
func (l *Ledger) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := l.committed().st.fork()
	if err := fn(&tx{reader: reader{st: staged}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.st = staged
	l.mu.Unlock()
	return nil
}

func (l *Ledger) GetSyndicate(ctx context.Context, id string) (*domain.Syndicate, error) {
	return l.committed().GetSyndicate(ctx, id)
}

func (l *Ledger) ListSyndicates(ctx context.Context, f storage.SyndicateFilter) ([]*domain.Syndicate, error) {
	return l.committed().ListSyndicates(ctx, f)
}

func (l *Ledger) SyndicateTotals(ctx context.Context, syndicateID string) (storage.SyndicateTotals, error) {
	return l.committed().SyndicateTotals(ctx, syndicateID)
}

func (l *Ledger) GetMembership(ctx context.Context, syndicateID, investorID string) (*domain.Membership, error) {
	return l.committed().GetMembership(ctx, syndicateID, investorID)
}

func (l *Ledger) ListMemberships(ctx context.Context, syndicateID string) ([]*domain.Membership, error) {
	return l.committed().ListMemberships(ctx, syndicateID)
}

func (l *Ledger) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	return l.committed().GetListing(ctx, id)
}

func (l *Ledger) ListListings(ctx context.Context, f storage.ListingFilter) ([]*domain.Listing, error) {
	return l.committed().ListListings(ctx, f)
}

func (l *Ledger) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	return l.committed().GetTrade(ctx, id)
}

func (l *Ledger) ListTradesByInvestor(ctx context.Context, investorID string) ([]*domain.Trade, error) {
	return l.committed().ListTradesByInvestor(ctx, investorID)
}

func (l *Ledger) Overview(ctx context.Context) (storage.Overview, error) {
	return l.committed().Overview(ctx)
}

// reader serves storage.Reader from one state generation.
type reader struct {
	st *state
}

func (r reader) GetSyndicate(_ context.Context, id string) (*domain.Syndicate, error) {
	s, ok := r.st.syndicates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.Clone(), nil
}

func (r reader) ListSyndicates(_ context.Context, f storage.SyndicateFilter) ([]*domain.Syndicate, error) {
	var result []*domain.Syndicate
	for _, s := range r.st.syndicates {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.LeadInvestorID != "" && s.LeadInvestorID != f.LeadInvestorID {
			continue
		}
		result = append(result, s.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

func (r reader) SyndicateTotals(_ context.Context, syndicateID string) (storage.SyndicateTotals, error) {
	totals := storage.SyndicateTotals{Raised: decimal.Zero}
	for k, m := range r.st.memberships {
		if k.syndicateID != syndicateID || !m.IsApproved() {
			continue
		}
		totals.Raised = totals.Raised.Add(m.PrimaryAmount)
		totals.MemberCount++
	}
	return totals, nil
}

func (r reader) GetMembership(_ context.Context, syndicateID, investorID string) (*domain.Membership, error) {
	m, ok := r.st.memberships[memberKey{syndicateID, investorID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (r reader) ListMemberships(_ context.Context, syndicateID string) ([]*domain.Membership, error) {
	var result []*domain.Membership
	for k, m := range r.st.memberships {
		if k.syndicateID == syndicateID {
			result = append(result, m.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].JoinedAt.Before(result[j].JoinedAt)
		}
		return result[i].InvestorID < result[j].InvestorID
	})
	return result, nil
}

func (r reader) GetListing(_ context.Context, id string) (*domain.Listing, error) {
	l, ok := r.st.listings[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return l.Clone(), nil
}

func (r reader) ListListings(_ context.Context, f storage.ListingFilter) ([]*domain.Listing, error) {
	var result []*domain.Listing
	for _, l := range r.st.listings {
		if f.SyndicateID != "" && l.SyndicateID != f.SyndicateID {
			continue
		}
		if f.SellerID != "" && l.SellerID != f.SellerID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		result = append(result, l.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ListedAt.Equal(result[j].ListedAt) {
			return result[i].ListedAt.After(result[j].ListedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r reader) GetTrade(_ context.Context, id string) (*domain.Trade, error) {
	t, ok := r.st.trades[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

func (r reader) ListTradesByInvestor(_ context.Context, investorID string) ([]*domain.Trade, error) {
	var result []*domain.Trade
	for _, t := range r.st.trades {
		if t.BuyerID == investorID || t.SellerID == investorID {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExecutedAt.Equal(result[j].ExecutedAt) {
			return result[i].ExecutedAt.After(result[j].ExecutedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r reader) Overview(_ context.Context) (storage.Overview, error) {
	ov := storage.Overview{
		ByStatus:    make(map[domain.SyndicateStatus]int, len(domain.SyndicateStatuses)),
		TotalRaised: decimal.Zero,
		TotalTarget: decimal.Zero,
	}
	for _, st := range domain.SyndicateStatuses {
		ov.ByStatus[st] = 0
	}
	for _, s := range r.st.syndicates {
		ov.ByStatus[s.Status]++
		ov.Total++
		ov.TotalTarget = ov.TotalTarget.Add(s.TargetAmount)
	}
	for _, m := range r.st.memberships {
		if m.IsApproved() {
			ov.TotalRaised = ov.TotalRaised.Add(m.PrimaryAmount)
		}
	}
	return ov, nil
}

// tx writes into a staged state owned by one InTx call.
type tx struct {
	reader
}

// Lock* reads are plain reads: the whole transaction already holds the writer mutex.

func (t *tx) LockSyndicate(ctx context.Context, id string) (*domain.Syndicate, error) {
	return t.GetSyndicate(ctx, id)
}

func (t *tx) LockListing(ctx context.Context, id string) (*domain.Listing, error) {
	return t.GetListing(ctx, id)
}

func (t *tx) LockMembership(ctx context.Context, syndicateID, investorID string) (*domain.Membership, error) {
	return t.GetMembership(ctx, syndicateID, investorID)
}

func (t *tx) InsertSyndicate(_ context.Context, s *domain.Syndicate) error {
	if s == nil || s.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := t.st.syndicates[s.ID]; exists {
		return storage.ErrDuplicateKey
	}
	t.st.syndicates[s.ID] = s.Clone()
	return nil
}

func (t *tx) UpdateSyndicate(_ context.Context, s *domain.Syndicate) error {
	if s == nil || s.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := t.st.syndicates[s.ID]; !exists {
		return storage.ErrNotFound
	}
	t.st.syndicates[s.ID] = s.Clone()
	return nil
}

func (t *tx) InsertMembership(_ context.Context, m *domain.Membership) error {
	if m == nil || m.SyndicateID == "" || m.InvestorID == "" {
		return storage.ErrInvalidInput
	}
	key := memberKey{m.SyndicateID, m.InvestorID}
	if _, exists := t.st.memberships[key]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := t.st.syndicates[m.SyndicateID]; !exists {
		return storage.ErrNotFound
	}
	t.st.memberships[key] = m.Clone()
	return nil
}

func (t *tx) UpdateMembership(_ context.Context, m *domain.Membership) error {
	if m == nil || m.SyndicateID == "" || m.InvestorID == "" {
		return storage.ErrInvalidInput
	}
	key := memberKey{m.SyndicateID, m.InvestorID}
	if _, exists := t.st.memberships[key]; !exists {
		return storage.ErrNotFound
	}
	t.st.memberships[key] = m.Clone()
	return nil
}

func (t *tx) InsertListing(_ context.Context, l *domain.Listing) error {
	if l == nil || l.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := t.st.listings[l.ID]; exists {
		return storage.ErrDuplicateKey
	}
	t.st.listings[l.ID] = l.Clone()
	return nil
}

func (t *tx) UpdateListing(_ context.Context, l *domain.Listing) error {
	if l == nil || l.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := t.st.listings[l.ID]; !exists {
		return storage.ErrNotFound
	}
	t.st.listings[l.ID] = l.Clone()
	return nil
}

func (t *tx) InsertTrade(_ context.Context, tr *domain.Trade) error {
	if tr == nil || tr.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := t.st.trades[tr.ID]; exists {
		return storage.ErrDuplicateKey
	}
	t.st.trades[tr.ID] = tr.Clone()
	return nil
}

func (t *tx) LockedTokens(_ context.Context, syndicateID, sellerID string, now time.Time) (decimal.Decimal, error) {
	locked := decimal.Zero
	for _, l := range t.st.listings {
		if l.SyndicateID == syndicateID && l.SellerID == sellerID && l.IsLiveAt(now) {
			locked = locked.Add(l.TokensAvailable)
		}
	}
	return locked, nil
}

func (t *tx) CountMarketActivity(_ context.Context, syndicateID string) (int, error) {
	n := 0
	for _, l := range t.st.listings {
		if l.SyndicateID == syndicateID {
			n++
		}
	}
	for _, tr := range t.st.trades {
		if tr.SyndicateID == syndicateID {
			n++
		}
	}
	return n, nil
}

func (t *tx) LockExpiredListings(_ context.Context, now time.Time, limit int) ([]*domain.Listing, error) {
	var result []*domain.Listing
	for _, l := range t.st.listings {
		if l.Status == domain.ListingActive && l.IsExpiredAt(now) {
			result = append(result, l.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(*result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

var (
	_ storage.Ledger = (*Ledger)(nil)
	_ storage.Tx     = (*tx)(nil)
)
