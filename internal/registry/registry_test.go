package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/directory"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
	"syndicate-ledger/internal/storage/memory"
)

var (
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lead  = domain.Actor{UserID: "u-lead", Role: domain.RoleInvestor}
	other = domain.Actor{UserID: "u-other", Role: domain.RoleInvestor}
	admin = domain.Actor{UserID: "u-admin", Role: domain.RoleAdmin}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*Service, *memory.Ledger) {
	t.Helper()
	l := memory.NewLedger()
	dir := directory.NewMemory(
		&domain.Investor{ID: "inv-lead", UserID: "u-lead", Name: "Lead"},
		&domain.Investor{ID: "inv-other", UserID: "u-other", Name: "Other"},
	)
	clock := t0
	seq := 0
	svc := NewService(Options{
		Ledger:    l,
		Directory: dir,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("syn-%d", seq)
		},
	})
	return svc, l
}

func approve(t *testing.T, l *memory.Ledger, syndicateID, investorID, amount string) {
	t.Helper()
	ctx := context.Background()
	err := l.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertMembership(ctx, &domain.Membership{
			SyndicateID: syndicateID, InvestorID: investorID,
			Amount: dec(amount), PrimaryAmount: dec(amount),
			Status: domain.MembershipApproved, JoinedAt: t0, UpdatedAt: t0,
		})
	})
	require.NoError(t, err)
}

func TestCreateSyndicate_Defaults(t *testing.T) {
	svc, _ := newService(t)
	v, err := svc.CreateSyndicate(context.Background(), lead, CreateParams{
		Name:         "  Seed Round ",
		TargetAmount: dec("500000"),
	})
	require.NoError(t, err)

	assert.Equal(t, "syn-1", v.ID)
	assert.Equal(t, "Seed Round", v.Name)
	assert.Equal(t, "inv-lead", v.LeadInvestorID)
	assert.Equal(t, domain.SyndicateForming, v.Status)
	assert.True(t, v.MinInvestment.Equal(dec("1000")))
	assert.True(t, v.ManagementFeePct.Equal(dec("2")))
	assert.True(t, v.CarryFeePct.Equal(dec("20")))
	assert.Nil(t, v.MaxInvestment)
	assert.True(t, v.TokensSold.IsZero())
	assert.True(t, v.RaisedAmount.IsZero())
	assert.Zero(t, v.MemberCount)
	assert.Zero(t, v.Progress)
}

func TestCreateSyndicate_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	ptr := domain.DecimalPtr

	cases := map[string]CreateParams{
		"blank name":       {Name: " ", TargetAmount: dec("100")},
		"zero target":      {Name: "x", TargetAmount: dec("0")},
		"sub-cent target":  {Name: "x", TargetAmount: dec("100.001")},
		"zero minimum":     {Name: "x", TargetAmount: dec("100"), MinInvestment: ptr(dec("0"))},
		"max below min":    {Name: "x", TargetAmount: dec("100"), MinInvestment: ptr(dec("50")), MaxInvestment: ptr(dec("49.99"))},
		"negative fee":     {Name: "x", TargetAmount: dec("100"), ManagementFeePct: ptr(dec("-1"))},
		"carry above 100%": {Name: "x", TargetAmount: dec("100"), CarryFeePct: ptr(dec("100.5"))},
		"3dp management":   {Name: "x", TargetAmount: dec("100"), ManagementFeePct: ptr(dec("2.125"))},
		"3dp carry":        {Name: "x", TargetAmount: dec("100"), CarryFeePct: ptr(dec("19.999"))},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSyndicate(ctx, lead, p)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}

func TestCreateSyndicate_RequiresInvestor(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateSyndicate(ctx, admin, CreateParams{Name: "x", TargetAmount: dec("100")})
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	_, err = svc.CreateSyndicate(ctx, domain.Actor{UserID: "nobody", Role: domain.RoleInvestor},
		CreateParams{Name: "x", TargetAmount: dec("100")})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestGetSyndicate_RaisedAndProgress(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	v, err := svc.CreateSyndicate(ctx, lead, CreateParams{Name: "x", TargetAmount: dec("300000")})
	require.NoError(t, err)

	approve(t, l, v.ID, "inv-lead", "100000")
	approve(t, l, v.ID, "inv-other", "37500")

	got, err := svc.GetSyndicate(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.RaisedAmount.Equal(dec("137500")))
	assert.Equal(t, 2, got.MemberCount)
	assert.Equal(t, 46, got.Progress) // 45.83%

	raised, err := svc.RaisedAmount(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, raised.Equal(dec("137500")))

	_, err = svc.GetSyndicate(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = svc.RaisedAmount(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, Progress(dec("0"), dec("100")))
	assert.Equal(t, 12, Progress(dec("12.45"), dec("100")))
	assert.Equal(t, 13, Progress(dec("12.5"), dec("100")))
	assert.Equal(t, 100, Progress(dec("100"), dec("100")))
	assert.Equal(t, 0, Progress(dec("10"), dec("0")))
}

func TestListSyndicates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateSyndicate(ctx, lead, CreateParams{Name: fmt.Sprint("s", i), TargetAmount: dec("1000")})
		require.NoError(t, err)
	}
	_, err := svc.CreateSyndicate(ctx, other, CreateParams{Name: "o", TargetAmount: dec("1000")})
	require.NoError(t, err)
	_, err = svc.OpenSyndicate(ctx, lead, "syn-2")
	require.NoError(t, err)

	all, err := svc.ListSyndicates(ctx, storage.SyndicateFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "syn-4", all[0].ID, "newest first")

	open, err := svc.ListSyndicates(ctx, storage.SyndicateFilter{Status: domain.SyndicateOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "syn-2", open[0].ID)

	mine, err := svc.ListSyndicates(ctx, storage.SyndicateFilter{LeadInvestorID: "inv-lead", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "syn-2", mine[0].ID)
	assert.Equal(t, "syn-1", mine[1].ID)

	_, err = svc.ListSyndicates(ctx, storage.SyndicateFilter{Status: "BOGUS"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = svc.ListSyndicates(ctx, storage.SyndicateFilter{Limit: 1000})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestOpenAndClose(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	v, err := svc.CreateSyndicate(ctx, lead, CreateParams{Name: "x", TargetAmount: dec("1000")})
	require.NoError(t, err)

	_, err = svc.OpenSyndicate(ctx, other, v.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	opened, err := svc.OpenSyndicate(ctx, lead, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyndicateOpen, opened.Status)

	_, err = svc.OpenSyndicate(ctx, lead, v.ID)
	assert.True(t, errors.Is(err, apperr.ErrState))

	closed, err := svc.CloseSyndicate(ctx, admin, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyndicateClosed, closed.Status)

	_, err = svc.CloseSyndicate(ctx, lead, v.ID)
	assert.True(t, errors.Is(err, apperr.ErrState))

	_, err = svc.CloseSyndicate(ctx, admin, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestOverviewStats(t *testing.T) {
	svc, l := newService(t)
	ctx := context.Background()
	a, err := svc.CreateSyndicate(ctx, lead, CreateParams{Name: "a", TargetAmount: dec("1000")})
	require.NoError(t, err)
	_, err = svc.CreateSyndicate(ctx, lead, CreateParams{Name: "b", TargetAmount: dec("2500.50")})
	require.NoError(t, err)
	_, err = svc.OpenSyndicate(ctx, lead, a.ID)
	require.NoError(t, err)
	approve(t, l, a.ID, "inv-lead", "400")

	ov, err := svc.OverviewStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ov.Total)
	assert.Equal(t, 1, ov.ByStatus[domain.SyndicateOpen])
	assert.Equal(t, 1, ov.ByStatus[domain.SyndicateForming])
	assert.Equal(t, 0, ov.ByStatus[domain.SyndicateClosed])
	assert.True(t, ov.TotalRaised.Equal(dec("400")))
	assert.True(t, ov.TotalTarget.Equal(dec("3500.50")))
}
