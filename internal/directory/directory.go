// Package directory resolves authenticated callers to investor profiles.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

// Directory looks up investor profiles. Implementations return
// storage.ErrNotFound for unknown users.
type Directory interface {
	ByUserID(ctx context.Context, userID string) (*domain.Investor, error)
	ByID(ctx context.Context, investorID string) (*domain.Investor, error)
}

// RequireInvestor checks that the actor holds the INVESTOR role and has a
// profile, and returns that profile.
func RequireInvestor(ctx context.Context, dir Directory, actor domain.Actor) (*domain.Investor, error) {
	if actor.Role != domain.RoleInvestor {
		return nil, apperr.Unauthorized(fmt.Sprintf("role %s cannot act as an investor", actor.Role))
	}
	inv, err := dir.ByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("investor profile not found")
		}
		return nil, fmt.Errorf("resolve investor: %w", err)
	}
	return inv, nil
}

// Resolve returns the actor's investor profile if one exists. A missing
// profile is not an error: admins usually have none.
func Resolve(ctx context.Context, dir Directory, actor domain.Actor) (*domain.Investor, error) {
	inv, err := dir.ByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve investor: %w", err)
	}
	return inv, nil
}

// RequireManager checks that the actor is a platform admin or the
// syndicate's lead investor.
func RequireManager(ctx context.Context, dir Directory, actor domain.Actor, s *domain.Syndicate) error {
	if actor.IsAdmin() {
		return nil
	}
	inv, err := Resolve(ctx, dir, actor)
	if err != nil {
		return err
	}
	if inv == nil || !s.IsLead(inv.ID) {
		return apperr.Unauthorized("only the lead investor or an admin can manage this syndicate")
	}
	return nil
}

// Memory is an in-memory Directory.
type Memory struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Investor
	byUser map[string]string // user ID -> investor ID
}

// NewMemory creates a directory seeded with investors. It panics if a seed
// profile lacks an ID or user ID.
func NewMemory(investors ...*domain.Investor) *Memory {
	m := &Memory{
		byID:   make(map[string]*domain.Investor),
		byUser: make(map[string]string),
	}
	for i, inv := range investors {
		if err := m.Upsert(context.Background(), inv); err != nil {
			panic(fmt.Sprintf("directory: seed investor %d: %v", i, err))
		}
	}
	return m
}

// Upsert adds or replaces a profile.
func (m *Memory) Upsert(_ context.Context, inv *domain.Investor) error {
	if inv == nil || inv.ID == "" || inv.UserID == "" {
		return storage.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byID[inv.ID]; ok {
		delete(m.byUser, prev.UserID)
	}
	c := *inv
	m.byID[inv.ID] = &c
	m.byUser[inv.UserID] = inv.ID
	return nil
}

// ByUserID resolves a user to an investor profile.
func (m *Memory) ByUserID(_ context.Context, userID string) (*domain.Investor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUser[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *m.byID[id]
	return &c, nil
}

// ByID looks up an investor profile by investor ID.
func (m *Memory) ByID(_ context.Context, investorID string) (*domain.Investor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.byID[investorID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *inv
	return &c, nil
}

var _ Directory = (*Memory)(nil)
