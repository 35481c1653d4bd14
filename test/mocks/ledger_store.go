package mocks

import (
	"context"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/repository"
)

// MockLedgerStore is a simple mock for the ledger repository.
type MockLedgerStore struct {
	RunInAccountTxFunc   func(ctx context.Context, userID uuid.UUID, fn func(*repository.LedgerTx) error) error
	GetAccountFunc       func(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	EnsureAccountFunc    func(ctx context.Context, userID uuid.UUID, role string) (*models.Account, error)
	ListTransactionsFunc func(ctx context.Context, userID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error)
	SumByCurrencyFunc    func(ctx context.Context, userID uuid.UUID) (map[string]int64, error)
	ListAccountIDsFunc   func(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

func (m *MockLedgerStore) RunInAccountTx(ctx context.Context, userID uuid.UUID, fn func(*repository.LedgerTx) error) error {
	if m.RunInAccountTxFunc != nil {
		return m.RunInAccountTxFunc(ctx, userID, fn)
	}
	return nil
}

func (m *MockLedgerStore) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockLedgerStore) EnsureAccount(ctx context.Context, userID uuid.UUID, role string) (*models.Account, error) {
	if m.EnsureAccountFunc != nil {
		return m.EnsureAccountFunc(ctx, userID, role)
	}
	return &models.Account{UserID: userID, Role: role}, nil
}

func (m *MockLedgerStore) ListTransactions(ctx context.Context, userID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error) {
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, userID, filter)
	}
	return []models.Transaction{}, nil
}

func (m *MockLedgerStore) SumByCurrency(ctx context.Context, userID uuid.UUID) (map[string]int64, error) {
	if m.SumByCurrencyFunc != nil {
		return m.SumByCurrencyFunc(ctx, userID)
	}
	return map[string]int64{}, nil
}

func (m *MockLedgerStore) ListAccountIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if m.ListAccountIDsFunc != nil {
		return m.ListAccountIDsFunc(ctx, after, limit)
	}
	return nil, nil
}
