// Package ledger provides the account balance and transaction log operations.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/lock"
	"github.com/fieldlink/reputation-engine/internal/mattermost"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/repository"
	"github.com/fieldlink/reputation-engine/pkg/clock"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

const (
	reconcileBatchSize = 200
	maxListLimit       = 500
)

// Store interface for ledger persistence.
type Store interface {
	RunInAccountTx(ctx context.Context, userID uuid.UUID, fn func(*repository.LedgerTx) error) error
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	EnsureAccount(ctx context.Context, userID uuid.UUID, role string) (*models.Account, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error)
	SumByCurrency(ctx context.Context, userID uuid.UUID) (map[string]int64, error)
	ListAccountIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Guard serialises work per key across processes.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Notifier interface for ledger alerts.
type Notifier interface {
	NotifyReconcileMismatch(ctx context.Context, report models.ReconcileReport) error
}

// Service handles ledger operations.
type Service struct {
	store    Store
	guard    Guard
	notifier Notifier
	clock    clock.Clock
	log      *logger.Logger
}

// NewService creates a new ledger service.
func NewService(
	store *repository.LedgerRepository,
	guard *lock.Guard,
	notifier *mattermost.Client,
	clk clock.Clock,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(store, guard, notifier, clk, log)
}

// NewServiceWithInterfaces creates a new ledger service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(store Store, guard Guard, notifier Notifier, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		guard:    guard,
		notifier: notifier,
		clock:    clk,
		log:      log,
	}
}

// AppendTransaction records txn against its account under the account lock.
func (s *Service) AppendTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if txn.Amount == 0 {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "amount must not be zero")
	}
	if txn.UserID == uuid.Nil {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "user id is required")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = s.clock.Now()
	}

	err := s.guard.Do(ctx, lock.AccountKey(txn.UserID), func(ctx context.Context) error {
		return s.store.RunInAccountTx(ctx, txn.UserID, func(lt *repository.LedgerTx) error {
			return lt.Append(txn)
		})
	})
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("user_id", txn.UserID.String()).
			Int64("amount", txn.Amount).
			Str("currency", txn.CurrencyType).
			Str("kind", string(apperrors.KindOf(err))).
			Msg("Failed to append transaction")
		return nil, err
	}
	return txn, nil
}

// GetBalance returns the balance of a user. Users without an account have a zero balance.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error) {
	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if account == nil {
		return models.Balance{UserID: userID}, nil
	}
	if account.EarnedCredits < 0 || account.PaidCredits < 0 || account.ReputationPoints < 0 {
		// Should be impossible; Append refuses negative balances.
		s.log.Error().
			Str("user_id", userID.String()).
			Int64("earned", account.EarnedCredits).
			Int64("paid", account.PaidCredits).
			Int64("reputation", account.ReputationPoints).
			Msg("Negative balance projection detected")
	}
	return models.BalanceOf(account), nil
}

// ListTransactions returns the transactions of a user, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error) {
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "offset must not be negative")
	}
	return s.store.ListTransactions(ctx, userID, filter)
}

// EnsureAccount creates the account of a user or updates its role.
func (s *Service) EnsureAccount(ctx context.Context, userID uuid.UUID, role string) (*models.Account, error) {
	if !models.ValidRole(role) {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "unknown role %q", role)
	}

	var account *models.Account
	err := s.guard.Do(ctx, lock.AccountKey(userID), func(ctx context.Context) error {
		var err error
		account, err = s.store.EnsureAccount(ctx, userID, role)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// PurchaseResult is the outcome of CreditPurchase.
type PurchaseResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Replayed    bool                `json:"replayed"`
	Balance     models.Balance      `json:"balance"`
}

// CreditPurchase records paid credits bought through an external processor.
// Repeating the same reference returns the original transaction.
func (s *Service) CreditPurchase(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) (*PurchaseResult, error) {
	if amount <= 0 {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "purchase amount must be positive")
	}
	if referenceType == "" || referenceID == "" {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "purchase reference is required")
	}

	key := models.PurchaseKey(referenceType, referenceID)
	result := &PurchaseResult{}

	err := s.guard.Do(ctx, lock.AccountKey(userID), func(ctx context.Context) error {
		return s.store.RunInAccountTx(ctx, userID, func(lt *repository.LedgerTx) error {
			existing, err := lt.FindByIdempotencyKey(key)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.UserID != userID {
					return apperrors.New(apperrors.KindDuplicateReference, "purchase %s belongs to another user", key)
				}
				result.Transaction = existing
				result.Replayed = true
				result.Balance = models.BalanceOf(lt.Account())
				return nil
			}

			txn := &models.Transaction{
				UserID:         userID,
				Amount:         amount,
				CurrencyType:   models.CurrencyPaid,
				ReferenceType:  &referenceType,
				ReferenceID:    &referenceID,
				IdempotencyKey: &key,
				CreatedAt:      s.clock.Now(),
			}
			if err := lt.Append(txn); err != nil {
				return err
			}
			result.Transaction = txn
			result.Balance = models.BalanceOf(lt.Account())
			return nil
		})
	})
	if err != nil {
		prommetrics.RecordPurchase(prommetrics.OutcomeOf(string(apperrors.KindOf(err))))
		s.log.Warn().
			Err(err).
			Str("user_id", userID.String()).
			Int64("amount", amount).
			Str("reference", key).
			Msg("Failed to record purchase")
		return nil, err
	}

	if result.Replayed {
		prommetrics.RecordPurchase(prommetrics.OutcomeReplayed)
	} else {
		prommetrics.RecordPurchase(prommetrics.OutcomeSuccess)
	}
	return result, nil
}

// Reconcile compares the balance projection of a user with the sums of the transaction log.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (models.ReconcileReport, error) {
	report := models.ReconcileReport{UserID: userID, Projection: models.Balance{UserID: userID}}

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to get account: %w", err)
	}
	if account != nil {
		report.Projection = models.BalanceOf(account)
	}

	sums, err := s.store.SumByCurrency(ctx, userID)
	if err != nil {
		return report, err
	}
	report.LedgerEarned = sums[models.CurrencyEarned]
	report.LedgerPaid = sums[models.CurrencyPaid]
	report.LedgerReputation = sums[models.CurrencyReputation]

	return report, nil
}

// ReconcileAll checks every account and reports the ones whose projection drifted.
// It returns how many accounts were checked and how many disagreed.
func (s *Service) ReconcileAll(ctx context.Context) (int, int, error) {
	start := time.Now()
	checked, mismatched := 0, 0
	after := uuid.Nil

	for {
		ids, err := s.store.ListAccountIDs(ctx, after, reconcileBatchSize)
		if err != nil {
			return checked, mismatched, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			report, err := s.Reconcile(ctx, id)
			if err != nil {
				s.log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to reconcile account")
				continue
			}
			checked++
			if report.Consistent() {
				continue
			}

			mismatched++
			prommetrics.RecordReconcileMismatch()
			s.log.Error().
				Str("user_id", id.String()).
				Int64("projection_earned", report.Projection.EarnedCredits).
				Int64("ledger_earned", report.LedgerEarned).
				Int64("projection_paid", report.Projection.PaidCredits).
				Int64("ledger_paid", report.LedgerPaid).
				Int64("projection_reputation", report.Projection.ReputationPoints).
				Int64("ledger_reputation", report.LedgerReputation).
				Msg("Ledger projection mismatch")
			if err := s.notifier.NotifyReconcileMismatch(ctx, report); err != nil {
				s.log.Warn().Err(err).Msg("Failed to send reconcile notification")
			}
		}

		after = ids[len(ids)-1]
		if err := ctx.Err(); err != nil {
			return checked, mismatched, err
		}
	}

	s.log.Info().
		Int("checked", checked).
		Int("mismatched", mismatched).
		Dur("duration", time.Since(start)).
		Msg("Ledger reconcile completed")
	return checked, mismatched, nil
}

// IsReplay reports whether err is a duplicate reference failure.
func IsReplay(err error) bool {
	return errors.Is(err, apperrors.ErrDuplicateReference)
}
