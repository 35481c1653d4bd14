// Package spend debits credits and reputation points atomically.
package spend

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/lock"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/repository"
	"github.com/fieldlink/reputation-engine/pkg/clock"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// Request describes a spend. The reference identifies the purchase and may be used once.
type Request struct {
	Amount        int64  `json:"amount"`
	Preference    string `json:"currency_preference"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
}

// Receipt is the outcome of a successful spend.
type Receipt struct {
	Transactions []models.Transaction `json:"transactions"`
	Balance      models.Balance       `json:"balance"`
}

// LedgerStore interface for locked ledger access.
type LedgerStore interface {
	RunInAccountTx(ctx context.Context, userID uuid.UUID, fn func(*repository.LedgerTx) error) error
}

// Guard serialises work per key across processes.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Service authorises spends.
type Service struct {
	ledger LedgerStore
	guard  Guard
	clock  clock.Clock
	log    *logger.Logger
}

// NewService creates a new spend service.
func NewService(ledgerRepo *repository.LedgerRepository, guard *lock.Guard, clk clock.Clock, log *logger.Logger) *Service {
	return NewServiceWithInterfaces(ledgerRepo, guard, clk, log)
}

// NewServiceWithInterfaces creates a new spend service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(ledger LedgerStore, guard Guard, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{
		ledger: ledger,
		guard:  guard,
		clock:  clk,
		log:    log,
	}
}

// TrySpend debits req.Amount from userID. Either every leg is written or none is.
// A reference that was already spent fails with DuplicateReference.
func (s *Service) TrySpend(ctx context.Context, userID uuid.UUID, req Request) (*Receipt, error) {
	start := time.Now()
	defer func() {
		prommetrics.ObserveOperationDuration("spend", time.Since(start).Seconds())
	}()

	if req.Preference == "" {
		req.Preference = PreferenceEarnedFirst
	}

	receipt, err := s.trySpend(ctx, userID, req)
	if err != nil {
		prommetrics.RecordSpend(req.Preference, prommetrics.OutcomeOf(string(apperrors.KindOf(err))))
		s.log.Warn().
			Err(err).
			Str("user_id", userID.String()).
			Int64("amount", req.Amount).
			Str("preference", req.Preference).
			Str("reference_type", req.ReferenceType).
			Str("reference_id", req.ReferenceID).
			Str("kind", string(apperrors.KindOf(err))).
			Msg("Failed to spend credits")
		return nil, err
	}

	prommetrics.RecordSpend(req.Preference, prommetrics.OutcomeSuccess)
	for _, txn := range receipt.Transactions {
		prommetrics.AddCreditsSpent(txn.CurrencyType, -txn.Amount)
	}
	s.log.Info().
		Str("user_id", userID.String()).
		Int64("amount", req.Amount).
		Str("preference", req.Preference).
		Int("legs", len(receipt.Transactions)).
		Msg("Credits spent")
	return receipt, nil
}

func (s *Service) trySpend(ctx context.Context, userID uuid.UUID, req Request) (*Receipt, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "user id is required")
	}
	if req.Amount <= 0 {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "spend amount must be positive, got %d", req.Amount)
	}
	if !ValidPreference(req.Preference) {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "unknown currency preference %q", req.Preference)
	}
	if req.ReferenceType == "" || req.ReferenceID == "" {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "spend reference is required")
	}

	key := models.SpendKey(req.ReferenceType, req.ReferenceID)
	receipt := &Receipt{}

	err := s.guard.Do(ctx, lock.AccountKey(userID), func(ctx context.Context) error {
		return s.ledger.RunInAccountTx(ctx, userID, func(lt *repository.LedgerTx) error {
			existing, err := lt.FindByIdempotencyKey(key)
			if err != nil {
				return err
			}
			if existing != nil {
				return apperrors.New(apperrors.KindDuplicateReference, "spend %s:%s was already recorded", req.ReferenceType, req.ReferenceID)
			}

			legs, err := Split(lt.Account(), req.Amount, req.Preference)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			for i, leg := range legs {
				legKey := key
				if i > 0 {
					legKey = key + ":2"
				}
				txn := models.Transaction{
					UserID:         userID,
					Amount:         -leg.Amount,
					CurrencyType:   leg.Currency,
					ReferenceType:  &req.ReferenceType,
					ReferenceID:    &req.ReferenceID,
					IdempotencyKey: &legKey,
					CreatedAt:      now,
				}
				if err := lt.Append(&txn); err != nil {
					return err
				}
				receipt.Transactions = append(receipt.Transactions, txn)
			}

			receipt.Balance = models.BalanceOf(lt.Account())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
