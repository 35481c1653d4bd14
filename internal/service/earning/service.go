// Package earning authorises and records rule-based credit awards.
package earning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/lock"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/repository"
	"github.com/fieldlink/reputation-engine/internal/service/rules"
	"github.com/fieldlink/reputation-engine/pkg/clock"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// AwardRequest describes the business event an award is for.
type AwardRequest struct {
	TargetID      *string `json:"target_id"`
	ReferenceType *string `json:"reference_type"`
	ReferenceID   *string `json:"reference_id"`
	UserVerified  bool    `json:"user_verified"`
}

// AwardResult is the outcome of a successful TryAward.
// Replayed is set when the reference had already been awarded and nothing new was written.
type AwardResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Replayed    bool                `json:"replayed"`
	Balance     models.Balance      `json:"balance"`
}

// RuleSource interface for reading earning rules.
type RuleSource interface {
	Get(ctx context.Context, name string) (*models.EarningRule, error)
}

// LedgerStore interface for locked ledger access.
type LedgerStore interface {
	RunInAccountTx(ctx context.Context, userID uuid.UUID, fn func(*repository.LedgerTx) error) error
}

// Guard serialises work per key across processes.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Service evaluates earning rules and appends awards.
type Service struct {
	rules    RuleSource
	ledger   LedgerStore
	guard    Guard
	clock    clock.Clock
	boundary clock.DayBoundary
	log      *logger.Logger
}

// NewService creates a new earning service.
func NewService(
	ruleService *rules.Service,
	ledgerRepo *repository.LedgerRepository,
	guard *lock.Guard,
	clk clock.Clock,
	boundary clock.DayBoundary,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(ruleService, ledgerRepo, guard, clk, boundary, log)
}

// NewServiceWithInterfaces creates a new earning service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	ruleSource RuleSource,
	ledger LedgerStore,
	guard Guard,
	clk clock.Clock,
	boundary clock.DayBoundary,
	log *logger.Logger,
) *Service {
	return &Service{
		rules:    ruleSource,
		ledger:   ledger,
		guard:    guard,
		clock:    clk,
		boundary: boundary,
		log:      log,
	}
}

// TryAward credits userID under the rule called ruleName if every rule constraint holds.
// Repeating a call with the same reference returns the original transaction.
func (s *Service) TryAward(ctx context.Context, userID uuid.UUID, ruleName string, req AwardRequest) (*AwardResult, error) {
	start := time.Now()
	defer func() {
		prommetrics.ObserveOperationDuration("award", time.Since(start).Seconds())
	}()

	result, err := s.tryAward(ctx, userID, ruleName, req)
	if err != nil {
		prommetrics.RecordAward(ruleName, prommetrics.OutcomeOf(string(apperrors.KindOf(err))))
		event := s.log.Warn()
		if apperrors.KindOf(err) == "" {
			event = s.log.Error()
		}
		event.
			Err(err).
			Str("user_id", userID.String()).
			Str("rule", ruleName).
			Str("kind", string(apperrors.KindOf(err))).
			Interface("target_id", req.TargetID).
			Interface("reference_type", req.ReferenceType).
			Interface("reference_id", req.ReferenceID).
			Msg("Failed to award credits")
		return nil, err
	}

	if result.Replayed {
		prommetrics.RecordAward(ruleName, prommetrics.OutcomeReplayed)
		s.log.Debug().
			Str("user_id", userID.String()).
			Str("rule", ruleName).
			Uint("transaction_id", result.Transaction.ID).
			Msg("Award replayed")
		return result, nil
	}

	prommetrics.RecordAward(ruleName, prommetrics.OutcomeSuccess)
	prommetrics.AddCreditsAwarded(ruleName, result.Transaction.CurrencyType, result.Transaction.Amount)
	s.log.Info().
		Str("user_id", userID.String()).
		Str("rule", ruleName).
		Int64("amount", result.Transaction.Amount).
		Str("currency", result.Transaction.CurrencyType).
		Msg("Credits awarded")
	return result, nil
}

func (s *Service) tryAward(ctx context.Context, userID uuid.UUID, ruleName string, req AwardRequest) (*AwardResult, error) {
	if userID == uuid.Nil {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "user id is required")
	}
	if (req.ReferenceType == nil) != (req.ReferenceID == nil) {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "reference_type and reference_id must be given together")
	}

	rule, err := s.rules.Get(ctx, ruleName)
	if err != nil {
		return nil, err
	}
	key := models.AwardKey(rule.ID, req.ReferenceType, req.ReferenceID)

	var result *AwardResult
	err = s.guard.Do(ctx, lock.AccountKey(userID), func(ctx context.Context) error {
		return s.ledger.RunInAccountTx(ctx, userID, func(lt *repository.LedgerTx) error {
			var err error
			result, err = s.awardLocked(lt, rule, key, req)
			return err
		})
	})
	if errors.Is(err, apperrors.ErrDuplicateReference) && key != nil {
		// Another writer recorded the same reference between our check and insert.
		return s.replay(ctx, userID, *key)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) awardLocked(lt *repository.LedgerTx, rule *models.EarningRule, key *string, req AwardRequest) (*AwardResult, error) {
	// A known reference is a replay, even when limits would refuse a new award.
	if key != nil {
		existing, err := lt.FindByIdempotencyKey(*key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.UserID != lt.Account().UserID {
				return nil, apperrors.New(apperrors.KindDuplicateReference, "reference %s was awarded to another user", *key)
			}
			return &AwardResult{Transaction: existing, Replayed: true, Balance: models.BalanceOf(lt.Account())}, nil
		}
	}

	now := s.clock.Now()
	day := s.boundary.Key(now)

	state, err := s.loadState(lt, rule, req, day)
	if err != nil {
		return nil, err
	}
	if err := Evaluate(rule, state, req, now, s.boundary); err != nil {
		return nil, err
	}

	ruleID := rule.ID
	txn := &models.Transaction{
		UserID:         lt.Account().UserID,
		Amount:         rule.CreditAmount,
		CurrencyType:   rule.Currency,
		RuleID:         &ruleID,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		TargetID:       req.TargetID,
		IdempotencyKey: key,
		CreatedAt:      now,
	}

	if err := lt.Append(txn); err != nil {
		return nil, err
	}

	if _, err := lt.IncrementDaily(rule.ID, day, rule.CreditAmount); err != nil {
		return nil, err
	}

	return &AwardResult{Transaction: txn, Balance: models.BalanceOf(lt.Account())}, nil
}

func (s *Service) loadState(lt *repository.LedgerTx, rule *models.EarningRule, req AwardRequest, day string) (State, error) {
	var state State

	if rule.CooldownHours != nil && *rule.CooldownHours > 0 {
		last, err := lt.LastAward(rule.ID)
		if err != nil {
			return state, err
		}
		if last != nil {
			at := last.CreatedAt.UTC()
			state.LastAwardAt = &at
		}
	}

	if rule.DailyLimit != nil {
		agg, err := lt.DailyAggregate(rule.ID, day)
		if err != nil {
			return state, err
		}
		state.TimesEarnedToday = agg.TimesEarned
	}

	if rule.MaxPerTarget != nil && req.TargetID != nil {
		count, err := lt.CountTargetAwards(rule.ID, *req.TargetID)
		if err != nil {
			return state, err
		}
		state.TargetAwards = count
	}

	return state, nil
}

func (s *Service) replay(ctx context.Context, userID uuid.UUID, key string) (*AwardResult, error) {
	var result *AwardResult
	err := s.ledger.RunInAccountTx(ctx, userID, func(lt *repository.LedgerTx) error {
		existing, err := lt.FindByIdempotencyKey(key)
		if err != nil {
			return err
		}
		if existing == nil || existing.UserID != userID {
			return apperrors.New(apperrors.KindDuplicateReference, "reference %s already recorded", key)
		}
		result = &AwardResult{Transaction: existing, Replayed: true, Balance: models.BalanceOf(lt.Account())}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load replayed award: %w", err)
	}
	return result, nil
}
