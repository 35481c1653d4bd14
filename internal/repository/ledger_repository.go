package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/models"
)

// LedgerRepository stores accounts, transactions and daily earning aggregates.
type LedgerRepository struct {
	db          *DB
	lockTimeout time.Duration
}

// NewLedgerRepository creates a new ledger repository.
// lockTimeout bounds how long a transaction waits for an account row lock on PostgreSQL.
func NewLedgerRepository(db *DB, lockTimeout time.Duration) *LedgerRepository {
	return &LedgerRepository{db: db, lockTimeout: lockTimeout}
}

// LedgerTx is a database transaction holding the row lock of one account.
// All reads and writes made through it see and extend the same locked state.
type LedgerTx struct {
	tx      *gorm.DB
	account *models.Account
}

// RunInAccountTx locks the account row of userID, creating the account on first use,
// and runs fn inside the same transaction. Returning an error from fn rolls back.
func (r *LedgerRepository) RunInAccountTx(ctx context.Context, userID uuid.UUID, fn func(*LedgerTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setLockTimeout(tx, r.lockTimeout); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}

		account, err := lockAccount(tx, userID)
		if err != nil {
			return err
		}

		return fn(&LedgerTx{tx: tx, account: account})
	})
	return translateLockError(err)
}

func lockAccount(tx *gorm.DB, userID uuid.UUID) (*models.Account, error) {
	seed := &models.Account{UserID: userID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	var account models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &account, nil
}

// Account returns the locked account as modified so far in this transaction.
func (t *LedgerTx) Account() *models.Account {
	return t.account
}

// FindByIdempotencyKey returns the transaction carrying key, or nil.
func (t *LedgerTx) FindByIdempotencyKey(key string) (*models.Transaction, error) {
	var txn models.Transaction
	err := t.tx.Where("idempotency_key = ?", key).Limit(1).Find(&txn).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

// LastAward returns the most recent award of ruleID to the locked account, or nil.
func (t *LedgerTx) LastAward(ruleID uint) (*models.Transaction, error) {
	var txn models.Transaction
	err := t.tx.
		Where("user_id = ? AND rule_id = ?", t.account.UserID, ruleID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&txn).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get last award: %w", err)
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

// CountTargetAwards counts the awards of ruleID to the locked account for targetID.
func (t *LedgerTx) CountTargetAwards(ruleID uint, targetID string) (int64, error) {
	var count int64
	err := t.tx.Model(&models.Transaction{}).
		Where("user_id = ? AND rule_id = ? AND target_id = ?", t.account.UserID, ruleID, targetID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count target awards: %w", err)
	}
	return count, nil
}

// DailyAggregate returns the aggregate of ruleID on day. A missing row is returned zero-valued.
func (t *LedgerTx) DailyAggregate(ruleID uint, day string) (*models.DailyEarningAggregate, error) {
	agg := models.DailyEarningAggregate{UserID: t.account.UserID, RuleID: ruleID, Day: day}
	err := t.tx.
		Where("user_id = ? AND rule_id = ? AND day = ?", t.account.UserID, ruleID, day).
		Limit(1).
		Find(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get daily aggregate: %w", err)
	}
	return &agg, nil
}

// IncrementDaily adds one award of credits to the aggregate of ruleID on day.
// The account lock serialises writers, so read-then-write is safe here.
func (t *LedgerTx) IncrementDaily(ruleID uint, day string, credits int64) (*models.DailyEarningAggregate, error) {
	agg, err := t.DailyAggregate(ruleID, day)
	if err != nil {
		return nil, err
	}

	agg.TimesEarned++
	agg.TotalCredits += credits
	if agg.ID == 0 {
		err = t.tx.Create(agg).Error
	} else {
		err = t.tx.Save(agg).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update daily aggregate: %w", err)
	}
	return agg, nil
}

// Append writes txn and updates the balance projection of the locked account.
// It fails with DuplicateReference when the idempotency key is taken and with
// InsufficientBalance when any balance would become negative.
func (t *LedgerTx) Append(txn *models.Transaction) error {
	if txn.UserID != t.account.UserID {
		return apperrors.New(apperrors.KindInvalidArgument, "transaction belongs to another account")
	}

	if txn.IdempotencyKey != nil {
		existing, err := t.FindByIdempotencyKey(*txn.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.New(apperrors.KindDuplicateReference, "reference %s already recorded", *txn.IdempotencyKey)
		}
	}

	next := *t.account
	switch txn.CurrencyType {
	case models.CurrencyEarned:
		next.EarnedCredits += txn.Amount
	case models.CurrencyPaid:
		next.PaidCredits += txn.Amount
	case models.CurrencyReputation:
		next.ReputationPoints += txn.Amount
	default:
		return apperrors.New(apperrors.KindInvalidArgument, "unknown currency type %q", txn.CurrencyType)
	}
	if next.EarnedCredits < 0 || next.PaidCredits < 0 || next.ReputationPoints < 0 {
		return apperrors.New(apperrors.KindInsufficientBalance,
			"insufficient %s balance for %d", txn.CurrencyType, -txn.Amount)
	}

	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	if err := t.tx.Create(txn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Wrap(apperrors.KindDuplicateReference, err, "reference already recorded")
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	next.Version++
	err := t.tx.Model(&models.Account{}).
		Where("user_id = ?", next.UserID).
		Updates(map[string]interface{}{
			"earned_credits":    next.EarnedCredits,
			"paid_credits":      next.PaidCredits,
			"reputation_points": next.ReputationPoints,
			"version":           next.Version,
			"updated_at":        txn.CreatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	*t.account = next
	return nil
}

// GetAccount retrieves an account, or nil when the user has none yet.
func (r *LedgerRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account.UserID == uuid.Nil {
		return nil, nil
	}
	return &account, nil
}

// EnsureAccount creates the account with role, or updates the role of an existing one.
func (r *LedgerRepository) EnsureAccount(ctx context.Context, userID uuid.UUID, role string) (*models.Account, error) {
	var account *models.Account
	err := r.RunInAccountTx(ctx, userID, func(t *LedgerTx) error {
		account = t.account
		if account.Role == role {
			return nil
		}
		account.Role = role
		return t.tx.Model(&models.Account{}).
			Where("user_id = ?", userID).
			Update("role", role).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}
	return account, nil
}

// ListTransactions retrieves transactions of a user, newest first.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)

	if filter.CurrencyType != "" {
		query = query.Where("currency_type = ?", filter.CurrencyType)
	}
	if filter.RuleID != nil {
		query = query.Where("rule_id = ?", *filter.RuleID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	if filter.Until != nil {
		query = query.Where("created_at < ?", filter.Until.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var txns []models.Transaction
	err := query.Order("created_at DESC").Order("id DESC").Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// FindByIdempotencyKey retrieves the transaction carrying key, or nil.
func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	t := &LedgerTx{tx: r.db.WithContext(ctx)}
	return t.FindByIdempotencyKey(key)
}

type currencySum struct {
	CurrencyType string
	Total        int64
}

// SumByCurrency totals the transaction log of a user per currency.
func (r *LedgerRepository) SumByCurrency(ctx context.Context, userID uuid.UUID) (map[string]int64, error) {
	var rows []currencySum
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("currency_type, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID).
		Group("currency_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}

	sums := make(map[string]int64, len(rows))
	for _, row := range rows {
		sums[row.CurrencyType] = row.Total
	}
	return sums, nil
}

// ListAccountIDs returns up to limit account ids greater than after, in order.
func (r *LedgerRepository) ListAccountIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id > ?", after).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return ids, nil
}
