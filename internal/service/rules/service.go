// Package rules provides the earning rule registry.
package rules

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/mattermost"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/repository"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

const (
	maxNameLength   = 100
	defaultAuditCap = 100
)

// RuleRepository interface for earning rule persistence.
type RuleRepository interface {
	GetByName(ctx context.Context, name string) (*models.EarningRule, error)
	List(ctx context.Context) ([]models.EarningRule, error)
	Mutate(ctx context.Context, name, actor string, fn func(rule *models.EarningRule, created bool) error) (*models.EarningRule, error)
	InsertIfMissing(ctx context.Context, rule *models.EarningRule, actor string) (bool, error)
}

// AuditRepository interface for the audit trail.
type AuditRepository interface {
	List(ctx context.Context, entityType, entityKey string, limit int) ([]models.AuditEntry, error)
}

// Notifier interface for rule change announcements.
type Notifier interface {
	NotifyRuleChanged(ctx context.Context, rule *models.EarningRule, actor string, created bool) error
}

// Service handles earning rule reads and administrative changes.
type Service struct {
	ruleRepo  RuleRepository
	auditRepo AuditRepository
	notifier  Notifier
	log       *logger.Logger
}

// NewService creates a new rules service.
func NewService(
	ruleRepo *repository.RuleRepository,
	auditRepo *repository.AuditRepository,
	notifier *mattermost.Client,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(ruleRepo, auditRepo, notifier, log)
}

// NewServiceWithInterfaces creates a new rules service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(ruleRepo RuleRepository, auditRepo AuditRepository, notifier Notifier, log *logger.Logger) *Service {
	return &Service{
		ruleRepo:  ruleRepo,
		auditRepo: auditRepo,
		notifier:  notifier,
		log:       log,
	}
}

// Get returns the rule called name. Every call reads the database, so changes apply at once.
func (s *Service) Get(ctx context.Context, name string) (*models.EarningRule, error) {
	rule, err := s.ruleRepo.GetByName(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindRuleNotFound, "earning rule %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns every rule ordered by name.
func (s *Service) List(ctx context.Context) ([]models.EarningRule, error) {
	return s.ruleRepo.List(ctx)
}

// Set applies patch to the rule called name, creating it when missing.
// The new state and its audit entry are written together.
func (s *Service) Set(ctx context.Context, name string, patch models.RulePatch, actor string) (*models.EarningRule, error) {
	if name == "" || len(name) > maxNameLength {
		return nil, apperrors.New(apperrors.KindInvalidRuleConfig, "rule name must be 1-%d characters", maxNameLength)
	}
	if actor == "" {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "actor is required")
	}

	wasCreated := false
	rule, err := s.ruleRepo.Mutate(ctx, name, actor, func(rule *models.EarningRule, created bool) error {
		wasCreated = created
		patch.Apply(rule)
		return Validate(rule)
	})
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("rule", name).
			Str("actor", actor).
			Msg("Failed to set earning rule")
		return nil, err
	}

	prommetrics.RecordRuleChange(rule.Name)
	s.log.Info().
		Str("rule", rule.Name).
		Str("actor", actor).
		Bool("created", wasCreated).
		Bool("enabled", rule.IsEnabled).
		Int64("credit_amount", rule.CreditAmount).
		Msg("Earning rule changed")

	if err := s.notifier.NotifyRuleChanged(ctx, rule, actor, wasCreated); err != nil {
		s.log.Warn().Err(err).Str("rule", rule.Name).Msg("Failed to send rule change notification")
	}

	return rule, nil
}

// ListAudit returns the audit trail of the rule called name, newest first.
func (s *Service) ListAudit(ctx context.Context, name string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > defaultAuditCap {
		limit = defaultAuditCap
	}
	return s.auditRepo.List(ctx, models.AuditEntityRule, name, limit)
}

// Validate checks the configuration of rule.
func Validate(rule *models.EarningRule) error {
	if rule.CreditAmount < 0 {
		return apperrors.New(apperrors.KindInvalidRuleConfig, "credit_amount must be >= 0, got %d", rule.CreditAmount)
	}
	if rule.Currency != models.CurrencyEarned && rule.Currency != models.CurrencyReputation {
		return apperrors.New(apperrors.KindInvalidRuleConfig, "currency must be %q or %q, got %q",
			models.CurrencyEarned, models.CurrencyReputation, rule.Currency)
	}
	limits := []struct {
		field string
		value *int
	}{
		{"cooldown_hours", rule.CooldownHours},
		{"daily_limit", rule.DailyLimit},
		{"max_per_target", rule.MaxPerTarget},
	}
	for _, l := range limits {
		if l.value != nil && *l.value < 0 {
			return apperrors.New(apperrors.KindInvalidRuleConfig, "%s must be >= 0, got %d", l.field, *l.value)
		}
	}
	return nil
}
