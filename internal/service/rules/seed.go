package rules

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fieldlink/reputation-engine/internal/models"
)

// SeedActor is recorded in the audit trail for rules inserted from the seed file.
const SeedActor = "system:seed"

type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	Name                 string `yaml:"name"`
	Description          string `yaml:"description"`
	CreditAmount         int64  `yaml:"credit_amount"`
	Currency             string `yaml:"currency"`
	CooldownHours        *int   `yaml:"cooldown_hours"`
	DailyLimit           *int   `yaml:"daily_limit"`
	MaxPerTarget         *int   `yaml:"max_per_target"`
	RequiresVerification bool   `yaml:"requires_verification"`
	Enabled              *bool  `yaml:"enabled"`
}

func (r seedRule) toModel() *models.EarningRule {
	rule := &models.EarningRule{
		Name:                 r.Name,
		Description:          r.Description,
		CreditAmount:         r.CreditAmount,
		Currency:             r.Currency,
		CooldownHours:        r.CooldownHours,
		DailyLimit:           r.DailyLimit,
		MaxPerTarget:         r.MaxPerTarget,
		RequiresVerification: r.RequiresVerification,
		IsEnabled:            true,
	}
	if rule.Currency == "" {
		rule.Currency = models.CurrencyEarned
	}
	if r.Enabled != nil {
		rule.IsEnabled = *r.Enabled
	}
	return rule
}

// ParseSeed decodes a YAML rule seed and validates every rule in it.
func ParseSeed(data []byte) ([]*models.EarningRule, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule seed: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	rules := make([]*models.EarningRule, 0, len(file.Rules))
	for i, r := range file.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule seed entry %d has no name", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule seed lists %q twice", r.Name)
		}
		seen[r.Name] = true

		rule := r.toModel()
		if err := Validate(rule); err != nil {
			return nil, fmt.Errorf("rule seed entry %q: %w", r.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadSeed inserts the rules of the seed file at path that do not exist yet.
// Existing rules are left untouched so admin edits survive restarts.
// A missing file is not an error.
func (s *Service) LoadSeed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info().Str("path", path).Msg("No rule seed file, skipping")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rule seed: %w", err)
	}

	rules, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, rule := range rules {
		ok, err := s.ruleRepo.InsertIfMissing(ctx, rule, SeedActor)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed rule %s: %w", rule.Name, err)
		}
		if ok {
			inserted++
			s.log.Info().Str("rule", rule.Name).Msg("Seeded earning rule")
		}
	}

	s.log.Info().
		Int("total", len(rules)).
		Int("inserted", inserted).
		Msg("Rule seed loaded")
	return inserted, nil
}
