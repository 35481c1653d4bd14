// Package economy provides the REST API of the reputation and credit economy.
// It exposes balances, awards, spends, earning rules, connection quotas and trust scores.
package economy

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/service/earning"
	"github.com/fieldlink/reputation-engine/internal/service/ledger"
	"github.com/fieldlink/reputation-engine/internal/service/quota"
	"github.com/fieldlink/reputation-engine/internal/service/rules"
	"github.com/fieldlink/reputation-engine/internal/service/spend"
	"github.com/fieldlink/reputation-engine/internal/service/trustscore"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

const maxTransactionsPage = 500

// LedgerService interface for balance and account operations.
type LedgerService interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (models.Balance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, filter models.TransactionFilter) ([]models.Transaction, error)
	CreditPurchase(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) (*ledger.PurchaseResult, error)
	EnsureAccount(ctx context.Context, userID uuid.UUID, role string) (*models.Account, error)
}

// EarningService interface for rule-based awards.
type EarningService interface {
	TryAward(ctx context.Context, userID uuid.UUID, ruleName string, req earning.AwardRequest) (*earning.AwardResult, error)
}

// SpendService interface for spending credits.
type SpendService interface {
	TrySpend(ctx context.Context, userID uuid.UUID, req spend.Request) (*spend.Receipt, error)
}

// RuleService interface for the earning rule registry.
type RuleService interface {
	Get(ctx context.Context, name string) (*models.EarningRule, error)
	List(ctx context.Context) ([]models.EarningRule, error)
	Set(ctx context.Context, name string, patch models.RulePatch, actor string) (*models.EarningRule, error)
	ListAudit(ctx context.Context, name string, limit int) ([]models.AuditEntry, error)
}

// QuotaService interface for connection request quotas.
type QuotaService interface {
	GetQuota(ctx context.Context, userID uuid.UUID) (*models.Quota, error)
	TryConsume(ctx context.Context, userID uuid.UUID) (*models.Quota, error)
	SetCustomLimit(ctx context.Context, userID uuid.UUID, limit *int, actor string) (*models.ConnectionLimitOverride, error)
}

// TrustService interface for trust scores and reviews.
type TrustService interface {
	Recompute(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error)
	ScheduleRecompute(ctx context.Context, userID uuid.UUID, role string) error
	Get(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error)
	SubmitReview(ctx context.Context, in trustscore.ReviewInput) (*models.TrustScoreReview, error)
	HideReview(ctx context.Context, id uint, actor string) (*models.TrustScoreReview, error)
	UnhideReview(ctx context.Context, id uint, actor string) (*models.TrustScoreReview, error)
	OpenDispute(ctx context.Context, id uint, actor string) (*models.TrustScoreReview, error)
	ResolveDispute(ctx context.Context, id uint, resolution, actor string) (*models.TrustScoreReview, error)
	HideReviewWithCredits(ctx context.Context, id uint, userID uuid.UUID) (*models.TrustScoreReview, error)
}

// Services groups the dependencies of the handler.
type Services struct {
	Ledger  LedgerService
	Earning EarningService
	Spend   SpendService
	Rules   RuleService
	Quota   QuotaService
	Trust   TrustService
}

// Handler handles economy API requests.
type Handler struct {
	ledger  LedgerService
	earning EarningService
	spend   SpendService
	rules   RuleService
	quota   QuotaService
	trust   TrustService
	log     *logger.Logger
}

// NewHandler creates a new economy handler.
func NewHandler(
	ledgerService *ledger.Service,
	earningService *earning.Service,
	spendService *spend.Service,
	ruleService *rules.Service,
	quotaService *quota.Service,
	trustService *trustscore.Service,
	log *logger.Logger,
) *Handler {
	return NewHandlerWithInterfaces(Services{
		Ledger:  ledgerService,
		Earning: earningService,
		Spend:   spendService,
		Rules:   ruleService,
		Quota:   quotaService,
		Trust:   trustService,
	}, log)
}

// NewHandlerWithInterfaces creates a new economy handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(s Services, log *logger.Logger) *Handler {
	return &Handler{
		ledger:  s.Ledger,
		earning: s.Earning,
		spend:   s.Spend,
		rules:   s.Rules,
		quota:   s.Quota,
		trust:   s.Trust,
		log:     log,
	}
}

type awardBody struct {
	Rule string `json:"rule"`
	earning.AwardRequest
}

// AwardCredit applies an earning rule to a user.
// POST /api/v1/users/:id/awards.
func (h *Handler) AwardCredit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var body awardBody
	if !h.bindJSON(c, &body) {
		return
	}
	if body.Rule == "" {
		h.writeError(c, apperrors.New(apperrors.KindInvalidArgument, "rule is required"), "")
		return
	}

	result, err := h.earning.TryAward(c.Request.Context(), userID, body.Rule, body.AwardRequest)
	if err != nil {
		h.writeError(c, err, "Failed to award credits")
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// SpendCredit spends credits of a user.
// POST /api/v1/users/:id/spends.
func (h *Handler) SpendCredit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req spend.Request
	if !h.bindJSON(c, &req) {
		return
	}

	receipt, err := h.spend.TrySpend(c.Request.Context(), userID, req)
	if err != nil {
		h.writeError(c, err, "Failed to spend credits")
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// GetBalance returns the balances of a user.
// GET /api/v1/users/:id/balance.
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "Failed to get balance")
		return
	}
	c.JSON(http.StatusOK, balance)
}

// ListTransactions returns the transaction history of a user, newest first.
// GET /api/v1/users/:id/transactions?currency=earned&rule_id=1&since=...&until=...&limit=50&offset=0.
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	filter, err := parseTransactionFilter(c)
	if err != nil {
		h.writeError(c, err, "Invalid transaction filter")
		return
	}

	txns, err := h.ledger.ListTransactions(c.Request.Context(), userID, filter)
	if err != nil {
		h.writeError(c, err, "Failed to list transactions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      userID,
		"transactions": txns,
		"count":        len(txns),
		"limit":        filter.Limit,
		"offset":       filter.Offset,
	})
}

type purchaseBody struct {
	Amount        int64  `json:"amount"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
}

// CreditPurchase records paid credits bought by a user.
// POST /api/v1/users/:id/purchases (admin).
func (h *Handler) CreditPurchase(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var body purchaseBody
	if !h.bindJSON(c, &body) {
		return
	}

	result, err := h.ledger.CreditPurchase(c.Request.Context(), userID, body.Amount, body.ReferenceType, body.ReferenceID)
	if err != nil {
		h.writeError(c, err, "Failed to record purchase")
		return
	}

	h.log.Info().
		Str("user_id", userID.String()).
		Int64("amount", body.Amount).
		Str("actor", actorID(c)).
		Bool("replayed", result.Replayed).
		Msg("Recorded credit purchase")

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

type accountBody struct {
	Role string `json:"role"`
}

// EnsureAccount creates the account of a user or updates its role.
// PUT /api/v1/users/:id/account.
func (h *Handler) EnsureAccount(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var body accountBody
	if !h.bindJSON(c, &body) {
		return
	}

	account, err := h.ledger.EnsureAccount(c.Request.Context(), userID, body.Role)
	if err != nil {
		h.writeError(c, err, "Failed to ensure account")
		return
	}
	c.JSON(http.StatusOK, account)
}

// ListRules returns every earning rule.
// GET /api/v1/rules.
func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.rules.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "Failed to list rules")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rules": list,
		"count": len(list),
	})
}

// GetRule returns one earning rule.
// GET /api/v1/rules/:name.
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.rules.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, err, "Failed to get rule")
		return
	}
	c.JSON(http.StatusOK, rule)
}

// SetRule creates or updates an earning rule.
// PUT /api/v1/rules/:name (admin).
func (h *Handler) SetRule(c *gin.Context) {
	var patch models.RulePatch
	if !h.bindJSON(c, &patch) {
		return
	}

	rule, err := h.rules.Set(c.Request.Context(), c.Param("name"), patch, actorID(c))
	if err != nil {
		h.writeError(c, err, "Failed to set rule")
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ListRuleAudit returns the change history of an earning rule.
// GET /api/v1/rules/:name/audit?limit=20 (admin).
func (h *Handler) ListRuleAudit(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", 20)
	if err != nil {
		h.writeError(c, err, "Invalid audit limit")
		return
	}

	name := c.Param("name")
	entries, err := h.rules.ListAudit(c.Request.Context(), name, limit)
	if err != nil {
		h.writeError(c, err, "Failed to list rule audit")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rule":    name,
		"entries": entries,
		"count":   len(entries),
	})
}

// GetConnectionQuota returns today's connection request quota of a user.
// GET /api/v1/users/:id/connection-quota.
func (h *Handler) GetConnectionQuota(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	q, err := h.quota.GetQuota(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "Failed to get connection quota")
		return
	}
	c.JSON(http.StatusOK, q)
}

// ConsumeConnectionQuota uses one connection request of today's quota.
// POST /api/v1/users/:id/connection-quota/consume.
func (h *Handler) ConsumeConnectionQuota(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	q, err := h.quota.TryConsume(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "Failed to consume connection quota")
		return
	}
	c.JSON(http.StatusOK, q)
}

type connectionLimitBody struct {
	CustomLimit *int `json:"custom_limit"`
}

// SetConnectionLimit overrides or clears the daily connection limit of a user.
// PUT /api/v1/users/:id/connection-limit (admin).
func (h *Handler) SetConnectionLimit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var body connectionLimitBody
	if !h.bindJSON(c, &body) {
		return
	}

	override, err := h.quota.SetCustomLimit(c.Request.Context(), userID, body.CustomLimit, actorID(c))
	if err != nil {
		h.writeError(c, err, "Failed to set connection limit")
		return
	}
	c.JSON(http.StatusOK, override)
}

// GetTrustScore returns the trust score of a user in a role.
// GET /api/v1/users/:id/trust-scores/:role.
func (h *Handler) GetTrustScore(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	score, err := h.trust.Get(c.Request.Context(), userID, c.Param("role"))
	if err != nil {
		h.writeError(c, err, "Failed to get trust score")
		return
	}
	c.JSON(http.StatusOK, score)
}

// RecomputeTrustScore recomputes the trust score of a user in a role.
// With async=true the recompute is queued and 202 is returned.
// POST /api/v1/users/:id/trust-scores/:role/recompute?async=true.
func (h *Handler) RecomputeTrustScore(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	role := c.Param("role")

	if c.Query("async") == "true" {
		if err := h.trust.ScheduleRecompute(c.Request.Context(), userID, role); err != nil {
			h.writeError(c, err, "Failed to queue trust score recompute")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"user_id": userID,
			"role":    role,
			"queued":  true,
		})
		return
	}

	score, err := h.trust.Recompute(c.Request.Context(), userID, role)
	if err != nil {
		h.writeError(c, err, "Failed to recompute trust score")
		return
	}
	c.JSON(http.StatusOK, score)
}

// SubmitReview stores a review of a completed engagement.
// POST /api/v1/reviews.
func (h *Handler) SubmitReview(c *gin.Context) {
	var in trustscore.ReviewInput
	if !h.bindJSON(c, &in) {
		return
	}

	review, err := h.trust.SubmitReview(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err, "Failed to submit review")
		return
	}
	c.JSON(http.StatusCreated, review)
}

// HideReview hides a review as a moderator.
// POST /api/v1/reviews/:id/hide (admin).
func (h *Handler) HideReview(c *gin.Context) {
	h.reviewAction(c, h.trust.HideReview, "Failed to hide review")
}

// UnhideReview reveals a hidden review.
// POST /api/v1/reviews/:id/unhide (admin).
func (h *Handler) UnhideReview(c *gin.Context) {
	h.reviewAction(c, h.trust.UnhideReview, "Failed to unhide review")
}

// OpenDispute marks a review as disputed.
// POST /api/v1/reviews/:id/dispute.
func (h *Handler) OpenDispute(c *gin.Context) {
	h.reviewAction(c, h.trust.OpenDispute, "Failed to open dispute")
}

type resolveBody struct {
	Resolution string `json:"resolution"`
}

// ResolveDispute closes the dispute of a review.
// POST /api/v1/reviews/:id/resolve-dispute (admin).
func (h *Handler) ResolveDispute(c *gin.Context) {
	id, ok := h.reviewID(c)
	if !ok {
		return
	}

	var body resolveBody
	if !h.bindJSON(c, &body) {
		return
	}

	review, err := h.trust.ResolveDispute(c.Request.Context(), id, body.Resolution, actorID(c))
	if err != nil {
		h.writeError(c, err, "Failed to resolve dispute")
		return
	}
	c.JSON(http.StatusOK, review)
}

type hideWithCreditsBody struct {
	UserID uuid.UUID `json:"user_id"`
}

// HideReviewWithCredits lets the reviewed user pay credits to hide a review for a while.
// POST /api/v1/reviews/:id/hide-with-credits.
func (h *Handler) HideReviewWithCredits(c *gin.Context) {
	id, ok := h.reviewID(c)
	if !ok {
		return
	}

	var body hideWithCreditsBody
	if !h.bindJSON(c, &body) {
		return
	}

	review, err := h.trust.HideReviewWithCredits(c.Request.Context(), id, body.UserID)
	if err != nil {
		h.writeError(c, err, "Failed to hide review with credits")
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *Handler) reviewAction(
	c *gin.Context,
	action func(ctx context.Context, id uint, actor string) (*models.TrustScoreReview, error),
	failMsg string,
) {
	id, ok := h.reviewID(c)
	if !ok {
		return
	}

	review, err := action(c.Request.Context(), id, actorID(c))
	if err != nil {
		h.writeError(c, err, failMsg)
		return
	}
	c.JSON(http.StatusOK, review)
}

// Helper functions

// userID extracts and validates the user ID from the URL parameter.
func (h *Handler) userID(c *gin.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil || id == uuid.Nil {
		h.writeError(c, apperrors.New(apperrors.KindInvalidArgument, "invalid user ID: %s", idStr), "")
		return uuid.Nil, false
	}
	return id, true
}

// reviewID extracts and validates the review ID from the URL parameter.
func (h *Handler) reviewID(c *gin.Context) (uint, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		h.writeError(c, apperrors.New(apperrors.KindInvalidArgument, "invalid review ID: %s", idStr), "")
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.writeError(c, apperrors.Wrap(apperrors.KindInvalidArgument, err, "invalid request body"), "")
		return false
	}
	return true
}

func parseIntQuery(c *gin.Context, key string, defaultValue int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.New(apperrors.KindInvalidArgument, "invalid %s parameter: %s", key, raw)
	}
	return v, nil
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "invalid %s parameter, want RFC3339: %s", key, raw)
	}
	t = t.UTC()
	return &t, nil
}

func parseTransactionFilter(c *gin.Context) (models.TransactionFilter, error) {
	filter := models.TransactionFilter{CurrencyType: c.Query("currency")}

	var err error
	if filter.Limit, err = parseIntQuery(c, "limit", 50); err != nil {
		return filter, err
	}
	if filter.Limit < 1 || filter.Limit > maxTransactionsPage {
		return filter, apperrors.New(apperrors.KindInvalidArgument, "limit must be between 1 and %d", maxTransactionsPage)
	}
	if filter.Offset, err = parseIntQuery(c, "offset", 0); err != nil {
		return filter, err
	}

	if raw := c.Query("rule_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return filter, apperrors.New(apperrors.KindInvalidArgument, "invalid rule_id parameter: %s", raw)
		}
		ruleID := uint(id)
		filter.RuleID = &ruleID
	}

	if filter.Since, err = parseTimeQuery(c, "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTimeQuery(c, "until"); err != nil {
		return filter, err
	}
	if filter.Since != nil && filter.Until != nil && !filter.Until.After(*filter.Since) {
		return filter, apperrors.New(apperrors.KindInvalidArgument, "until must be after since")
	}
	return filter, nil
}
