package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gavelhouse/settlement/internal/rules"
	"github.com/gavelhouse/settlement/internal/settlement"
	"github.com/gavelhouse/settlement/internal/store"
)

// AdminHandler serves the operator endpoints: sweep triggers and rule tuning.
type AdminHandler struct {
	scanner  *settlement.Scanner
	rules    rules.Provider
	settings store.SettingsRepository
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(scanner *settlement.Scanner, rulesProvider rules.Provider, settings store.SettingsRepository) *AdminHandler {
	return &AdminHandler{scanner: scanner, rules: rulesProvider, settings: settings}
}

// FinalizeDue handles POST /admin/finalize-due.
func (h *AdminHandler) FinalizeDue(c *gin.Context) {
	processed, err := h.scanner.FinalizeDue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// RetryRefunds handles POST /admin/auctions/:id/refunds. It re-drives the
// refund pass for a cancelled auction whose earlier pass failed partway.
func (h *AdminHandler) RetryRefunds(c *gin.Context) {
	refunded, err := h.scanner.RetryRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunded": refunded})
}

type scanOverdueRequest struct {
	PaymentWindowHours int64 `json:"payment_window_hours"`
}

// ScanOverdue handles POST /admin/scan-overdue. An explicit window in the
// body overrides the configured payment window.
func (h *AdminHandler) ScanOverdue(c *gin.Context) {
	var req scanOverdueRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rs, err := h.rules.Rules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	window := rs.PaymentWindow
	if req.PaymentWindowHours > 0 {
		window = time.Duration(req.PaymentWindowHours) * time.Hour
	}

	processed, err := h.scanner.ScanOverdue(c.Request.Context(), window)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed":          processed,
		"reputation_penalty": rs.ReputationPenalty,
	})
}

// GetRules handles GET /admin/rules.
func (h *AdminHandler) GetRules(c *gin.Context) {
	rs, err := h.rules.Rules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"min_step":                rs.MinStep,
		"join_fee":                rs.JoinFee,
		"reputation_penalty":      rs.ReputationPenalty,
		"snipe_window_seconds":    int64(rs.SnipeWindow / time.Second),
		"snipe_extension_seconds": int64(rs.SnipeExtension / time.Second),
		"payment_window_seconds":  int64(rs.PaymentWindow / time.Second),
	})
}

type setRuleRequest struct {
	Key   string `json:"key" binding:"required"`
	Value int64  `json:"value"`
}

var ruleKeys = map[string]bool{
	rules.KeyMinStep:           true,
	rules.KeyJoinFee:           true,
	rules.KeyReputationPenalty: true,
	rules.KeySnipeWindowSec:    true,
	rules.KeySnipeExtensionSec: true,
	rules.KeyPaymentWindowSec:  true,
}

// SetRule handles PUT /admin/rules. Changes take effect on the next
// operation; in-flight operations keep the values they read.
func (h *AdminHandler) SetRule(c *gin.Context) {
	var req setRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ruleKeys[req.Key] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rule key: " + req.Key})
		return
	}
	if req.Value < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule values must be non-negative"})
		return
	}

	if err := h.settings.Set(c.Request.Context(), req.Key, req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": req.Key, "value": req.Value})
}
