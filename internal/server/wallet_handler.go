package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gavelhouse/settlement/internal/wallet"
)

// WalletHandler serves the wallet endpoints.
type WalletHandler struct {
	ledger *wallet.Ledger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(ledger *wallet.Ledger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// Get handles GET /wallet.
func (h *WalletHandler) Get(c *gin.Context) {
	p := currentPrincipal(c)
	acct, err := h.ledger.Balance(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    acct.ID,
		"balance":    acct.Balance,
		"reputation": acct.Reputation,
	})
}

type amountRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// Deposit handles POST /wallet/deposits.
func (h *WalletHandler) Deposit(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := currentPrincipal(c)
	balance, err := h.ledger.Deposit(c.Request.Context(), p.UserID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"balance": balance})
}

// Withdraw handles POST /wallet/withdrawals.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := currentPrincipal(c)
	balance, err := h.ledger.Withdraw(c.Request.Context(), p.UserID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"balance": balance})
}

type paymentResponse struct {
	ID            string  `json:"id"`
	Amount        int64   `json:"amount"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	CorrelationID *string `json:"correlation_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// Payments handles GET /wallet/payments.
func (h *WalletHandler) Payments(c *gin.Context) {
	p := currentPrincipal(c)
	records, err := h.ledger.History(c.Request.Context(), p.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]paymentResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, paymentResponse{
			ID:            r.ID,
			Amount:        r.Amount,
			Kind:          r.Kind,
			Status:        r.Status,
			CorrelationID: r.CorrelationID,
			CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"payments": resp})
}
