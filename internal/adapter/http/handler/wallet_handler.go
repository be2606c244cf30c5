package handler

import (
	"metered-messaging/internal/core/ports"
	"metered-messaging/pkg/apperror"
	"metered-messaging/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet endpoints on the ops API.
type WalletHandler struct {
	ledger ports.CreditLedger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.CreditLedger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// WalletResponse is the wallet view returned by the ops API.
type WalletResponse struct {
	TenantID string `json:"tenant_id"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// TopupRequest is the body for POST /api/v1/wallets/:tenant_id/topup.
type TopupRequest struct {
	Amount     int64  `json:"amount" binding:"required"`
	ReasonCode string `json:"reason_code"`
}

// GetBalance handles GET /api/v1/wallets/:tenant_id.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if tenantID == "" {
		response.Error(c, apperror.Validation("tenant_id is required"))
		return
	}

	wallet, err := h.ledger.EnsureWallet(c.Request.Context(), tenantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, WalletResponse{
		TenantID: wallet.TenantID,
		Balance:  wallet.Balance,
		Currency: wallet.Currency,
	})
}

// Topup handles POST /api/v1/wallets/:tenant_id/topup.
func (h *WalletHandler) Topup(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if tenantID == "" {
		response.Error(c, apperror.Validation("tenant_id is required"))
		return
	}

	var req TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	reason := req.ReasonCode
	if reason == "" {
		reason = "manual_topup"
	}

	wallet, err := h.ledger.Credit(c.Request.Context(), tenantID, req.Amount, reason, nil)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, WalletResponse{
		TenantID: wallet.TenantID,
		Balance:  wallet.Balance,
		Currency: wallet.Currency,
	})
}
