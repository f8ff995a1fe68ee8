package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gavelhouse/settlement/internal/auction"
	"github.com/gavelhouse/settlement/internal/store"
	"github.com/gavelhouse/settlement/internal/wallet"
)

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, store.ErrBidTooLow),
		errors.Is(err, store.ErrAlreadyHighestBidder),
		errors.Is(err, wallet.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotParticipant),
		errors.Is(err, auction.ErrSelfAction),
		errors.Is(err, auction.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrAuctionClosed),
		errors.Is(err, store.ErrInvalidState),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrAlreadyProcessed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
