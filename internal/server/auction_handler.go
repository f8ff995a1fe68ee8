package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gavelhouse/settlement/internal/auction"
	"github.com/gavelhouse/settlement/internal/escrow"
	"github.com/gavelhouse/settlement/internal/store"
)

// AuctionHandler serves the auction lifecycle endpoints.
type AuctionHandler struct {
	manager *auction.Manager
	escrow  *escrow.Escrow
	bids    store.BidRepository
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(manager *auction.Manager, esc *escrow.Escrow, bids store.BidRepository) *AuctionHandler {
	return &AuctionHandler{manager: manager, escrow: esc, bids: bids}
}

type createAuctionRequest struct {
	ProductID       string `json:"product_id" binding:"required"`
	StartingBid     int64  `json:"starting_bid"`
	DurationMinutes int64  `json:"duration_minutes" binding:"required,gt=0"`
}

type auctionResponse struct {
	ID              string  `json:"id"`
	ProductID       string  `json:"product_id"`
	SellerID        string  `json:"seller_id"`
	StartingBid     int64   `json:"starting_bid"`
	CurrentPrice    int64   `json:"current_price"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
	Status          string  `json:"status"`
	WinningBidderID *string `json:"winning_bidder_id,omitempty"`
}

// Create handles POST /auctions.
func (h *AuctionHandler) Create(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := currentPrincipal(c)
	a, err := h.manager.Create(c.Request.Context(), p.UserID, req.ProductID,
		req.StartingBid, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(c, a))
}

// Get handles GET /auctions/:id. The read finalizes the auction first if its
// deadline has passed, so callers never see a stale active auction.
func (h *AuctionHandler) Get(c *gin.Context) {
	a, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(c, a))
}

type bidResponse struct {
	ID        string `json:"id"`
	BidderID  string `json:"bidder_id"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at"`
}

// ListBids handles GET /auctions/:id/bids.
func (h *AuctionHandler) ListBids(c *gin.Context) {
	bids, err := h.bids.ListByAuction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, bidResponse{
			ID:        b.ID,
			BidderID:  b.BidderID,
			Amount:    b.Amount,
			CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"bids": resp})
}

// Join handles POST /auctions/:id/join. Joining charges the participation fee;
// joining twice is a no-op and charges nothing.
func (h *AuctionHandler) Join(c *gin.Context) {
	p := currentPrincipal(c)
	if err := h.escrow.Join(c.Request.Context(), c.Param("id"), p.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": true})
}

type placeBidRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// PlaceBid handles POST /auctions/:id/bids.
func (h *AuctionHandler) PlaceBid(c *gin.Context) {
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := currentPrincipal(c)
	outcome, err := h.manager.PlaceBid(c.Request.Context(), c.Param("id"), p.UserID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"bid": bidResponse{
			ID:        outcome.Bid.ID,
			BidderID:  outcome.Bid.BidderID,
			Amount:    outcome.Bid.Amount,
			CreatedAt: outcome.Bid.CreatedAt.UTC().Format(time.RFC3339),
		},
		"current_price": outcome.CurrentPrice,
		"extended":      outcome.Extended,
		"end_time":      outcome.EndTime.UTC().Format(time.RFC3339),
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /auctions/:id/cancel. Only the seller or an admin may
// cancel.
func (h *AuctionHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by request"
	}

	p := currentPrincipal(c)
	if err := h.manager.Cancel(c.Request.Context(), c.Param("id"), p.UserID, p.Admin, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// Pay handles POST /auctions/:id/pay. Only the winning bidder may pay.
func (h *AuctionHandler) Pay(c *gin.Context) {
	p := currentPrincipal(c)
	if err := h.manager.CompleteSale(c.Request.Context(), c.Param("id"), p.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": true})
}

func (h *AuctionHandler) toResponse(c *gin.Context, a *store.Auction) auctionResponse {
	price, err := h.manager.CurrentPrice(c.Request.Context(), a)
	if err != nil {
		price = a.StartingBid
	}
	return auctionResponse{
		ID:              a.ID,
		ProductID:       a.ProductID,
		SellerID:        a.SellerID,
		StartingBid:     a.StartingBid,
		CurrentPrice:    price,
		StartTime:       a.StartTime.UTC().Format(time.RFC3339),
		EndTime:         a.EndTime.UTC().Format(time.RFC3339),
		Status:          a.Status,
		WinningBidderID: a.WinningBidderID,
	}
}
