package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/loop/internal/customerstate"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
)

type customerStateResponse struct {
	MerchantID snowflake.ID  `json:"merchant_id"`
	CustomerID snowflake.ID  `json:"customer_id"`
	BranchID   *snowflake.ID `json:"branch_id,omitempty"`
	customerstate.State
}

type customerBalanceResponse struct {
	MerchantID    snowflake.ID `json:"merchant_id"`
	CustomerID    snowflake.ID `json:"customer_id"`
	PointsBalance int64        `json:"points_balance"`
}

// GetCustomerState derives status and presence from the customer's event facts,
// optionally narrowed to one branch.
func (s *Server) GetCustomerState(c *gin.Context) {
	customerID, err := pathID(c, "customer_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	merchantID, err := resolveMerchantID(c, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	branchID, err := parseOptionalSnowflakeID(c.Query("branch_id"))
	if err != nil {
		AbortWithError(c, newValidationError("branch_id", "invalid_branch_id", "invalid branch_id"))
		return
	}

	facts, err := s.eventSvc.Facts(c.Request.Context(), eventdomain.FactsQuery{
		MerchantID: merchantID,
		CustomerID: customerID,
		BranchID:   branchID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customerStateResponse{
		MerchantID: merchantID,
		CustomerID: customerID,
		BranchID:   branchID,
		State:      customerstate.Compute(customerstate.FromFacts(facts), s.clock.Now()),
	}})
}

func (s *Server) GetCustomerBalance(c *gin.Context) {
	customerID, err := pathID(c, "customer_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	merchantID, err := resolveMerchantID(c, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), merchantID, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customerBalanceResponse{
		MerchantID:    merchantID,
		CustomerID:    customerID,
		PointsBalance: balance,
	}})
}

// ReconcileCustomer compares the balance snapshot with the sum of ledger deltas.
func (s *Server) ReconcileCustomer(c *gin.Context) {
	customerID, err := pathID(c, "customer_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	merchantID, err := resolveMerchantID(c, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.Reconcile(c.Request.Context(), merchantID, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
