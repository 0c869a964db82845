package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/loop/internal/ledger/domain"
)

type adjustPointsRequest struct {
	MerchantID  *snowflake.ID `json:"merchant_id"`
	CustomerID  snowflake.ID  `json:"customer_id"`
	BranchID    *snowflake.ID `json:"branch_id"`
	StaffID     *snowflake.ID `json:"staff_id"`
	DeltaPoints int64         `json:"delta_points"`
	Reason      string        `json:"reason"`
}

// AdjustPoints records a manual correction as a points_adjust event plus its offsetting ledger entry.
func (s *Server) AdjustPoints(c *gin.Context) {
	var req adjustPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID, err := resolveMerchantID(c, req.MerchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.AdjustRequest{
		MerchantID:  merchantID,
		CustomerID:  req.CustomerID,
		BranchID:    req.BranchID,
		StaffID:     resolveStaffID(c, req.StaffID),
		DeltaPoints: req.DeltaPoints,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
