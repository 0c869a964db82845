package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redemptiondomain "github.com/smallbiznis/loop/internal/redemption/domain"
)

type redeemRewardRequest struct {
	MerchantID *snowflake.ID `json:"merchant_id"`
	CustomerID snowflake.ID  `json:"customer_id"`
	RewardID   snowflake.ID  `json:"reward_id"`
	BranchID   *snowflake.ID `json:"branch_id"`
	StaffID    *snowflake.ID `json:"staff_id"`
}

// RedeemReward grants a reward and debits its cost. Failures map to distinct
// codes: reward_not_found, reward_inactive, already_redeemed, insufficient_points.
func (s *Server) RedeemReward(c *gin.Context) {
	var req redeemRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID, err := resolveMerchantID(c, req.MerchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.redemptionSvc.Redeem(c.Request.Context(), redemptiondomain.RedeemRequest{
		MerchantID: merchantID,
		CustomerID: req.CustomerID,
		RewardID:   req.RewardID,
		BranchID:   req.BranchID,
		StaffID:    resolveStaffID(c, req.StaffID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
