package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	rewarddomain "github.com/smallbiznis/loop/internal/reward/domain"
)

type createRewardRequest struct {
	MerchantID  *snowflake.ID  `json:"merchant_id"`
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	PointsCost  int64          `json:"points_cost"`
	IsActive    *bool          `json:"is_active"`
	Meta        map[string]any `json:"meta"`
}

type updateRewardRequest struct {
	MerchantID  *snowflake.ID `json:"merchant_id"`
	Title       *string       `json:"title"`
	Description *string       `json:"description"`
	PointsCost  *int64        `json:"points_cost"`
	IsActive    *bool         `json:"is_active"`
}

func (s *Server) CreateReward(c *gin.Context) {
	var req createRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID, err := resolveMerchantID(c, req.MerchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.rewardSvc.Create(c.Request.Context(), rewarddomain.CreateRequest{
		MerchantID:  merchantID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		PointsCost:  req.PointsCost,
		IsActive:    req.IsActive,
		Meta:        req.Meta,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRewardByID(c *gin.Context) {
	id, err := pathID(c, "reward_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	merchantID, err := resolveMerchantID(c, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.rewardSvc.GetByID(c.Request.Context(), merchantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateReward(c *gin.Context) {
	id, err := pathID(c, "reward_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID, err := resolveMerchantID(c, req.MerchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.rewardSvc.Update(c.Request.Context(), rewarddomain.UpdateRequest{
		MerchantID:  merchantID,
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		PointsCost:  req.PointsCost,
		IsActive:    req.IsActive,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
