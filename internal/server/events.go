package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	earndomain "github.com/smallbiznis/loop/internal/earn/domain"
	eventdomain "github.com/smallbiznis/loop/internal/event/domain"
	"github.com/smallbiznis/loop/internal/observability/logger"
	"go.uber.org/zap"
)

type appendEventRequest struct {
	MerchantID *snowflake.ID   `json:"merchant_id"`
	CustomerID snowflake.ID    `json:"customer_id"`
	BranchID   *snowflake.ID   `json:"branch_id"`
	StaffID    *snowflake.ID   `json:"staff_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt *time.Time      `json:"occurred_at"`
}

type appendEventResponse struct {
	Event eventdomain.Event      `json:"event"`
	Award earndomain.AwardResult `json:"award"`
}

// AppendEvent records a customer event and applies the earn rules to it.
func (s *Server) AppendEvent(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID, err := resolveMerchantID(c, req.MerchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	eventType := eventdomain.EventType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !eventType.Valid() {
		AbortWithError(c, eventdomain.ErrInvalidType)
		return
	}
	c.Set("event_type", string(eventType))

	payload, err := eventdomain.DecodePayload(eventType, req.Payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	event, err := s.eventSvc.Append(ctx, eventdomain.AppendRequest{
		MerchantID: merchantID,
		CustomerID: req.CustomerID,
		BranchID:   req.BranchID,
		StaffID:    resolveStaffID(c, req.StaffID),
		Payload:    payload,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	award, err := s.earnSvc.AwardPointsFromEvent(ctx, event)
	if err != nil {
		// The event is stored; POST /api/events/:id/award retries the award safely.
		logger.FromContext(ctx).Error("award points failed after event append",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": appendEventResponse{Event: event, Award: award}})
}

func (s *Server) GetEventByID(c *gin.Context) {
	id, err := pathID(c, "event_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	merchantID, err := resolveMerchantID(c, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.eventSvc.Get(c.Request.Context(), merchantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

// AwardEvent re-applies the earn rules to a stored event. A second award for
// the same event reports already_processed and posts nothing.
func (s *Server) AwardEvent(c *gin.Context) {
	id, err := pathID(c, "event_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	merchantID, err := resolveMerchantID(c, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	event, err := s.eventSvc.Get(ctx, merchantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("event_type", string(event.Type))

	award, err := s.earnSvc.AwardPointsFromEvent(ctx, event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": appendEventResponse{Event: event, Award: award}})
}
