package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/loop/internal/audit/domain"
	"github.com/smallbiznis/loop/internal/merchantcontext"
	obscontext "github.com/smallbiznis/loop/internal/observability/context"
	"github.com/smallbiznis/loop/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderMerchant = "X-Merchant-Id"
	HeaderStaff    = "X-Staff-Id"
)

// MerchantContext resolves the acting merchant from the X-Merchant-Id header
// or the merchant_id query parameter and the acting staff member from X-Staff-Id.
// A malformed id is rejected; an absent one is left for the handler to demand.
func MerchantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		raw := strings.TrimSpace(c.GetHeader(HeaderMerchant))
		if raw == "" {
			raw = strings.TrimSpace(c.Query("merchant_id"))
		}
		merchantID, err := parseOptionalSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("merchant_id", "invalid_merchant", "invalid merchant_id"))
			return
		}
		if merchantID != nil {
			ctx = merchantcontext.WithMerchantID(ctx, *merchantID)
		}

		staffID, err := parseOptionalSnowflakeID(c.GetHeader(HeaderStaff))
		if err != nil {
			AbortWithError(c, newValidationError("staff_id", "invalid_staff_id", "invalid staff id"))
			return
		}
		if staffID != nil {
			ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeStaff), staffID.String())
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// resolveMerchantID prefers the id carried in the request body and falls back
// to the merchant resolved by MerchantContext. The two must agree when both are set.
func resolveMerchantID(c *gin.Context, fromBody *snowflake.ID) (snowflake.ID, error) {
	fromCtx, ok := merchantcontext.MerchantIDFromContext(c.Request.Context())
	if fromBody != nil && *fromBody != 0 {
		if ok && fromCtx != *fromBody {
			logger.FromContext(c.Request.Context()).Warn("merchant id mismatch",
				zap.String("header_merchant_id", fromCtx.String()),
				zap.String("body_merchant_id", fromBody.String()),
			)
			return 0, newValidationError("merchant_id", "merchant_mismatch", "merchant_id does not match request merchant")
		}
		return *fromBody, nil
	}
	if ok {
		return fromCtx, nil
	}
	return 0, newValidationError("merchant_id", "invalid_merchant", "merchant_id is required")
}

// resolveStaffID prefers the body value and falls back to the X-Staff-Id actor.
func resolveStaffID(c *gin.Context, fromBody *snowflake.ID) *snowflake.ID {
	if fromBody != nil && *fromBody != 0 {
		return fromBody
	}
	actorType, actorID := obscontext.ActorFromContext(c.Request.Context())
	if actorType != string(auditdomain.ActorTypeStaff) {
		return nil
	}
	id, err := parseOptionalSnowflakeID(actorID)
	if err != nil {
		return nil
	}
	return id
}

func pathID(c *gin.Context, field string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return *id, nil
}
