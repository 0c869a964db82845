package merchantcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// MerchantContextKey is the request context key for the acting merchant ID.
type MerchantContextKey struct{}

// WithMerchantID stores the merchant ID in the context.
func WithMerchantID(ctx context.Context, merchantID snowflake.ID) context.Context {
	return context.WithValue(ctx, MerchantContextKey{}, merchantID)
}

// MerchantIDFromContext returns the merchant ID from context, if set.
func MerchantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	switch typed := ctx.Value(MerchantContextKey{}).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil && parsed != 0 {
			return parsed, true
		}
	}
	return 0, false
}
