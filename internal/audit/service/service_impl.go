package service

import (
	"cmp"
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loop/internal/audit/domain"
	"github.com/smallbiznis/loop/internal/clock"
	"github.com/smallbiznis/loop/internal/merchantcontext"
	obscontext "github.com/smallbiznis/loop/internal/observability/context"
	"github.com/smallbiznis/loop/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: c,
		repo:  p.Repo,
	}
}

// Record appends one audit row outside any caller transaction. Request id,
// correlation id and client address come from ctx.
func (s *Service) Record(ctx context.Context, in auditdomain.Entry) error {
	action := strings.TrimSpace(string(in.Action))
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	merchantID := in.MerchantID
	if merchantID == 0 {
		merchantID, _ = merchantcontext.MerchantIDFromContext(ctx)
	}
	if merchantID == 0 {
		return auditdomain.ErrInvalidMerchant
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		MerchantID: &merchantID,
		Action:     action,
		TargetType: cmp.Or(strings.TrimSpace(in.TargetType), "unknown"),
		Metadata:   datatypes.JSONMap(s.metadata(ctx, in.Metadata)),
		CreatedAt:  s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if in.TargetID != 0 {
		entry.TargetID = ptr(in.TargetID.String())
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	entry.ActorType = cmp.Or(actorType, string(auditdomain.ActorTypeSystem))
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		entry.ActorID = &actorID
	}
	if ip, ua := obscontext.ClientFromContext(ctx); ip != "" || ua != "" {
		if ip != "" {
			entry.IPAddress = &ip
		}
		if ua != "" {
			entry.UserAgent = &ua
		}
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("merchant_id", merchantID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) metadata(ctx context.Context, in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		if k != "" {
			out[k] = v
		}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		out["request_id"] = requestID
	}
	return correlation.AnnotateMeta(ctx, out)
}

// List returns the newest entries for a merchant first.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) ([]auditdomain.AuditLog, error) {
	if req.MerchantID == 0 {
		req.MerchantID, _ = merchantcontext.MerchantIDFromContext(ctx)
	}
	if req.MerchantID == 0 {
		return nil, auditdomain.ErrInvalidMerchant
	}

	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		MerchantID: req.MerchantID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			logs = append(logs, *item)
		}
	}
	return logs, nil
}

func ptr[T any](v T) *T { return &v }
