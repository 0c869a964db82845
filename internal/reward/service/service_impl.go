package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/loop/internal/audit/domain"
	"github.com/smallbiznis/loop/internal/clock"
	"github.com/smallbiznis/loop/internal/reward/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock `optional:"true"`
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("reward.service"),
		genID:    p.GenID,
		clock:    c,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Reward, error) {
	if req.MerchantID == 0 {
		return domain.Reward{}, domain.ErrInvalidMerchant
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Reward{}, domain.ErrInvalidTitle
	}
	if req.PointsCost < 0 {
		return domain.Reward{}, domain.ErrInvalidPointsCost
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	meta := datatypes.JSONMap{}
	for key, value := range req.Meta {
		if key == "" {
			continue
		}
		meta[key] = value
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	reward := domain.Reward{
		ID:          s.genID.Generate(),
		MerchantID:  req.MerchantID,
		Title:       title,
		Slug:        slug.Make(title),
		Description: normalizeText(req.Description),
		PointsCost:  req.PointsCost,
		IsActive:    isActive,
		Meta:        meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, &reward); err != nil {
		return domain.Reward{}, err
	}

	s.audit(ctx, reward, auditdomain.ActionRewardCreated, map[string]any{
		"title":       reward.Title,
		"points_cost": reward.PointsCost,
		"is_active":   reward.IsActive,
	})
	return reward, nil
}

func (s *Service) GetByID(ctx context.Context, merchantID, id snowflake.ID) (domain.Reward, error) {
	if merchantID == 0 {
		return domain.Reward{}, domain.ErrInvalidMerchant
	}
	if id == 0 {
		return domain.Reward{}, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, merchantID, id)
	if err != nil {
		return domain.Reward{}, err
	}
	if item == nil {
		return domain.Reward{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (domain.Reward, error) {
	if req.MerchantID == 0 {
		return domain.Reward{}, domain.ErrInvalidMerchant
	}
	if req.ID == 0 {
		return domain.Reward{}, domain.ErrInvalidID
	}

	var updated domain.Reward
	changes := map[string]any{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByID(ctx, tx, req.MerchantID, req.ID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}

		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return domain.ErrInvalidTitle
			}
			item.Title = title
			item.Slug = slug.Make(title)
			changes["title"] = title
		}
		if req.Description != nil {
			item.Description = normalizeText(req.Description)
			changes["description"] = item.Description
		}
		if req.PointsCost != nil {
			if *req.PointsCost < 0 {
				return domain.ErrInvalidPointsCost
			}
			item.PointsCost = *req.PointsCost
			changes["points_cost"] = item.PointsCost
		}
		if req.IsActive != nil {
			item.IsActive = *req.IsActive
			changes["is_active"] = item.IsActive
		}

		item.UpdatedAt = s.clock.Now().UTC().Truncate(time.Microsecond)
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.Reward{}, err
	}

	s.audit(ctx, updated, auditdomain.ActionRewardUpdated, changes)
	return updated, nil
}

func (s *Service) audit(ctx context.Context, reward domain.Reward, action auditdomain.Action, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		MerchantID: reward.MerchantID,
		Action:     action,
		TargetType: "reward",
		TargetID:   reward.ID,
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("failed to write reward audit log", zap.String("action", string(action)), zap.Error(err))
	}
}

func normalizeText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
