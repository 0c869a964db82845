package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeStaff  ActorType = "staff"
)

// AuditLog is an append-only record of a state-changing loyalty action.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	MerchantID *snowflake.ID     `json:"merchant_id,omitempty" gorm:"index:idx_audit_logs_merchant_created,priority:1"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action" gorm:"type:text;not null"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"index"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index:idx_audit_logs_merchant_created,priority:2"`
}

func (AuditLog) TableName() string { return "audit_logs" }
