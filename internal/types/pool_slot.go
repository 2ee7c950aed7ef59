package types

import (
	"time"
)

type PoolSlotStatus string

const (
	PoolSlotStatusIdle      PoolSlotStatus = "IDLE"
	PoolSlotStatusDeploying PoolSlotStatus = "DEPLOYING"
	PoolSlotStatusHealthy   PoolSlotStatus = "HEALTHY"
	PoolSlotStatusError     PoolSlotStatus = "ERROR"
)

// PoolSlot is one reusable Coolify container application. Bots borrow a
// slot for the duration of a meeting and the slot is reset to IDLE after.
type PoolSlot struct {
	ID               int            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	ApplicationUUID  string         `gorm:"column:application_uuid;not null;uniqueIndex" json:"application_uuid"`
	Status           PoolSlotStatus `gorm:"column:status;not null;index" json:"status"`
	AssignedBotID    *int           `gorm:"column:assigned_bot_id;index" json:"assigned_bot_id,omitempty"`
	AssignedBot      *Bot           `gorm:"constraint:OnDelete:SET NULL;foreignKey:AssignedBotID;references:ID" json:"assigned_bot,omitempty"`
	ErrorMessage     *string        `gorm:"column:error_message" json:"error_message,omitempty"`
	RecoveryAttempts int            `gorm:"column:recovery_attempts;not null;default:0" json:"recovery_attempts"`
	LastUsedAt       time.Time      `gorm:"column:last_used_at;not null;index" json:"last_used_at"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (PoolSlot) TableName() string { return "pool_slot" }
