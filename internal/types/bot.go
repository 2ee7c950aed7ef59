package types

import (
	"time"

	"gorm.io/datatypes"
)

type BotStatus string

const (
	BotStatusDeploying     BotStatus = "DEPLOYING"
	BotStatusJoiningCall   BotStatus = "JOINING_CALL"
	BotStatusInWaitingRoom BotStatus = "IN_WAITING_ROOM"
	BotStatusInCall        BotStatus = "IN_CALL"
	BotStatusLeaving       BotStatus = "LEAVING"
	BotStatusDone          BotStatus = "DONE"
	BotStatusFatal         BotStatus = "FATAL"
)

// ActiveBotStatuses are the states in which a bot process is running and
// expected to heartbeat. DEPLOYING is excluded: there is no process yet.
var ActiveBotStatuses = []BotStatus{
	BotStatusJoiningCall,
	BotStatusInWaitingRoom,
	BotStatusInCall,
	BotStatusLeaving,
}

func (s BotStatus) Terminal() bool {
	return s == BotStatusDone || s == BotStatusFatal
}

type DeploymentPlatform string

const (
	PlatformCoolify DeploymentPlatform = "coolify"
	PlatformK8s     DeploymentPlatform = "k8s"
	PlatformAWS     DeploymentPlatform = "aws"
)

type Bot struct {
	ID                 int                 `gorm:"primaryKey;autoIncrement" json:"id"`
	MeetingURL         string              `gorm:"column:meeting_url;not null" json:"meeting_url"`
	Status             BotStatus           `gorm:"column:status;not null;index" json:"status"`
	DeploymentPlatform *DeploymentPlatform `gorm:"column:deployment_platform;index" json:"deployment_platform,omitempty"`
	PlatformIdentifier *string             `gorm:"column:platform_identifier" json:"platform_identifier,omitempty"`
	LastHeartbeat      *time.Time          `gorm:"column:last_heartbeat;index" json:"last_heartbeat,omitempty"`
	ErrorMessage       *string             `gorm:"column:error_message" json:"error_message,omitempty"`
	Metadata           datatypes.JSON      `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	EndTime            *time.Time          `gorm:"column:end_time" json:"end_time,omitempty"`
	CreatedAt          time.Time           `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"not null" json:"updated_at"`
}

func (Bot) TableName() string { return "bot" }

// HeartbeatFresh reports whether the bot has heartbeated within the given
// window. A missing heartbeat is never fresh.
func (b *Bot) HeartbeatFresh(window time.Duration, now time.Time) bool {
	if b.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*b.LastHeartbeat) < window
}
