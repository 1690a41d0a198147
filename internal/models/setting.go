package models

import "time"

const SettingMaintenanceMode = "maintenance_mode"

type Setting struct {
	Key   string `json:"key" gorm:"primaryKey"`
	Value any    `json:"value" gorm:"type:jsonb;serializer:json"`
}

func (Setting) TableName() string {
	return "settings"
}

// Bool reports the value as a flag. Non-boolean values read as false.
func (s *Setting) Bool() bool {
	v, ok := s.Value.(bool)
	return ok && v
}

type AuditAction string

const (
	AuditActionUserBanned         AuditAction = "user_banned"
	AuditActionUserUnbanned       AuditAction = "user_unbanned"
	AuditActionMaintenanceEnabled AuditAction = "maintenance_enabled"
	AuditActionMaintenanceOff     AuditAction = "maintenance_disabled"
)

type AuditEntry struct {
	ID     int64       `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	Actor  string      `json:"actor"`
	Action AuditAction `json:"action"`
	Target string      `json:"target"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

func (AuditEntry) TableName() string {
	return "audit_log"
}
