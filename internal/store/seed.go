package store

import (
	"context"
	"fmt"

	"github.com/C4T-BuT-S4D/hashchat/internal/models"
)

// NewSeededMemory returns a Memory store with the chat tables defined, the
// default channel created and maintenance mode off.
func NewSeededMemory(ctx context.Context, defaultChannel string) (*Memory, error) {
	m := NewMemory()
	m.Define(models.User{}.TableName(), Unique("id"), Unique("email"))
	m.Define(models.Channel{}.TableName(), Unique("id"))
	m.Define(models.Message{}.TableName(), AutoIncrement())
	m.Define(models.Setting{}.TableName(), Unique("key"))
	m.Define(models.AuditEntry{}.TableName(), AutoIncrement())

	if err := m.Insert(ctx, models.Channel{}.TableName(), &models.Channel{
		ID:   defaultChannel,
		Name: defaultChannel,
	}); err != nil {
		return nil, fmt.Errorf("creating default channel: %w", err)
	}
	if err := m.Insert(ctx, models.Setting{}.TableName(), &models.Setting{
		Key:   models.SettingMaintenanceMode,
		Value: false,
	}); err != nil {
		return nil, fmt.Errorf("creating maintenance setting: %w", err)
	}
	return m, nil
}
