package chat

import "github.com/C4T-BuT-S4D/hashchat/internal/models"

type UpdateKind string

const (
	// UpdateReset clears the client's list on a channel switch.
	UpdateReset UpdateKind = "reset"
	// UpdateSnapshot carries the full list after a backfill.
	UpdateSnapshot     UpdateKind = "snapshot"
	UpdateMessage      UpdateKind = "message"
	UpdateDisconnected UpdateKind = "disconnected"
	UpdateHistoryError UpdateKind = "history_error"
)

type Update struct {
	Kind      UpdateKind       `json:"kind"`
	ChannelID string           `json:"channel_id"`
	Messages  []models.Message `json:"messages,omitempty"`
	Message   *models.Message  `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Sink receives updates on the sync loop goroutine. It must not block for long.
type Sink func(Update)
