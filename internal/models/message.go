package models

import (
	"fmt"
	"time"
)

type Message struct {
	ID        int64  `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	Text      string `json:"text"`
	Sender    string `json:"sender" gorm:"index"`
	ChannelID string `json:"channel_id" gorm:"index"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) String() string {
	return fmt.Sprintf(
		"Message(%d, %s, %s, %q)",
		m.ID,
		m.ChannelID,
		m.Sender,
		m.Text,
	)
}
