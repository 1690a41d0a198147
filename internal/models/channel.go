package models

const DefaultChannelID = "general"

type Channel struct {
	ID   string `json:"id" gorm:"primaryKey"`
	Name string `json:"name"`
}

func (Channel) TableName() string {
	return "channels"
}
