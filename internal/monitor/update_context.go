package monitor

import (
	"context"
	"fmt"

	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"
)

type UpdateContext struct {
	context.Context
	tc  telebot.Context
	log *logrus.Entry
}

func NewUpdateContext(c context.Context, tc telebot.Context) *UpdateContext {
	fields := logrus.Fields{
		"component": "monitor",
		"update_id": tc.Update().ID,
	}
	if tc.Chat() != nil {
		fields["chat_id"] = tc.Chat().ID
		fields["chat_type"] = tc.Chat().Type
	}
	if tc.Sender() != nil {
		fields["sender_id"] = tc.Sender().ID
		fields["sender_username"] = tc.Sender().Username
	}

	return &UpdateContext{
		Context: c,
		tc:      tc,
		log:     logrus.WithFields(fields),
	}
}

func (uc *UpdateContext) L() *logrus.Entry {
	return uc.log
}

func (uc *UpdateContext) TC() telebot.Context {
	return uc.tc
}

func (uc *UpdateContext) Chat() *telebot.Chat {
	return uc.tc.Chat()
}

func (uc *UpdateContext) Sender() *telebot.User {
	return uc.tc.Sender()
}

// Operator is the identity recorded in the audit log for actions taken from Telegram.
func (uc *UpdateContext) Operator() models.Session {
	return operatorSession(uc.Sender())
}

func operatorSession(sender *telebot.User) models.Session {
	if sender == nil {
		return models.Session{ID: "telegram", Email: "telegram", Role: models.RoleAdmin, Status: models.UserStatusActive}
	}

	name := sender.Username
	if name == "" {
		name = fmt.Sprintf("%d", sender.ID)
	}
	return models.Session{
		ID:       fmt.Sprintf("telegram:%d", sender.ID),
		Email:    "telegram:@" + name,
		Username: name,
		Status:   models.UserStatusActive,
		Role:     models.RoleAdmin,
	}
}
