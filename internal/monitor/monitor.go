// Package monitor runs the operator side of moderation over Telegram: the
// configured chat can inspect the panel and ban, unban or toggle maintenance
// through inline confirmations.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/C4T-BuT-S4D/hashchat/internal/config"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/moderation"
	"gopkg.in/telebot.v4"
)

const defaultLogLimit = 10

var errUsage = errors.New("bad arguments")

type Monitor struct {
	config *config.Config
	panel  *moderation.Panel
}

func New(cfg *config.Config, panel *moderation.Panel) *Monitor {
	return &Monitor{
		config: cfg,
		panel:  panel,
	}
}

func (m *Monitor) authorized(uc *UpdateContext) bool {
	if uc.Chat() == nil || uc.Chat().ID != m.config.TelegramChatID {
		uc.L().Debugf("ignoring update from foreign chat")
		return false
	}
	return true
}

func (m *Monitor) HandleCommand(c telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.BotHandleTimeout)
	defer cancel()

	uc := NewUpdateContext(ctx, c)

	if c.Message() == nil {
		uc.L().Debugf("ignoring update without message")
		return nil
	}
	if !m.authorized(uc) {
		return nil
	}

	command, args := parseCommand(c.Text())

	var err error
	switch command {
	case "/stats":
		err = m.handleStats(uc)
	case "/users":
		err = m.handleUsers(uc)
	case "/toggle":
		err = m.handleToggle(uc, args)
	case "/maintenance":
		err = m.handleMaintenance(uc, args)
	case "/logs":
		err = m.handleLogs(uc, args)
	default:
		uc.L().Debugf("ignoring message %q", c.Text())
		return nil
	}

	if err != nil {
		uc.L().Errorf("failed to handle %s: %v", command, err)
		if sendErr := c.Send(fmt.Sprintf("Failed: %v", err)); sendErr != nil {
			uc.L().Warnf("failed to report error: %v", sendErr)
		}
	}
	return nil
}

// parseCommand splits "/cmd@bot a b" into "/cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	command, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(command), fields[1:]
}

func (m *Monitor) handleStats(uc *UpdateContext) error {
	if _, err := m.panel.LoadUsers(uc); err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	if err := m.panel.RefreshMaintenance(uc); err != nil {
		return fmt.Errorf("loading maintenance mode: %w", err)
	}
	return uc.TC().Send(formatStats(m.panel.Dashboard()))
}

func (m *Monitor) handleUsers(uc *UpdateContext) error {
	users, err := m.panel.LoadUsers(uc)
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	return uc.TC().Send(formatUsers(users))
}

func (m *Monitor) handleToggle(uc *UpdateContext, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage /toggle <email>", errUsage)
	}

	users, err := m.panel.LoadUsers(uc)
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	user, ok := findByEmail(users, args[0])
	if !ok {
		return fmt.Errorf("%w: %s", moderation.ErrUnknownUser, args[0])
	}

	verb := "Ban"
	if user.Status == models.UserStatusBanned {
		verb = "Unban"
	}

	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data(verb, CallbackActionToggleUser.String(), user.ID),
		markup.Data("Cancel", CallbackActionCancel.String()),
	))
	return uc.TC().Send(fmt.Sprintf("%s %s (%s)?", verb, user.Email, user.Status), markup)
}

func (m *Monitor) handleMaintenance(uc *UpdateContext, args []string) error {
	if len(args) == 0 {
		if err := m.panel.RefreshMaintenance(uc); err != nil {
			return fmt.Errorf("loading maintenance mode: %w", err)
		}
		return uc.TC().Send(fmt.Sprintf("Maintenance mode is %s", onOff(m.panel.Maintenance())))
	}

	on, err := parseSwitch(args[0])
	if err != nil {
		return err
	}

	action := CallbackActionMaintenanceOff
	if on {
		action = CallbackActionMaintenanceOn
	}

	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data("Confirm", action.String()),
		markup.Data("Cancel", CallbackActionCancel.String()),
	))
	return uc.TC().Send(fmt.Sprintf("Turn maintenance mode %s?", onOff(on)), markup)
}

func (m *Monitor) handleLogs(uc *UpdateContext, args []string) error {
	limit := defaultLogLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: usage /logs [count]", errUsage)
		}
		limit = n
	}

	entries, err := m.panel.Logs(uc, uc.Operator(), limit)
	if err != nil {
		return fmt.Errorf("loading audit log: %w", err)
	}
	return uc.TC().Send(formatLogs(entries))
}

// HandleCallback applies a confirmed action and replaces the prompt with the outcome.
func (m *Monitor) HandleCallback(c telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.BotHandleTimeout)
	defer cancel()

	uc := NewUpdateContext(ctx, c)

	cb := c.Callback()
	if cb == nil {
		return nil
	}
	if !m.authorized(uc) {
		return c.Respond(&telebot.CallbackResponse{Text: "Not allowed"})
	}

	text, err := m.applyCallback(uc, cb.Data)
	if err != nil {
		uc.L().Errorf("failed to apply callback %q: %v", cb.Data, err)
		text = fmt.Sprintf("Failed: %v", err)
	}
	if text == "" {
		uc.L().Debugf("ignoring callback %q", cb.Data)
		return c.Respond()
	}

	if err := c.Edit(text); err != nil {
		uc.L().Warnf("failed to edit confirmation: %v", err)
	}
	return c.Respond(&telebot.CallbackResponse{Text: text})
}

func (m *Monitor) applyCallback(uc *UpdateContext, data string) (string, error) {
	switch {
	case CallbackActionToggleUser.DataMatches(data):
		user, err := m.panel.ToggleUserStatus(uc, uc.Operator(), CallbackActionToggleUser.Payload(data))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is now %s", user.Email, user.Status), nil

	case CallbackActionMaintenanceOn.DataMatches(data):
		if err := m.panel.SetMaintenanceMode(uc, uc.Operator(), true); err != nil {
			return "", err
		}
		return "Maintenance mode is on", nil

	case CallbackActionMaintenanceOff.DataMatches(data):
		if err := m.panel.SetMaintenanceMode(uc, uc.Operator(), false); err != nil {
			return "", err
		}
		return "Maintenance mode is off", nil

	case CallbackActionCancel.DataMatches(data):
		return "Cancelled", nil
	}
	return "", nil
}

func findByEmail(users []models.User, email string) (models.User, bool) {
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return models.User{}, false
}

func parseSwitch(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "enable", "true":
		return true, nil
	case "off", "disable", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: usage /maintenance [on|off]", errUsage)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func formatStats(s moderation.Stats) string {
	return fmt.Sprintf(
		"Users: %d\nActive: %d\nBanned: %d\nMaintenance: %s",
		s.TotalUsers,
		s.ActiveUsers,
		s.BannedUsers,
		onOff(s.Maintenance),
	)
}

func formatUsers(users []models.User) string {
	if len(users) == 0 {
		return "No users"
	}
	var b strings.Builder
	for i, u := range users {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%s): %s", u.Email, u.Username, u.Status)
		if u.Role == models.RoleAdmin {
			b.WriteString(", admin")
		}
	}
	return b.String()
}

func formatLogs(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "Audit log is empty"
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s %s by %s", e.CreatedAt.Format("2006-01-02 15:04"), e.Action, e.Target, e.Actor)
	}
	return b.String()
}
