package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/moderation"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/telebot.v4"
)

func TestCallbackAction(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		action      CallbackAction
		data        string
		wantMatch   bool
		wantPayload string
	}{
		"bare":           {action: CallbackActionCancel, data: "\fcancel", wantMatch: true},
		"with payload":   {action: CallbackActionToggleUser, data: "\ftoggle_user|abc-123", wantMatch: true, wantPayload: "abc-123"},
		"other action":   {action: CallbackActionMaintenanceOn, data: "\fmaintenance_off", wantMatch: false},
		"prefix only":    {action: CallbackActionMaintenanceOn, data: "\fmaintenance_onx", wantMatch: false},
		"missing marker": {action: CallbackActionCancel, data: "cancel", wantMatch: false},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := tc.action.DataMatches(tc.data); got != tc.wantMatch {
				t.Errorf("DataMatches(%q) = %v, want %v", tc.data, got, tc.wantMatch)
			}
			if !tc.wantMatch {
				return
			}
			if got := tc.action.Payload(tc.data); got != tc.wantPayload {
				t.Errorf("Payload(%q) = %q, want %q", tc.data, got, tc.wantPayload)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		text        string
		wantCommand string
		wantArgs    []string
	}{
		"plain":     {text: "/stats", wantCommand: "/stats", wantArgs: []string{}},
		"mention":   {text: "/Toggle@hashchat_bot alice@chat.local", wantCommand: "/toggle", wantArgs: []string{"alice@chat.local"}},
		"spaces":    {text: "  /logs   5 ", wantCommand: "/logs", wantArgs: []string{"5"}},
		"empty":     {text: "", wantCommand: ""},
		"plaintext": {text: "hello there", wantCommand: "hello", wantArgs: []string{"there"}},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			command, args := parseCommand(tc.text)
			if command != tc.wantCommand {
				t.Errorf("command = %q, want %q", command, tc.wantCommand)
			}
			if diff := cmp.Diff(tc.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSwitch(t *testing.T) {
	t.Parallel()

	for arg, want := range map[string]bool{"on": true, "ON": true, "enable": true, "off": false, "false": false} {
		got, err := parseSwitch(arg)
		if err != nil {
			t.Errorf("parseSwitch(%q): %v", arg, err)
			continue
		}
		if got != want {
			t.Errorf("parseSwitch(%q) = %v, want %v", arg, got, want)
		}
	}

	if _, err := parseSwitch("maybe"); !errors.Is(err, errUsage) {
		t.Errorf("parseSwitch(maybe) error = %v, want %v", err, errUsage)
	}
}

func TestOperatorSession(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		sender *telebot.User
		want   models.Session
	}{
		"username": {
			sender: &telebot.User{ID: 42, Username: "mod"},
			want: models.Session{
				ID:       "telegram:42",
				Email:    "telegram:@mod",
				Username: "mod",
				Status:   models.UserStatusActive,
				Role:     models.RoleAdmin,
			},
		},
		"no username": {
			sender: &telebot.User{ID: 7},
			want: models.Session{
				ID:       "telegram:7",
				Email:    "telegram:@7",
				Username: "7",
				Status:   models.UserStatusActive,
				Role:     models.RoleAdmin,
			},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, operatorSession(tc.sender)); diff != "" {
				t.Errorf("operatorSession mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatting(t *testing.T) {
	t.Parallel()

	stats := formatStats(moderation.Stats{TotalUsers: 3, ActiveUsers: 2, BannedUsers: 1, Maintenance: true})
	if want := "Users: 3\nActive: 2\nBanned: 1\nMaintenance: on"; stats != want {
		t.Errorf("formatStats = %q, want %q", stats, want)
	}

	users := formatUsers([]models.User{
		{Email: "root@chat.local", Username: "root", Status: models.UserStatusActive, Role: models.RoleAdmin},
		{Email: "bob@chat.local", Username: "bob", Status: models.UserStatusBanned, Role: models.RoleUser},
	})
	if want := "root@chat.local (root): Active, admin\nbob@chat.local (bob): Banned"; users != want {
		t.Errorf("formatUsers = %q, want %q", users, want)
	}

	logs := formatLogs([]models.AuditEntry{{
		Actor:     "telegram:@mod",
		Action:    models.AuditActionUserBanned,
		Target:    "bob@chat.local",
		CreatedAt: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}})
	if want := "2024-05-01 12:30 user_banned bob@chat.local by telegram:@mod"; logs != want {
		t.Errorf("formatLogs = %q, want %q", logs, want)
	}

	if got := formatLogs(nil); got != "Audit log is empty" {
		t.Errorf("formatLogs(nil) = %q", got)
	}
}

func TestFindByEmail(t *testing.T) {
	t.Parallel()

	users := []models.User{{ID: "u1", Email: "Alice@chat.local"}}
	if u, ok := findByEmail(users, "alice@chat.local"); !ok || u.ID != "u1" {
		t.Errorf("findByEmail = %+v, %v", u, ok)
	}
	if _, ok := findByEmail(users, "bob@chat.local"); ok {
		t.Error("findByEmail found a missing user")
	}
}
