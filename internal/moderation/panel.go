// Package moderation implements the admin panel: account bans, the global
// maintenance flag, dashboard counters and the audit log.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/access"
	"github.com/C4T-BuT-S4D/hashchat/internal/logging"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/notify"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	tableUsers    = "users"
	tableSettings = "settings"
	tableAudit    = "audit_log"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnknownUser  = errors.New("user not found")
	ErrUpdateFailed = errors.New("failed to update")
)

type Stats struct {
	TotalUsers  int  `json:"total_users"`
	ActiveUsers int  `json:"active_users"`
	BannedUsers int  `json:"banned_users"`
	Maintenance bool `json:"maintenance"`
}

// Panel caches the user list and the maintenance flag for the whole process.
// Writes go to the store first; the cache follows only confirmed writes.
type Panel struct {
	store    store.Store
	notifier notify.Notifier
	log      *logrus.Entry
	now      func() time.Time

	mu          sync.RWMutex
	users       []models.User
	maintenance bool
}

func New(st store.Store, notifier notify.Notifier) *Panel {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Panel{
		store:    st,
		notifier: notifier,
		log:      logging.Component("moderation"),
		now:      time.Now,
	}
}

func (p *Panel) LoadUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := p.store.Select(ctx, tableUsers, store.All(), &users); err != nil {
		return nil, fmt.Errorf("getting users: %w", err)
	}

	p.mu.Lock()
	p.users = users
	p.mu.Unlock()

	return slices.Clone(users), nil
}

func (p *Panel) Users() []models.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.users)
}

// ToggleUserStatus flips a user between Active and Banned. Ids missing from
// the cache are looked up once more before the request is refused.
func (p *Panel) ToggleUserStatus(ctx context.Context, actor models.Session, userID string) (models.User, error) {
	if !access.Allows(actor.Role, access.CapModerateUsers) {
		return models.User{}, ErrForbidden
	}

	user, ok := p.cachedUser(userID)
	if !ok {
		if _, err := p.LoadUsers(ctx); err != nil {
			return models.User{}, err
		}
		if user, ok = p.cachedUser(userID); !ok {
			return models.User{}, ErrUnknownUser
		}
	}

	newStatus := user.Status.Toggled()
	if err := p.store.Update(
		ctx,
		tableUsers,
		store.Eq("id", userID),
		map[string]any{"status": newStatus},
	); err != nil {
		p.log.Errorf("updating status of %s: %v", userID, err)
		return models.User{}, fmt.Errorf("%w user status: %w", ErrUpdateFailed, err)
	}

	p.mu.Lock()
	for i := range p.users {
		if p.users[i].ID == userID {
			p.users[i].Status = newStatus
			user = p.users[i]
		}
	}
	p.mu.Unlock()

	action := models.AuditActionUserBanned
	if newStatus == models.UserStatusActive {
		action = models.AuditActionUserUnbanned
	}
	p.record(ctx, actor, action, user.Email)

	return user, nil
}

func (p *Panel) cachedUser(userID string) (models.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, u := range p.users {
		if u.ID == userID {
			return u, true
		}
	}
	return models.User{}, false
}

func (p *Panel) Maintenance() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maintenance
}

func (p *Panel) RefreshMaintenance(ctx context.Context) error {
	var settings []models.Setting
	if err := p.store.Select(ctx, tableSettings, store.Eq("key", models.SettingMaintenanceMode), &settings); err != nil {
		return fmt.Errorf("getting maintenance setting: %w", err)
	}

	on := false
	if len(settings) > 0 {
		on = settings[0].Bool()
	}

	p.mu.Lock()
	p.maintenance = on
	p.mu.Unlock()
	return nil
}

// SetMaintenanceMode writes the flag and applies it locally once the store confirms.
func (p *Panel) SetMaintenanceMode(ctx context.Context, actor models.Session, on bool) error {
	if !access.Allows(actor.Role, access.CapManageSettings) {
		return ErrForbidden
	}

	if err := p.store.Update(
		ctx,
		tableSettings,
		store.Eq("key", models.SettingMaintenanceMode),
		map[string]any{"value": on},
	); err != nil {
		p.log.Errorf("updating maintenance mode: %v", err)
		return fmt.Errorf("%w maintenance mode: %w", ErrUpdateFailed, err)
	}

	p.mu.Lock()
	p.maintenance = on
	p.mu.Unlock()

	action := models.AuditActionMaintenanceOff
	if on {
		action = models.AuditActionMaintenanceEnabled
	}
	p.record(ctx, actor, action, models.SettingMaintenanceMode)
	return nil
}

func (p *Panel) Dashboard() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		TotalUsers:  len(p.users),
		Maintenance: p.maintenance,
	}
	for _, u := range p.users {
		switch u.Status {
		case models.UserStatusActive:
			stats.ActiveUsers++
		case models.UserStatusBanned:
			stats.BannedUsers++
		}
	}
	return stats
}

// Logs returns up to limit audit entries, newest first.
func (p *Panel) Logs(ctx context.Context, actor models.Session, limit int) ([]models.AuditEntry, error) {
	if !access.Allows(actor.Role, access.CapViewAuditLog) {
		return nil, ErrForbidden
	}

	var entries []models.AuditEntry
	if err := p.store.Select(ctx, tableAudit, store.All().OrderBy("id"), &entries); err != nil {
		return nil, fmt.Errorf("getting audit log: %w", err)
	}

	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// record appends an audit entry and notifies operators. Failures are logged only.
func (p *Panel) record(ctx context.Context, actor models.Session, action models.AuditAction, target string) {
	entry := &models.AuditEntry{
		Actor:     actor.Email,
		Action:    action,
		Target:    target,
		CreatedAt: p.now().UTC(),
	}
	if err := p.store.Insert(ctx, tableAudit, entry); err != nil {
		p.log.Errorf("recording audit entry %s: %v", action, err)
	}

	p.log.Infof("%s by %s on %s", action, actor.Email, target)
	if err := p.notifier.Notify(ctx, fmt.Sprintf("%s: %s by %s", action, target, actor.Email)); err != nil {
		p.log.Warnf("notifying %s: %v", action, err)
	}
}

// RunRefresher reloads the maintenance flag and the user list until ctx is done.
func (p *Panel) RunRefresher(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := p.RefreshMaintenance(ctx); err != nil {
				p.log.Errorf("failed to refresh maintenance mode: %v", err)
			}
			if _, err := p.LoadUsers(ctx); err != nil {
				p.log.Errorf("failed to refresh users: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
