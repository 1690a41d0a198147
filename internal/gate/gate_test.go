package gate_test

import (
	"testing"

	"github.com/C4T-BuT-S4D/hashchat/internal/gate"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
)

func session(role models.Role, status models.UserStatus) *models.Session {
	return &models.Session{
		ID:     "u1",
		Email:  "someone@example.com",
		Role:   role,
		Status: status,
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		session     *models.Session
		maintenance bool
		want        gate.View
	}{
		"anonymous":                     {session: nil, want: gate.ViewUnauthenticated},
		"anonymous_during_maintenance":  {session: nil, maintenance: true, want: gate.ViewMaintenance},
		"active_user":                   {session: session(models.RoleUser, models.UserStatusActive), want: gate.ViewChat},
		"active_user_maintenance":       {session: session(models.RoleUser, models.UserStatusActive), maintenance: true, want: gate.ViewMaintenance},
		"banned_user":                   {session: session(models.RoleUser, models.UserStatusBanned), want: gate.ViewBanned},
		"banned_user_maintenance":       {session: session(models.RoleUser, models.UserStatusBanned), maintenance: true, want: gate.ViewMaintenance},
		"admin":                         {session: session(models.RoleAdmin, models.UserStatusActive), want: gate.ViewAdmin},
		"admin_bypasses_maintenance":    {session: session(models.RoleAdmin, models.UserStatusActive), maintenance: true, want: gate.ViewAdmin},
		"banned_admin":                  {session: session(models.RoleAdmin, models.UserStatusBanned), want: gate.ViewBanned},
		"banned_admin_maintenance":      {session: session(models.RoleAdmin, models.UserStatusBanned), maintenance: true, want: gate.ViewBanned},
		"unknown_role_treated_as_plain": {session: session(models.Role("owner"), models.UserStatusActive), want: gate.ViewChat},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := gate.Resolve(tc.session, tc.maintenance); got != tc.want {
				t.Errorf("Resolve() = %s, want %s", got, tc.want)
			}
		})
	}
}
