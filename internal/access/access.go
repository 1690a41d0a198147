// Package access maps session roles to the capabilities they grant.
package access

import "github.com/C4T-BuT-S4D/hashchat/internal/models"

type Capability string

const (
	CapChat              Capability = "chat"
	CapBypassMaintenance Capability = "bypass_maintenance"
	CapModerateUsers     Capability = "moderate_users"
	CapManageSettings    Capability = "manage_settings"
	CapViewAuditLog      Capability = "view_audit_log"
)

type Set map[Capability]bool

var roleCapabilities = map[models.Role]Set{
	models.RoleAdmin: {
		CapBypassMaintenance: true,
		CapModerateUsers:     true,
		CapManageSettings:    true,
		CapViewAuditLog:      true,
	},
	models.RoleUser: {
		CapChat: true,
	},
}

// For returns the capability set of a role. Unknown roles get an empty set.
func For(role models.Role) Set {
	caps, ok := roleCapabilities[role]
	if !ok {
		return Set{}
	}
	return caps
}

func (s Set) Has(c Capability) bool {
	return s[c]
}

func Allows(role models.Role, c Capability) bool {
	return For(role).Has(c)
}

// IsAdmin reports whether the session is routed to the admin panel.
func IsAdmin(s *models.Session) bool {
	return s != nil && Allows(s.Role, CapBypassMaintenance)
}
