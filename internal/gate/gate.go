// Package gate decides which view a client is allowed to see.
package gate

import (
	"github.com/C4T-BuT-S4D/hashchat/internal/access"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
)

type View string

const (
	ViewMaintenance     View = "maintenance"
	ViewBanned          View = "banned"
	ViewUnauthenticated View = "unauthenticated"
	ViewAdmin           View = "admin"
	ViewChat            View = "chat"
)

func (v View) String() string {
	return string(v)
}

// Resolve returns exactly one view for the client state.
// Order: maintenance (unless admin), banned, no session, admin, chat.
// The ban check ignores the role, so a banned admin is still blocked.
func Resolve(session *models.Session, maintenance bool) View {
	isAdmin := access.IsAdmin(session)

	switch {
	case maintenance && !isAdmin:
		return ViewMaintenance
	case session != nil && session.IsBanned():
		return ViewBanned
	case session == nil:
		return ViewUnauthenticated
	case isAdmin:
		return ViewAdmin
	default:
		return ViewChat
	}
}
