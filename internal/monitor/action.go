package monitor

import (
	"strings"
)

// CallbackAction identifies an inline confirmation button.
type CallbackAction string

const (
	CallbackActionToggleUser     CallbackAction = "toggle_user"
	CallbackActionMaintenanceOn  CallbackAction = "maintenance_on"
	CallbackActionMaintenanceOff CallbackAction = "maintenance_off"
	CallbackActionCancel         CallbackAction = "cancel"
)

func (a CallbackAction) String() string {
	return string(a)
}

// DataMatches reports whether raw callback data was produced by a button of this action.
func (a CallbackAction) DataMatches(data string) bool {
	prefix := "\f" + a.String()
	return data == prefix || strings.HasPrefix(data, prefix+"|")
}

// Payload returns the button payload carried after the action name.
func (a CallbackAction) Payload(data string) string {
	_, payload, _ := strings.Cut(strings.TrimPrefix(data, "\f"+a.String()), "|")
	return payload
}
