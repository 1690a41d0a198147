package models

import "fmt"

// Session is the authenticated identity a client holds between requests.
type Session struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	AvatarURL string     `json:"avatar_url"`
	Status    UserStatus `json:"status"`
	Badges    []string   `json:"badges"`
	Role      Role       `json:"role"`
}

func (s *Session) IsBanned() bool {
	return s.Status == UserStatusBanned
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(%s, %q, %s, %s)", s.ID, s.Email, s.Role, s.Status)
}
