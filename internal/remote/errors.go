package remote

import (
	"fmt"
	"net/http"

	"github.com/C4T-BuT-S4D/hashchat/internal/store"
)

const pgUniqueViolation = "23505"

// Error is a non-2xx answer of the table API.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store responded %d", e.Status)
	}
	return fmt.Sprintf("store responded %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Status == http.StatusConflict || e.Code == pgUniqueViolation {
		return store.ErrConflict
	}
	return nil
}
