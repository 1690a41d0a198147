package auth

import (
	"errors"
	"fmt"
)

var (
	ErrIncompleteForm     = errors.New("please fill in all fields")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginAfterSignup   = errors.New("login failed after signup")
	ErrSessionRevoked     = errors.New("session no longer matches an account")
)

// InsertError wraps the store's refusal of a new account, e.g. a duplicate email.
type InsertError struct {
	Err error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("creating account: %v", e.Err)
}

func (e *InsertError) Unwrap() error {
	return e.Err
}
