package repository

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)

// DuplicateUserError reports which unique column collided so handlers can
// surface a field-specific message. The login path never returns it, only
// registration and profile update do, so it leaks nothing an attacker could
// not learn by registering.
type DuplicateUserError struct {
	Field string // "username" or "email"
}

func (e *DuplicateUserError) Error() string {
	return fmt.Sprintf("%s already taken", e.Field)
}

// IsDuplicateUser unwraps err into a DuplicateUserError if there is one.
func IsDuplicateUser(err error) (*DuplicateUserError, bool) {
	var dup *DuplicateUserError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}
