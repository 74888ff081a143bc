package service

import "errors"

var (
	// ErrInvalidCredentials is deliberately one error for unknown user and
	// wrong password so responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
)
