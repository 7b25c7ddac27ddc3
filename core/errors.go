package core

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists         = errors.New("username or email already in use")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email, username or password")
	ErrTooManyAttempts    = errors.New("too many failed login attempts, try again later")
)

var (
	ErrMissingToken    = errors.New("not authenticated")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrCacheNotFound   = errors.New("session not found in cache")
)

// ErrValidation is wrapped by every input validation error.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidRequestBody = fmt.Errorf("%w: invalid request body", ErrValidation)
	ErrNameRequired       = fmt.Errorf("%w: name is required", ErrValidation)
	ErrNameTooLong        = fmt.Errorf("%w: name is too long", ErrValidation)
	ErrUsernameRequired   = fmt.Errorf("%w: username is required", ErrValidation)
	ErrInvalidUsername    = fmt.Errorf("%w: username must be 3-32 letters, digits, '_', '.' or '-'", ErrValidation)
	ErrEmailRequired      = fmt.Errorf("%w: email is required", ErrValidation)
	ErrInvalidEmail       = fmt.Errorf("%w: invalid email address", ErrValidation)
	ErrPasswordRequired   = fmt.Errorf("%w: password is required", ErrValidation)
	ErrPasswordTooShort   = fmt.Errorf("%w: password is too short", ErrValidation)
	ErrPasswordTooLong    = fmt.Errorf("%w: password is too long", ErrValidation)
)

var (
	ErrUserStorageRequired = errors.New("user storage is required")
	ErrHTTPAdapterRequired = errors.New("http adapter is required")
	ErrSecretRequired      = errors.New("secret is required")
	ErrSecretTooShort      = errors.New("secret is too short")
)
