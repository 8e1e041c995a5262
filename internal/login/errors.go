package login

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("login: invalid input")
	ErrInvalidCredentials   = errors.New("login: invalid credentials")
	ErrAmbiguousCredentials = errors.New("login: password matches more than one operator, username required")
	ErrProcedure            = errors.New("login: login procedure failed")

	// ErrUnsupportedAuthSchema means credentials exist but cannot be verified
	// with any known strategy.
	ErrUnsupportedAuthSchema = errors.New("login: unsupported authentication schema")
	ErrUnknownHashAlgorithm  = fmt.Errorf("%w: unknown password hash algorithm", ErrUnsupportedAuthSchema)
	ErrNoMechanism           = fmt.Errorf("%w: no login procedure or credentials table", ErrUnsupportedAuthSchema)
)

// errNoRow is the only table failure that moves on to the next candidate.
var errNoRow = fmt.Errorf("%w: no matching row", ErrInvalidCredentials)
