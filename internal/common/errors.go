package common

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateIdentity = errors.New("duplicate identity hash")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyResolved   = errors.New("already resolved")
)
