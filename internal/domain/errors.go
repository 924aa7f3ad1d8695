package domain

import "errors"

// Domain errors
var (
	ErrNoSnapshot      = errors.New("no snapshot available")
	ErrAvatarNotCached = errors.New("avatar not cached")
	ErrInvalidPlatform = errors.New("invalid platform")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInternalError   = errors.New("internal server error")
)
