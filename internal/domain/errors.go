package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrBadRequest             = errors.New("bad request")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
)
