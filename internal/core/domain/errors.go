package domain

import "errors"

var (
	// ErrInvalidIOC marks input that matches no supported indicator grammar.
	// It is a caller error and is surfaced immediately, never retried.
	ErrInvalidIOC = errors.New("invalid ioc")

	// ErrReasonerDisabled is returned by a reasoning backend that has no
	// credentials configured.
	ErrReasonerDisabled = errors.New("reasoning backend disabled")
)
