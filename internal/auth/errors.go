package auth

import "errors"

var (
	// ErrTokenInvalid is returned when a token fails signature or
	// structural validation.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("auth: token has expired")

	// ErrHomeForbidden is returned when a caller's home scope does not
	// cover the requested home.
	ErrHomeForbidden = errors.New("auth: home not in token scope")
)
