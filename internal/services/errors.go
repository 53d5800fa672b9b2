package services

import (
	"net/http"

	apperrors "github.com/devfolio/api/pkg/errors"
)

// Auth-flow errors surfaced to handlers. Both refresh failures map to 401 so
// clients cannot distinguish a forged token from a replayed one; tests and
// logs still see the distinct variant.
var (
	ErrInvalidRefreshToken = apperrors.New(
		"INVALID_REFRESH_TOKEN",
		"Refresh token is invalid or expired",
		http.StatusUnauthorized,
	)

	ErrRefreshTokenReused = apperrors.New(
		"REFRESH_TOKEN_REUSED",
		"Refresh token is invalid or expired",
		http.StatusUnauthorized,
	)
)
