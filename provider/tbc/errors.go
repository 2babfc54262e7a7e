package tbc

import "github.com/pkg/errors"

var (
	ErrProviderNotSet    = errors.New("Provider not set")
	ErrAuthFailure       = errors.New("oauth token exchange failed")
	ErrMalformedResponse = errors.New("malformed response from tbc")
	ErrEmptySessionID    = errors.New("session id is required")
)
