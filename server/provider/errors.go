package provider

import "errors"

var (
	// ErrUnsupportedProvider is returned for an unknown provider kind.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)
