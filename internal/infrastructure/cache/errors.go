package cache

import "errors"

var (
	// ErrDisabled indicates the cache is disabled in config.
	ErrDisabled = errors.New("cache: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("cache: connection failed")
)
