package access

import "errors"

var (
	// ErrNotFound means the short id is known not to exist.
	ErrNotFound = errors.New("short url not found")
	// ErrUnavailable means existence cannot be decided right now.
	ErrUnavailable = errors.New("short url storage unavailable")
	// ErrConflict means the short id or the original URL is already taken.
	ErrConflict = errors.New("short url already exists")

	errCacheDisconnected = errors.New("cache disconnected")
	errMirrorFailed      = errors.New("cache write not applied")
)
