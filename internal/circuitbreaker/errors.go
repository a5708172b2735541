package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen is matched by every error returned while a breaker is OPEN.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by Execute when the breaker is OPEN and no fallback
// was supplied. Callers should not retry before RetryAt.
type OpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *OpenError) Unwrap() error {
	return ErrOpen
}
