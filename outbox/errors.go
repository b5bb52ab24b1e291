package outbox

import "errors"

// ErrFull is returned by Push when the outbox has reached its limit.
var ErrFull = errors.New("outbox is full")

// ErrEmpty is returned by Pop when there is nothing to remove.
var ErrEmpty = errors.New("outbox is empty")
