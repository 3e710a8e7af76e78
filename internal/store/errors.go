package store

import "errors"

// ErrLockNotOwned is returned when a lock mutation targets a lock that is
// missing or held by another instance.
var ErrLockNotOwned = errors.New("store: lock not owned by instance")
