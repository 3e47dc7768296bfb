package domain

import "errors"

// ErrSetupComplete is returned by session stores when setup was already
// recorded for the session by an earlier writer.
var ErrSetupComplete = errors.New("session setup already complete")
