package strategy

import "errors"

// ErrUnknownStrategy is returned when no strategy is registered under a name
var ErrUnknownStrategy = errors.New("unknown strategy")
