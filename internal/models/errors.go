package models

import "errors"

// ErrGuestQuotaExceeded is reported when the guest deployment rejects a send
// because the usage ceiling has been reached. Consumers surface it as a
// sign-in prompt, distinct from a generic transport failure.
var ErrGuestQuotaExceeded = errors.New("guest message quota exceeded")
