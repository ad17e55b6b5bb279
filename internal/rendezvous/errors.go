package rendezvous

import "errors"

// ErrBind is returned (wrapped) by Create when the listener can't be bound to
// the configured address.
var ErrBind = errors.New("unable to bind server address")
