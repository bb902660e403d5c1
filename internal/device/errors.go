package device

import "errors"

var (
	errNotAbsolute   = errors.New("syspath must be absolute")
	errEmptySysName  = errors.New("sys name is empty or equals sys root")
	errSealInvariant = errors.New("sealed record invariant violated")
	errMissingField  = errors.New("required field missing")
)
