package keygroup

import "errors"

// ErrInvalidConfiguration is returned for a maximum parallelism, parallelism
// or index outside its valid domain.
var ErrInvalidConfiguration = errors.New("invalid key group configuration")
