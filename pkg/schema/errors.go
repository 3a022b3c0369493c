package schema

import "github.com/pkg/errors"

// ErrNoIntrospector is returned when a live lookup is needed but the
// connection has no live database behind it
var ErrNoIntrospector = errors.New("no live database for introspection")
