package records

import "errors"

var (
	// ErrUnsupportedType is returned for record types outside A/AAAA/CNAME
	ErrUnsupportedType = errors.New("unsupported record type")

	// ErrInvalidContent is returned when content does not parse for its type
	ErrInvalidContent = errors.New("invalid record content")

	// ErrInvalidPattern is returned when a domain pattern is empty
	ErrInvalidPattern = errors.New("invalid domain pattern")

	// ErrInvalidTTL is returned when a TTL is outside the allowed bounds
	ErrInvalidTTL = errors.New("invalid ttl")
)
