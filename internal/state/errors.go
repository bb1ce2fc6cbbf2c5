package state

import "errors"

// Sentinel errors returned by mutation operations. GraphQL resolvers map
// these to domain codes and HTTP statuses (409/400/403); callers use
// errors.Is to classify them. "Absent target" conditions are never errors —
// they are represented by a boolean/pointer nil result instead.
var (
	ErrDuplicateKey       = errors.New("DUPLICATE_RESTREAM_KEY")
	ErrDuplicateOutputURL = errors.New("DUPLICATE_OUTPUT_URL")
	ErrDuplicateClient    = errors.New("DUPLICATE_CLIENT")
	ErrTooManyMixins      = errors.New("TOO_MUCH_MIXIN_URLS")
	ErrInvalidShape       = errors.New("INVALID_SHAPE")
	ErrTitleTooLong       = errors.New("TITLE_TOO_LONG")
	ErrUnsafePath         = errors.New("UNSAFE_PATH")
)
