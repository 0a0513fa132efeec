package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoURLs indicates a rotation was requested without any URL.
	ErrNoURLs = errors.New("at least one url is required")
	// ErrTooManyURLs indicates the URL list exceeds the configured maximum.
	ErrTooManyURLs = errors.New("too many urls")
	// ErrInvalidTimeBounds indicates non-positive or inverted rotation delays.
	ErrInvalidTimeBounds = errors.New("minimum time must be at least 1 and less than maximum time")
	// ErrInvalidURL indicates a URL that is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrUnknownCommand indicates an unsupported command type.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrTabNotFound indicates the tab no longer exists.
	ErrTabNotFound = errors.New("tab not found")
	// ErrNavigationFailed indicates the tab controller could not navigate a tab.
	ErrNavigationFailed = errors.New("navigation failed")
)

var validationErrors = []error{
	ErrInvalidRequest,
	ErrNoURLs,
	ErrTooManyURLs,
	ErrInvalidTimeBounds,
	ErrInvalidURL,
	ErrUnknownCommand,
}

// IsValidation reports whether err is a caller error rejected before any state mutation.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
