package schema

import (
	"net/url"
	"strings"
)

// NormalizeURLList trims every entry and drops blank lines, preserving order.
func NormalizeURLList(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// ValidateURL accepts only absolute http or https URLs with a host.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return ErrInvalidURL
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return nil
	default:
		return ErrInvalidURL
	}
}

// ValidateTimeBounds requires 1 <= minTime < maxTime.
func ValidateTimeBounds(minTime, maxTime int) error {
	if minTime < 1 || maxTime < 1 || minTime >= maxTime {
		return ErrInvalidTimeBounds
	}
	return nil
}
