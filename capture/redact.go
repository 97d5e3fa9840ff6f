package capture

import "net/url"

// Redact strips credentials from a source locator for logging.
func Redact(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.User == nil {
		return source
	}
	return u.Redacted()
}

// Host returns the host part of a source locator, or the locator itself
// when it has none (local files, device indexes).
func Host(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Hostname() == "" {
		return source
	}
	return u.Hostname()
}
