package model

import (
	"encoding/json"
	"net/url"
	"strings"
)

// URL is a validated, normalized absolute web address.
type URL struct {
	value    string
	domain   string
	protocol string
}

// NewURL validates raw and strips trailing slashes.
func NewURL(raw string) (URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return URL{}, validationError("url", "url cannot be empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return URL{}, validationError("url", "invalid url %q: %v", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" || parsed.Hostname() == "" {
		return URL{}, validationError("url", "url %q must be absolute", raw)
	}

	return URL{
		value:    strings.TrimRight(trimmed, "/"),
		domain:   parsed.Hostname(),
		protocol: parsed.Scheme,
	}, nil
}

// MustURL is NewURL for literals known to be valid.
func MustURL(raw string) URL {
	u, err := NewURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the normalized value.
func (u URL) String() string { return u.value }

// Domain returns the hostname.
func (u URL) Domain() string { return u.domain }

// Protocol returns the scheme, without the trailing colon.
func (u URL) Protocol() string { return u.protocol }

// Path returns the path component, "/" when empty.
func (u URL) Path() string {
	parsed, err := url.Parse(u.value)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}

// IsZero reports whether u was never constructed.
func (u URL) IsZero() bool { return u.value == "" }

// Equal compares normalized values.
func (u URL) Equal(other URL) bool { return u.value == other.value }

// MarshalJSON encodes the normalized value.
func (u URL) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.value)
}

// UnmarshalJSON re-validates the stored value.
func (u *URL) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*u = URL{}
		return nil
	}
	parsed, err := NewURL(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
