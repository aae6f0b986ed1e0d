// Package directives parses the Cache-Control directive subset this cache
// understands: no-store, no-cache, private, public, max-age, and
// must-revalidate. It is shared by the variation classifier and the
// request-handling middleware so both agree on one parse of a header.
package directives

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	NoStore        = "no-store"
	NoCache        = "no-cache"
	Private        = "private"
	Public         = "public"
	MaxAge         = "max-age"
	MustRevalidate = "must-revalidate"
)

// Set is a parsed Cache-Control header: directive name to its value (empty
// string for valueless directives such as no-store).
type Set map[string]string

// Parse reads the Cache-Control header from headers and returns the parsed
// directive set. Duplicate directives keep their first occurrence.
func Parse(headers http.Header) Set {
	cc := Set{}
	raw := headers.Get("Cache-Control")
	if raw == "" {
		return cc
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)

		if _, seen := cc[name]; seen {
			continue
		}
		cc[name] = value
	}

	return cc
}

// Has reports whether the named directive is present.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// MaxAgeSeconds returns the parsed max-age value in seconds. ok is false
// when the directive is absent or its value is not a non-negative integer.
func (s Set) MaxAgeSeconds() (seconds int64, ok bool) {
	v, present := s[MaxAge]
	if !present {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
