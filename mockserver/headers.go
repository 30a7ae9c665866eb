package mockserver

import (
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HeaderField is a single header line as it appeared on the wire.
type HeaderField struct {
	Name  string
	Value string
}

// Headers keeps header fields in wire order. Lookups are case-insensitive and
// a name may appear more than once.
type Headers []HeaderField

func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

func (h Headers) Values(name string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

func (h Headers) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Names returns the distinct header names in order of first appearance,
// canonicalized.
func (h Headers) Names() []string {
	seen := make(map[string]struct{}, len(h))
	names := make([]string, 0, len(h))
	for _, f := range h {
		name := textproto.CanonicalMIMEHeaderKey(f.Name)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func (h Headers) Add(name, value string) Headers {
	return append(h, HeaderField{Name: name, Value: value})
}

// Set replaces every field called name with a single one.
func (h Headers) Set(name, value string) Headers {
	return h.Del(name).Add(name, value)
}

func (h Headers) Del(name string) Headers {
	out := make(Headers, 0, len(h))
	for _, f := range h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	return out
}

// hasToken reports whether any comma separated element of the named header
// equals token, ignoring case.
func (h Headers) hasToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}
