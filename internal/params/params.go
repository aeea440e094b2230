// Package params converts between a flat query string and the ordered list
// of parameters that encodes data region state.
//
// Every region parameter is namespaced as "<region><suffix>", for example
// "qwp1.sort" or "qwp1.Age~gte". Filter parameters carry the filter operator
// marker "~" between the field key and the operator.
package params

import (
	"net/url"
	"strings"
	"time"

	"github.com/pitabwire/dataregion/model"
)

// Region parameter suffixes. Each is appended to the region name.
const (
	Offset              = ".offset"
	MaxRows             = ".maxRows"
	ShowRows            = ".showRows"
	Sort                = ".sort"
	ViewName            = ".viewName"
	ReportID            = ".reportId"
	ContainerFilterName = ".containerFilterName"
	Columns             = ".columns"
	Param               = ".param."
	Async               = ".async"

	// AllFilters is a skip prefix that removes every filter of the region and
	// nothing else. Filters of other regions are kept.
	AllFilters = ".~"

	// LastFilter marks a remembered filter that is never round tripped.
	LastFilter = ".lastFilter"

	// FilterMarker separates a field key from its operator.
	FilterMarker = "~"
)

// disallowedBare lists keys that are only honoured when scoped with a region
// name. A bare occurrence is dropped on parse.
var disallowedBare = map[string]bool{
	"~":                   true,
	"columns":             true,
	"param":               true,
	"reportId":            true,
	"sort":                true,
	"offset":              true,
	"maxRows":             true,
	"showRows":            true,
	"containerFilterName": true,
	"viewName":            true,
	"disableAnalytics":    true,
}

// Parse splits a query string into ordered pairs. Anything up to and
// including a "?" is ignored, so a full URL may be passed. Keys and values
// are decoded with "+" read as a space.
//
// Pairs are dropped when the key ends with ".lastFilter", when the key is a
// bare reserved name, or when the key matches one of skipPrefixes. Skip
// prefixes must already carry the region name; see Scope.
func Parse(query string, skipPrefixes []string) model.Pairs {
	if i := strings.IndexByte(query, '?'); i > -1 {
		query = query[i+1:]
	}
	if query == "" {
		return nil
	}

	var out model.Pairs
	for _, segment := range strings.Split(query, "&") {
		if segment == "" {
			continue
		}

		var p model.Pair
		if k, v, ok := strings.Cut(segment, "="); ok {
			p = model.P(decode(k), decode(v))
		} else {
			p = model.Bare(decode(segment))
		}

		if strings.HasSuffix(p.Key, LastFilter) || disallowedBare[p.Key] {
			continue
		}
		if skipped(p.Key, skipPrefixes) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// skipped reports whether key matches any skip prefix.
func skipped(key string, skipPrefixes []string) bool {
	for _, prefix := range skipPrefixes {
		if prefix == "" {
			continue
		}
		if strings.HasSuffix(prefix, AllFilters) {
			// Only filters of the prefix's own region.
			scope := strings.TrimSuffix(prefix, FilterMarker)
			if strings.HasPrefix(key, scope) && strings.Index(key, FilterMarker) > 0 {
				return true
			}
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if key == prefix ||
			strings.Index(key, FilterMarker) > 0 ||
			strings.Index(key, Param) > 0 ||
			key == prefix+"sort" {
			return true
		}
	}
	return false
}

// Scope returns prefixes with the region name prepended to each entry that
// does not already start with "<region>.".
func Scope(region string, prefixes ...string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" && !strings.HasPrefix(p, region+".") {
			p = region + p
		}
		out = append(out, p)
	}
	return out
}

// Build serialises pairs as a query string. Keys and values are escaped the
// way browsers escape URI components; a pair without a value is written as
// a bare key.
func Build(pairs model.Pairs) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(EscapeComponent(p.Key))
		if p.HasValue {
			b.WriteByte('=')
			b.WriteString(EscapeComponent(p.Value))
		}
	}
	return b.String()
}

// DatePair returns a pair whose value is t formatted as yyyy-MM-dd.
func DatePair(key string, t time.Time) model.Pair {
	return model.P(key, FormatDate(t))
}

// FormatDate formats t as yyyy-MM-dd.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// NormalizeDate reduces an ISO-8601 timestamp to its date part and strips a
// trailing UTC marker. Values that are not timestamps are returned as-is.
func NormalizeDate(s string) string {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return FormatDate(t)
	}
	return strings.TrimSuffix(s, "Z")
}

// decode reads "+" as a space and then percent-decodes. Malformed escapes
// keep the raw text.
func decode(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}

const upperhex = "0123456789ABCDEF"

// EscapeComponent escapes s like encodeURIComponent: everything except
// letters, digits and -_.!~*'() is percent-encoded as UTF-8.
func EscapeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
