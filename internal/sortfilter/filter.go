package sortfilter

import (
	"strings"

	"github.com/pitabwire/dataregion/model"
)

const filterMarker = "~"

// MatchesFilterPrefix reports whether key is a filter of fieldKey in region,
// that is whether it starts with "<region>.<fieldKey>~".
func MatchesFilterPrefix(key, region, fieldKey string) bool {
	return strings.HasPrefix(key, FilterPrefix(region, fieldKey))
}

// FilterPrefix returns "<region>.<fieldKey>~".
func FilterPrefix(region, fieldKey string) string {
	return region + "." + fieldKey + filterMarker
}

// FilterKey returns the parameter key of a filter, "<region>.<fieldKey>~<op>".
func FilterKey(region, fieldKey string, op Operator) string {
	return FilterPrefix(region, fieldKey) + string(op)
}

// SplitFilterKey splits a filter parameter key of region into its field key
// and operator. It reports false when key is not a filter of region.
func SplitFilterKey(key, region string) (fieldKey, op string, ok bool) {
	rest, found := strings.CutPrefix(key, region+".")
	if !found {
		return "", "", false
	}
	fieldKey, op, found = strings.Cut(rest, filterMarker)
	if !found || fieldKey == "" {
		return "", "", false
	}
	return fieldKey, op, true
}

// IsFilter reports whether key is a filter parameter of region.
func IsFilter(key, region string) bool {
	_, _, ok := SplitFilterKey(key, region)
	return ok
}

// FiltersOf extracts the filters of region from pairs, in order.
func FiltersOf(pairs model.Pairs, region string) []model.Filter {
	var out []model.Filter
	for _, p := range pairs {
		fk, op, ok := SplitFilterKey(p.Key, region)
		if !ok {
			continue
		}
		out = append(out, model.Filter{
			FieldKey: fk,
			Operator: op,
			Value:    p.Value,
			HasValue: p.HasValue,
		})
	}
	return out
}

// FilterPair encodes f as a parameter of region.
func FilterPair(region string, f model.Filter) model.Pair {
	key := FilterKey(region, f.FieldKey, Operator(f.Operator))
	if !f.HasValue {
		return model.Bare(key)
	}
	return model.P(key, f.Value)
}

// RemoveFilters returns pairs without the filters of fieldKey in region.
// Pairs of other fields and regions keep their order.
func RemoveFilters(pairs model.Pairs, region, fieldKey string) model.Pairs {
	out := make(model.Pairs, 0, len(pairs))
	for _, p := range pairs {
		if MatchesFilterPrefix(p.Key, region, fieldKey) {
			continue
		}
		out = append(out, p)
	}
	return out
}
