// Package sortfilter holds the stateless helpers used to rewrite sort specs
// and to recognise, split and validate filter parameters.
package sortfilter

import (
	"strings"

	"github.com/pitabwire/dataregion/model"
)

// Direction is a sort direction. None removes a field from the sort spec
// without re-adding it.
type Direction string

const (
	None Direction = ""
	Asc  Direction = "+"
	Desc Direction = "-"
)

// ParseDirection maps user input to a Direction. Unknown input reports false.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "+", "ASC":
		return Asc, true
	case "-", "DESC":
		return Desc, true
	case "", "NONE":
		return None, true
	}
	return None, false
}

// AlterSort removes every entry for fieldKey from the comma separated spec
// current and, unless dir is None, prepends fieldKey with dir as the new
// primary sort. Ascending entries are written without a sign.
func AlterSort(current, fieldKey string, dir Direction) string {
	var out []string
	if dir != None {
		prefix := string(dir)
		if dir == Asc {
			prefix = ""
		}
		out = append(out, prefix+fieldKey)
	}

	if current != "" {
		for _, s := range strings.Split(current, ",") {
			if s == "" || s == fieldKey || s == "+"+fieldKey || s == "-"+fieldKey {
				continue
			}
			out = append(out, s)
		}
	}
	return strings.Join(out, ",")
}

// ParseSort decodes a sort spec into entries. A leading "-" marks a
// descending entry, a leading "+" or no sign an ascending one.
func ParseSort(spec string) []model.SortEntry {
	if spec == "" {
		return nil
	}
	var out []model.SortEntry
	for _, s := range strings.Split(spec, ",") {
		if s == "" {
			continue
		}
		e := model.SortEntry{FieldKey: s, Direction: string(Asc)}
		switch s[0] {
		case '-':
			e.FieldKey = s[1:]
			e.Direction = string(Desc)
		case '+':
			e.FieldKey = s[1:]
		}
		out = append(out, e)
	}
	return out
}

// FormatSort encodes entries as a sort spec.
func FormatSort(entries []model.SortEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.FieldKey == "" {
			continue
		}
		if e.Direction == string(Desc) {
			parts = append(parts, "-"+e.FieldKey)
		} else {
			parts = append(parts, e.FieldKey)
		}
	}
	return strings.Join(parts, ",")
}
