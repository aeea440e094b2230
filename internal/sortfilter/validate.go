package sortfilter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/dataregion/model"
)

// Validation detail codes.
const (
	CodeRequired        = "REQUIRED"
	CodeInvalidInt      = "INVALID_INT"
	CodeInvalidDecimal  = "INVALID_DECIMAL"
	CodeInvalidDate     = "INVALID_DATE"
	CodeInvalidBool     = "INVALID_BOOL"
	CodeInvalidOperator = "INVALID_OPERATOR"
)

var (
	leadingInt     = regexp.MustCompile(`^\s*[+-]?\d+`)
	leadingDecimal = regexp.MustCompile(`^\s*[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
	isoDate        = regexp.MustCompile(`^\s*\d{4}-\d{2}-\d{2}\s*$`)
	isoDateTime    = regexp.MustCompile(`^\s*\d{4}-\d{2}-\d{2}\s*\d{2}:\d{2}\s*$`)
)

// dateLayouts are tried in order for dates not already in ISO form.
var dateLayouts = []string{
	time.RFC3339,
	"2006/01/02",
	"2006/01/02 15:04",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"1/2/06",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2-Jan-2006",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ValidateValue checks value against the semantic type t and returns its
// normalised form. fieldName is used in the error message. Operators that
// take no value accept anything and return an empty string; "in" splits the
// value on ";" and validates each element.
func ValidateValue(t SemanticType, op Operator, fieldName, value string) (string, error) {
	if op.Valueless() {
		return "", nil
	}
	if op == OpIn {
		return validateMultiple(t, fieldName, value)
	}
	return validateOne(t, fieldName, value)
}

func validateMultiple(t SemanticType, fieldName, all string) (string, error) {
	if all == "" {
		return "", emptyValue(fieldName)
	}
	parts := strings.Split(all, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v, err := validateOne(t, fieldName, strings.TrimSpace(p))
		if err != nil {
			return "", err
		}
		out = append(out, v)
	}
	return strings.Join(out, ";"), nil
}

func validateOne(t SemanticType, fieldName, value string) (string, error) {
	if value == "" {
		return "", emptyValue(fieldName)
	}

	switch t {
	case TypeInt:
		m := leadingInt.FindString(value)
		n, err := strconv.ParseInt(strings.TrimSpace(m), 10, 64)
		if m == "" || err != nil {
			return "", invalid(fieldName, CodeInvalidInt,
				fmt.Sprintf("%s is not a valid integer for field '%s'.", value, fieldName))
		}
		return strconv.FormatInt(n, 10), nil

	case TypeDecimal:
		m := leadingDecimal.FindString(value)
		f, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
		if m == "" || err != nil {
			return "", invalid(fieldName, CodeInvalidDecimal,
				fmt.Sprintf("%s is not a valid decimal number for field '%s'.", value, fieldName))
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil

	case TypeDate:
		if isoDate.MatchString(value) || isoDateTime.MatchString(value) {
			return value, nil
		}
		ts, ok := parseDate(strings.TrimSpace(value))
		if !ok {
			return "", invalid(fieldName, CodeInvalidDate,
				fmt.Sprintf("%s is not a valid date for field '%s'.", value, fieldName))
		}
		s := ts.Format(time.DateOnly)
		if ts.Hour() != 0 || ts.Minute() != 0 {
			s += " " + ts.Format("15:04")
		}
		return s, nil

	case TypeBool:
		switch strings.ToUpper(value) {
		case "TRUE", "1", "Y", "YES", "ON", "T":
			return "1", nil
		case "FALSE", "0", "N", "NO", "OFF", "F":
			return "0", nil
		}
		return "", invalid(fieldName, CodeInvalidBool,
			fmt.Sprintf("%s is not a valid boolean for field '%s'. Try true,false; yes,no; on,off; or 1,0.", value, fieldName))
	}
	return value, nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ValidateFilter checks f against the column it filters and returns the
// filter in canonical form. Valueless operators drop any supplied value.
func ValidateFilter(f model.Filter, col model.ColumnInfo) (model.Filter, error) {
	op, ok := ParseOperator(f.Operator)
	if !ok {
		return model.Filter{}, invalid(f.FieldKey, CodeInvalidOperator,
			fmt.Sprintf("%q is not a valid filter operator.", f.Operator))
	}

	t := TypeForColumn(col)
	if !Allowed(t, col.MVEnabled, op) {
		return model.Filter{}, invalid(f.FieldKey, CodeInvalidOperator,
			fmt.Sprintf("%s is not supported for field '%s'.", op.Label(), fieldLabel(f, col)))
	}

	out := model.Filter{FieldKey: f.FieldKey, Operator: string(op)}
	if op.Valueless() {
		return out, nil
	}

	v, err := ValidateValue(t, op, fieldLabel(f, col), f.Value)
	if err != nil {
		return model.Filter{}, err
	}
	out.Value = v
	out.HasValue = true
	return out, nil
}

func fieldLabel(f model.Filter, col model.ColumnInfo) string {
	if col.Caption != "" {
		return col.Caption
	}
	return f.FieldKey
}

func emptyValue(fieldName string) error {
	return invalid(fieldName, CodeRequired,
		fmt.Sprintf("filter value for field '%s' cannot be empty.", fieldName))
}

func invalid(field, code, msg string) error {
	return model.NewFieldValidationError(field, code, msg)
}
