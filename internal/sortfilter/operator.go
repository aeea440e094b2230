package sortfilter

import (
	"strings"

	"github.com/pitabwire/dataregion/model"
)

// Operator is a filter comparison. The string value is the URL suffix that
// follows the filter marker.
type Operator string

const (
	OpEqual            Operator = "eq"
	OpNotEqualOrNull   Operator = "neqornull"
	OpIn               Operator = "in"
	OpDateEqual        Operator = "dateeq"
	OpDateNotEqual     Operator = "dateneq"
	OpGreaterThan      Operator = "gt"
	OpLessThan         Operator = "lt"
	OpGreaterOrEqual   Operator = "gte"
	OpLessOrEqual      Operator = "lte"
	OpStartsWith       Operator = "startswith"
	OpDoesNotStartWith Operator = "doesnotstartwith"
	OpContains         Operator = "contains"
	OpDoesNotContain   Operator = "doesnotcontain"
	OpIsBlank          Operator = "isblank"
	OpIsNonBlank       Operator = "isnonblank"
	OpHasMVValue       Operator = "hasmvvalue"
	OpNoMVValue        Operator = "nomvvalue"
)

var operatorLabels = map[Operator]string{
	OpEqual:            "Equals",
	OpNotEqualOrNull:   "Does not Equal",
	OpIn:               "Equals One Of (e.g. 'a;b;c')",
	OpDateEqual:        "Equals",
	OpDateNotEqual:     "Does not Equal",
	OpGreaterThan:      "Is Greater Than",
	OpLessThan:         "Is Less Than",
	OpGreaterOrEqual:   "Is Greater Than or Equal To",
	OpLessOrEqual:      "Is Less Than or Equal To",
	OpStartsWith:       "Starts With",
	OpDoesNotStartWith: "Does Not Start With",
	OpContains:         "Contains",
	OpDoesNotContain:   "Does Not Contain",
	OpIsBlank:          "Is Blank",
	OpIsNonBlank:       "Is Not Blank",
	OpHasMVValue:       "Has a missing value indicator",
	OpNoMVValue:        "Does not have a missing value indicator",
}

// ParseOperator returns the operator for a URL suffix.
func ParseOperator(s string) (Operator, bool) {
	op := Operator(strings.ToLower(s))
	_, ok := operatorLabels[op]
	return op, ok
}

// Label returns the human readable name of op.
func (op Operator) Label() string {
	return operatorLabels[op]
}

// Valueless reports whether op takes no value. Such filters serialise as a
// bare key.
func (op Operator) Valueless() bool {
	switch op {
	case OpIsBlank, OpIsNonBlank, OpHasMVValue, OpNoMVValue:
		return true
	}
	return false
}

// SemanticType is the filter-relevant category of a column type.
type SemanticType string

const (
	TypeText     SemanticType = "TEXT"
	TypeLongText SemanticType = "LONGTEXT"
	TypeInt      SemanticType = "INT"
	TypeDecimal  SemanticType = "DECIMAL"
	TypeDate     SemanticType = "DATE"
	TypeBool     SemanticType = "BOOL"
)

var sqlTypes = map[string]SemanticType{
	"BIGINT":           TypeInt,
	"BIGSERIAL":        TypeInt,
	"BIT":              TypeBool,
	"BOOL":             TypeBool,
	"BOOLEAN":          TypeBool,
	"CHAR":             TypeText,
	"CLOB":             TypeLongText,
	"DATE":             TypeDate,
	"DECIMAL":          TypeDecimal,
	"DOUBLE":           TypeDecimal,
	"DOUBLE PRECISION": TypeDecimal,
	"FLOAT":            TypeDecimal,
	"INTEGER":          TypeInt,
	"LONGVARCHAR":      TypeLongText,
	"NTEXT":            TypeLongText,
	"NUMERIC":          TypeDecimal,
	"REAL":             TypeDecimal,
	"SMALLINT":         TypeInt,
	"TIME":             TypeText,
	"TIMESTAMP":        TypeDate,
	"TINYINT":          TypeInt,
	"VARCHAR":          TypeText,
	"INT":              TypeInt,
	"INT IDENTITY":     TypeInt,
	"DATETIME":         TypeDate,
	"TEXT":             TypeText,
	"NVARCHAR":         TypeText,
	"INT2":             TypeInt,
	"INT4":             TypeInt,
	"INT8":             TypeInt,
	"FLOAT4":           TypeDecimal,
	"FLOAT8":           TypeDecimal,
	"SERIAL":           TypeInt,
	"USERID":           TypeInt,
}

var jsonTypes = map[string]SemanticType{
	"string":  TypeText,
	"int":     TypeInt,
	"float":   TypeDecimal,
	"date":    TypeDate,
	"boolean": TypeBool,
}

// TypeForSQL maps a SQL type name to its semantic type. Unknown names map to
// their upper-cased form, which allows equality and range operators only.
func TypeForSQL(sqlType string) SemanticType {
	upper := strings.ToUpper(strings.TrimSpace(sqlType))
	if t, ok := sqlTypes[upper]; ok {
		return t
	}
	return SemanticType(upper)
}

// TypeForColumn picks the semantic type of a column from its SQL type, then
// its JSON type, defaulting to text.
func TypeForColumn(c model.ColumnInfo) SemanticType {
	if c.SQLType != "" {
		return TypeForSQL(c.SQLType)
	}
	if t, ok := jsonTypes[strings.ToLower(c.JSONType)]; ok {
		return t
	}
	return TypeText
}

// AllowedOperators lists the operators offered for a column of type t, in
// display order. mvEnabled adds the missing-value operators.
func AllowedOperators(t SemanticType, mvEnabled bool) []Operator {
	var ops []Operator

	if t != TypeLongText {
		if t == TypeDate {
			ops = append(ops, OpDateEqual)
		} else {
			ops = append(ops, OpEqual)
		}
		if t != TypeBool {
			ops = append(ops, OpIn)
		}
		if t == TypeDate {
			ops = append(ops, OpDateNotEqual)
		} else {
			ops = append(ops, OpNotEqualOrNull)
		}
	}

	ops = append(ops, OpIsBlank, OpIsNonBlank)

	if t != TypeLongText && t != TypeBool {
		ops = append(ops, OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual)
	}

	if t == TypeText || t == TypeLongText {
		ops = append(ops, OpStartsWith, OpDoesNotStartWith, OpContains, OpDoesNotContain)
	}

	if mvEnabled {
		ops = append(ops, OpHasMVValue, OpNoMVValue)
	}
	return ops
}

// Allowed reports whether op is offered for type t.
func Allowed(t SemanticType, mvEnabled bool, op Operator) bool {
	for _, o := range AllowedOperators(t, mvEnabled) {
		if o == op {
			return true
		}
	}
	return false
}

// DefaultOperator is the operator preselected for a new filter on type t.
func DefaultOperator(t SemanticType) Operator {
	switch t {
	case TypeLongText:
		return OpContains
	case TypeDecimal:
		return OpGreaterOrEqual
	case TypeText:
		return OpStartsWith
	case TypeDate:
		return OpDateEqual
	}
	return OpEqual
}
