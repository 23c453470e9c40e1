package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags which alternative a Value holds. Null is its own alternative so
// that "no value" is never conflated with the zero value of another kind.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindBigInt
	KindFloat
	KindString
	KindUUID
	KindTimestamp
	KindDate
	KindTime
	KindBool
	KindJSON
	KindArray
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindInt:       "int",
	KindBigInt:    "bigint",
	KindFloat:     "float",
	KindString:    "string",
	KindUUID:      "uuid",
	KindTimestamp: "timestamp",
	KindDate:      "date",
	KindTime:      "time",
	KindBool:      "bool",
	KindJSON:      "json",
	KindArray:     "array",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one typed cell of a row. The populated field is selected by
// Kind. BigInt keeps its exact decimal text so values outside the 64-bit
// range never round through a float; JSON and Array carry the opaque
// encoded text the upstream produced.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// NewInt returns an integer value.
func NewInt(v int64) Value { return Value{kind: KindInt, i: v} }

// NewBigInt wraps an exact decimal string: optional sign, digits, optional
// fractional part. The text is kept verbatim; comparisons are numeric.
func NewBigInt(digits string) Value { return Value{kind: KindBigInt, s: digits} }

// NewFloat returns a float value.
func NewFloat(v float64) Value { return Value{kind: KindFloat, f: v} }

// NewString returns a string value.
func NewString(v string) Value { return Value{kind: KindString, s: v} }

// NewUUID stores the canonical lowercase text form.
func NewUUID(u uuid.UUID) Value { return Value{kind: KindUUID, s: u.String()} }

// NewTimestamp returns a timestamp value.
func NewTimestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// NewDate returns a date value; only the calendar day is meaningful.
func NewDate(t time.Time) Value { return Value{kind: KindDate, t: t} }

// NewTimeOfDay returns a time-of-day value; only the clock reading is
// meaningful.
func NewTimeOfDay(t time.Time) Value { return Value{kind: KindTime, t: t} }

// NewBool returns a boolean value.
func NewBool(v bool) Value { return Value{kind: KindBool, b: v} }

// NewJSON wraps already-encoded JSON text without inspecting it.
func NewJSON(raw string) Value { return Value{kind: KindJSON, s: raw} }

// NewArray wraps an upstream array in its text encoding, e.g. "{1,2,3}".
func NewArray(text string) Value { return Value{kind: KindArray, s: text} }

// Kind reports which alternative the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Equal reports whether two values are the same. This is the comparison
// that decides changed_fields on updates, so null-vs-nonnull and
// cross-kind mismatches count as changes.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == o.i
	case KindBigInt:
		return compareDecimal(v.s, o.s) == 0
	case KindFloat:
		return v.f == o.f
	case KindString, KindUUID, KindJSON, KindArray:
		return v.s == o.s
	case KindTimestamp, KindDate, KindTime:
		return v.t.Equal(o.t)
	case KindBool:
		return v.b == o.b
	}
	return false
}

// Compare orders v against o, returning -1, 0 or 1. Kinds with no defined
// order (boolean, json, array) and mismatched kinds are errors; predicate
// evaluation short-circuits null before ordering, so null never reaches
// here.
func (v Value) Compare(o Value) (int, error) {
	if v.kind != o.kind {
		return 0, fmt.Errorf("cannot compare %s with %s", v.kind, o.kind)
	}
	switch v.kind {
	case KindInt:
		switch {
		case v.i < o.i:
			return -1, nil
		case v.i > o.i:
			return 1, nil
		}
		return 0, nil
	case KindBigInt:
		return compareDecimal(v.s, o.s), nil
	case KindFloat:
		switch {
		case v.f < o.f:
			return -1, nil
		case v.f > o.f:
			return 1, nil
		}
		return 0, nil
	case KindString, KindUUID:
		return strings.Compare(v.s, o.s), nil
	case KindTimestamp, KindDate, KindTime:
		return v.t.Compare(o.t), nil
	}
	return 0, fmt.Errorf("%s values have no defined order", v.kind)
}

// Text returns the canonical text form of the value. Keys are derived from
// it and logs print it.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTimestamp:
		return v.t.UTC().Format(time.RFC3339Nano)
	case KindDate:
		return v.t.Format(dateLayout)
	case KindTime:
		return v.t.Format(timeLayout)
	default:
		return v.s
	}
}

func (v Value) String() string { return v.Text() }

// MarshalJSON renders the value for API and webhook payloads. BigInt is
// emitted as a string to survive 64-bit JSON consumers; JSON columns pass
// through verbatim; non-finite floats become strings since JSON has no
// representation for them.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindBigInt, KindString, KindUUID, KindArray:
		return json.Marshal(v.s)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.Marshal(strconv.FormatFloat(v.f, 'g', -1, 64))
		}
		return json.Marshal(v.f)
	case KindTimestamp:
		return json.Marshal(v.t.UTC().Format(time.RFC3339Nano))
	case KindDate:
		return json.Marshal(v.t.Format(dateLayout))
	case KindTime:
		return json.Marshal(v.t.Format(timeLayout))
	case KindBool:
		return json.Marshal(v.b)
	case KindJSON:
		return []byte(v.s), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", uint8(v.kind))
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.999999999"
)

// Layouts the upstream uses for timestamp text, most common first. The
// fractional second and zone designators are optional in Go layouts, so a
// handful covers the observed variants.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

var timeLayouts = []string{
	"15:04:05.999999999-07:00",
	"15:04:05.999999999-07",
	"15:04:05.999999999",
}

// DecodeText converts the upstream text encoding of one column into a
// Value of the declared type. SQL NULL is handled by the caller; text here
// is always a present value.
func DecodeText(t DataType, text string) (Value, error) {
	switch t {
	case TypeInteger:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid integer %q", text)
		}
		return NewInt(n), nil
	case TypeBigInt:
		if !validDecimal(text) {
			return Value{}, fmt.Errorf("invalid bigint %q", text)
		}
		return NewBigInt(text), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid float %q", text)
		}
		return NewFloat(f), nil
	case TypeString:
		return NewString(text), nil
	case TypeUUID:
		u, err := uuid.Parse(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid uuid %q", text)
		}
		return NewUUID(u), nil
	case TypeTimestamp:
		ts, err := parseFirst(timestampLayouts, text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid timestamp %q", text)
		}
		return NewTimestamp(ts), nil
	case TypeDate:
		d, err := time.Parse(dateLayout, text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid date %q", text)
		}
		return NewDate(d), nil
	case TypeTime:
		tod, err := parseFirst(timeLayouts, text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid time %q", text)
		}
		return NewTimeOfDay(tod), nil
	case TypeBoolean:
		switch text {
		case "t", "true":
			return NewBool(true), nil
		case "f", "false":
			return NewBool(false), nil
		}
		return Value{}, fmt.Errorf("invalid boolean %q", text)
	case TypeJSON:
		return NewJSON(text), nil
	case TypeArray:
		return NewArray(text), nil
	}
	return Value{}, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
}

// Coerce converts a literal from decoded filter JSON into a Value of the
// column's type. Numbers arrive as json.Number when the decoder opted into
// UseNumber, as float64 otherwise; both are accepted.
func Coerce(t DataType, lit any) (Value, error) {
	if lit == nil {
		return Null(), nil
	}
	switch t {
	case TypeInteger:
		n, err := literalInt(lit)
		if err != nil {
			return Value{}, err
		}
		return NewInt(n), nil
	case TypeBigInt:
		s, err := literalText(lit)
		if err != nil {
			return Value{}, err
		}
		if !validDecimal(s) {
			return Value{}, fmt.Errorf("invalid bigint literal %q", s)
		}
		return NewBigInt(s), nil
	case TypeFloat:
		f, err := literalFloat(lit)
		if err != nil {
			return Value{}, err
		}
		return NewFloat(f), nil
	case TypeString, TypeUUID, TypeTimestamp, TypeDate, TypeTime, TypeJSON, TypeArray:
		s, ok := lit.(string)
		if !ok {
			return Value{}, fmt.Errorf("%s literal must be a string, got %T", t, lit)
		}
		if t == TypeString {
			return NewString(s), nil
		}
		return DecodeText(t, s)
	case TypeBoolean:
		b, ok := lit.(bool)
		if !ok {
			return Value{}, fmt.Errorf("boolean literal must be true or false, got %T", lit)
		}
		return NewBool(b), nil
	}
	return Value{}, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
}

func literalInt(lit any) (int64, error) {
	switch n := lit.(type) {
	case json.Number:
		v, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer literal %q", n.String())
		}
		return v, nil
	case float64:
		v := int64(n)
		if float64(v) != n {
			return 0, fmt.Errorf("integer literal %v has a fractional part", n)
		}
		return v, nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, fmt.Errorf("integer literal must be a number, got %T", lit)
}

func literalFloat(lit any) (float64, error) {
	switch n := lit.(type) {
	case json.Number:
		v, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float literal %q", n.String())
		}
		return v, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("float literal must be a number, got %T", lit)
}

func literalText(lit any) (string, error) {
	switch n := lit.(type) {
	case json.Number:
		return n.String(), nil
	case string:
		return n, nil
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64), nil
	case int:
		return strconv.FormatInt(int64(n), 10), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("numeric literal must be a number or string, got %T", lit)
}

func parseFirst(layouts []string, text string) (time.Time, error) {
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, text)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// validDecimal accepts an optional sign, digits, and an optional fractional
// part. This is exactly what the upstream's text encoding of bigint and
// numeric produces.
func validDecimal(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			digits++
		}
	}
	return i == len(s) && digits > 0
}

// compareDecimal orders two decimal strings numerically without rounding
// through a float. Both inputs are assumed to pass validDecimal.
func compareDecimal(a, b string) int {
	negA, intA, fracA := splitDecimal(a)
	negB, intB, fracB := splitDecimal(b)

	zeroA := intA == "" && fracA == ""
	zeroB := intB == "" && fracB == ""
	switch {
	case zeroA && zeroB:
		return 0
	case zeroA:
		if negB {
			return 1
		}
		return -1
	case zeroB:
		if negA {
			return -1
		}
		return 1
	}

	if negA != negB {
		if negA {
			return -1
		}
		return 1
	}
	cmp := compareMagnitude(intA, fracA, intB, fracB)
	if negA {
		return -cmp
	}
	return cmp
}

func splitDecimal(s string) (neg bool, intPart, fracPart string) {
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	} else {
		intPart = s
	}
	// Leading integer zeros and trailing fraction zeros carry no weight.
	intPart = strings.TrimLeft(intPart, "0")
	fracPart = strings.TrimRight(fracPart, "0")
	return neg, intPart, fracPart
}

// compareMagnitude compares normalized digit strings. A longer integer part
// is strictly larger; equal-length parts compare lexicographically, which
// for digit strings matches numeric order. The same holds for fractions
// once trailing zeros are stripped.
func compareMagnitude(intA, fracA, intB, fracB string) int {
	if len(intA) != len(intB) {
		if len(intA) < len(intB) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(intA, intB); c != 0 {
		return c
	}
	return strings.Compare(fracA, fracB)
}
