// Package types holds the scalar value model shared by KeyTable and
// RowBatch: typed, nullable Fields loaded from a database/sql row, and the
// Rows built out of them.
package types

import (
	"fmt"
	"time"
)

// TypeTag is the scalar type of a column, as reported by TableRepository.
type TypeTag int

const (
	TypeUndefined TypeTag = iota
	TypeString
	TypeDate
	TypeDouble
	TypeInt
	TypeLong
	TypeULong
	TypeBlob
	TypeXML
)

func (t TypeTag) String() string {
	switch t {
	case TypeString:
		return "STRING"
	case TypeDate:
		return "DATE"
	case TypeDouble:
		return "DOUBLE"
	case TypeInt:
		return "INT"
	case TypeLong:
		return "LONG"
	case TypeULong:
		return "ULONG"
	case TypeBlob:
		return "BLOB"
	case TypeXML:
		return "XML"
	default:
		return "UNDEFINED"
	}
}

// hasStringRepr reports whether the tag shares STRING/BLOB/XML's textual
// representation and lexical ordering.
func (t TypeTag) hasStringRepr() bool {
	return t == TypeString || t == TypeBlob || t == TypeXML
}

// Ordering is the three-valued (plus error) comparison result between two
// Fields or two KeyTable rows.
type Ordering int

const (
	Less Ordering = iota
	Equivalent
	Greater
	Unordered
)

// Field is an immutable tagged, nullable scalar value.
type Field struct {
	Tag    TypeTag
	IsNull bool

	str       string  // STRING / BLOB / XML / DATE's canonical "YYYY-MM-DD HH:MM:SS" form
	i64       int64   // INT / LONG
	u64       uint64  // ULONG
	f64       float64 // DOUBLE
	epochSecs int64   // DATE, alongside str
}

// NewNullField builds the null representative of a type tag.
func NewNullField(tag TypeTag) Field {
	return Field{Tag: tag, IsNull: true}
}

func NewStringField(tag TypeTag, v string) Field {
	return Field{Tag: tag, str: v}
}

func NewIntField(v int64) Field {
	return Field{Tag: TypeInt, i64: v}
}

func NewLongField(v int64) Field {
	return Field{Tag: TypeLong, i64: v}
}

func NewULongField(v uint64) Field {
	return Field{Tag: TypeULong, u64: v}
}

func NewDoubleField(v float64) Field {
	return Field{Tag: TypeDouble, f64: v}
}

// NewDateField carries both the epoch representation and the canonical
// "YYYY-MM-DD HH:MM:SS" string, computed together at construction time.
func NewDateField(t time.Time) Field {
	return Field{Tag: TypeDate, str: t.UTC().Format(time.DateTime), epochSecs: t.UTC().Unix()}
}

// FieldFromDriverValue builds a Field from a database/sql scan target
// (sql.NullString-shaped: val, valid), given its declared type tag. This
// is how a driver row becomes a Field.
func FieldFromDriverValue(tag TypeTag, raw string, valid bool) (Field, error) {
	if !valid {
		return NewNullField(tag), nil
	}
	switch tag {
	case TypeString, TypeBlob, TypeXML:
		return NewStringField(tag, raw), nil
	case TypeInt, TypeLong:
		var v int64
		if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
			return Field{}, fmt.Errorf("field: cannot parse %q as %s: %w", raw, tag, err)
		}
		return Field{Tag: tag, i64: v}, nil
	case TypeULong:
		var v uint64
		if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
			return Field{}, fmt.Errorf("field: cannot parse %q as ULONG: %w", raw, err)
		}
		return Field{Tag: TypeULong, u64: v}, nil
	case TypeDouble:
		var v float64
		if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
			return Field{}, fmt.Errorf("field: cannot parse %q as DOUBLE: %w", raw, err)
		}
		return Field{Tag: TypeDouble, f64: v}, nil
	case TypeDate:
		t, err := parseDate(raw)
		if err != nil {
			return Field{}, err
		}
		return NewDateField(t), nil
	default:
		return Field{}, fmt.Errorf("field: undefined type tag for value %q", raw)
	}
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateTime, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("field: cannot parse %q as a date", raw)
}

// String renders the Field's textual representation, used for the MD5-tail
// comparison path and for logging. Null fields render as the empty string;
// callers that must distinguish null from "" consult IsNull directly.
func (f Field) String() string {
	if f.IsNull {
		return ""
	}
	switch f.Tag {
	case TypeString, TypeBlob, TypeXML, TypeDate:
		return f.str
	case TypeInt, TypeLong:
		return fmt.Sprintf("%d", f.i64)
	case TypeULong:
		return fmt.Sprintf("%d", f.u64)
	case TypeDouble:
		return fmt.Sprintf("%g", f.f64)
	default:
		return ""
	}
}

// EpochSeconds is only meaningful for TypeDate fields.
func (f Field) EpochSeconds() int64 { return f.epochSecs }

// AsInt, AsULong and AsDouble expose the typed payload for callers (notably
// KeyTable's columnar storage) that need to re-derive a Field's concrete
// value rather than round-trip through its string representation.
func (f Field) AsInt() int64       { return f.i64 }
func (f Field) AsULong() uint64    { return f.u64 }
func (f Field) AsDouble() float64  { return f.f64 }

// Compare implements Field's total order: nulls sort below any non-null,
// two nulls are equivalent, and fields of differing type tags are
// Unordered — a hard type mismatch the caller must treat as fatal.
func (a Field) Compare(b Field) Ordering {
	if a.Tag != b.Tag {
		return Unordered
	}
	if a.IsNull && b.IsNull {
		return Equivalent
	}
	if a.IsNull {
		return Less
	}
	if b.IsNull {
		return Greater
	}
	switch a.Tag {
	case TypeInt, TypeLong:
		return cmpInt64(a.i64, b.i64)
	case TypeULong:
		return cmpUint64(a.u64, b.u64)
	case TypeDouble:
		return cmpFloat64(a.f64, b.f64)
	case TypeDate:
		return cmpInt64(a.epochSecs, b.epochSecs)
	default: // STRING | BLOB | XML
		return cmpString(a.str, b.str)
	}
}

func cmpInt64(a, b int64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equivalent
	}
}

func cmpUint64(a, b uint64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equivalent
	}
}

func cmpFloat64(a, b float64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equivalent
	}
}

func cmpString(a, b string) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equivalent
	}
}
