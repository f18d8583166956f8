package types

import "testing"

func TestFieldCompareOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b Field
		want Ordering
	}{
		{"equal ints", NewIntField(5), NewIntField(5), Equivalent},
		{"less ints", NewIntField(3), NewIntField(5), Less},
		{"greater ints", NewIntField(9), NewIntField(5), Greater},
		{"null below non-null", NewNullField(TypeLong), NewLongField(1), Less},
		{"non-null above null", NewLongField(1), NewNullField(TypeLong), Greater},
		{"two nulls equivalent", NewNullField(TypeString), NewNullField(TypeString), Equivalent},
		{"string order", NewStringField(TypeString, "abc"), NewStringField(TypeString, "abd"), Less},
		{"ulong order", NewULongField(1), NewULongField(2), Less},
		{"double order", NewDoubleField(1.5), NewDoubleField(1.2), Greater},
		{"mismatched tags unordered", NewIntField(1), NewStringField(TypeString, "1"), Unordered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFieldFromDriverValueNull(t *testing.T) {
	f, err := FieldFromDriverValue(TypeLong, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.IsNull {
		t.Errorf("expected null field, got %v", f)
	}
}

func TestFieldFromDriverValueTypes(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		raw  string
		want string
	}{
		{TypeLong, "42", "42"},
		{TypeULong, "18446744073709551615", "18446744073709551615"},
		{TypeDouble, "3.14", "3.14"},
		{TypeString, "hello", "hello"},
		{TypeDate, "2024-01-02 03:04:05", "2024-01-02 03:04:05"},
	}
	for _, tt := range tests {
		f, err := FieldFromDriverValue(tt.tag, tt.raw, true)
		if err != nil {
			t.Fatalf("FieldFromDriverValue(%v, %q): %v", tt.tag, tt.raw, err)
		}
		if got := f.String(); got != tt.want {
			t.Errorf("FieldFromDriverValue(%v, %q).String() = %q, want %q", tt.tag, tt.raw, got, tt.want)
		}
	}
}

func TestFieldFromDriverValueBadInt(t *testing.T) {
	if _, err := FieldFromDriverValue(TypeLong, "not-a-number", true); err == nil {
		t.Errorf("expected an error parsing a non-numeric LONG value")
	}
}
