package types

import "testing"

func TestRowMD5Tail(t *testing.T) {
	r := Row{Fields: []Field{NewIntField(1), NewStringField(TypeString, "deadbeef")}, HasMD5: true}
	if r.NonTailLen() != 1 {
		t.Errorf("NonTailLen() = %d, want 1", r.NonTailLen())
	}
	if got := r.MD5Tail(); got != "deadbeef" {
		t.Errorf("MD5Tail() = %q, want %q", got, "deadbeef")
	}
}

func TestRowCompareIgnoresTail(t *testing.T) {
	a := Row{Fields: []Field{NewIntField(1), NewStringField(TypeString, "aaa")}, HasMD5: true}
	b := Row{Fields: []Field{NewIntField(1), NewStringField(TypeString, "zzz")}, HasMD5: true}
	if got := a.Compare(b); got != Equivalent {
		t.Errorf("Compare() = %v, want Equivalent (tail must not participate)", got)
	}
}

func TestRotate(t *testing.T) {
	fields := []Field{NewIntField(1), NewIntField(2), NewStringField(TypeString, "x"), NewStringField(TypeString, "y")}
	rotated := Rotate(fields, 2)
	if len(rotated) != 4 {
		t.Fatalf("Rotate() length = %d, want 4", len(rotated))
	}
	if rotated[0].String() != "x" || rotated[1].String() != "y" {
		t.Errorf("Rotate() non-key prefix = [%s %s], want [x y]", rotated[0].String(), rotated[1].String())
	}
	if rotated[2].String() != "1" || rotated[3].String() != "2" {
		t.Errorf("Rotate() key suffix = [%s %s], want [1 2]", rotated[2].String(), rotated[3].String())
	}
}

func TestRotateNoOpWhenKOutOfRange(t *testing.T) {
	fields := []Field{NewIntField(1), NewIntField(2)}
	if got := Rotate(fields, 0); got[0].String() != "1" || got[1].String() != "2" {
		t.Errorf("Rotate(fields, 0) should be a no-op copy, got %v", got)
	}
	if got := Rotate(fields, 5); got[0].String() != "1" || got[1].String() != "2" {
		t.Errorf("Rotate(fields, 5) should be a no-op copy when k >= len, got %v", got)
	}
}
