package types

// Row is an ordered sequence of Fields whose length equals the column
// count of the table it was loaded from, or that count plus one when an
// MD5 tail is appended.
type Row struct {
	Fields []Field
	HasMD5 bool // true if Fields[len(Fields)-1] is the "#MD5@CHECK#" tail
}

// NonTailLen is the number of Fields that participate in ordering/equality,
// excluding a trailing MD5 tail if present.
func (r Row) NonTailLen() int {
	if r.HasMD5 {
		return len(r.Fields) - 1
	}
	return len(r.Fields)
}

// MD5Tail returns the trailing MD5 field's textual value, or "" if absent.
func (r Row) MD5Tail() string {
	if !r.HasMD5 || len(r.Fields) == 0 {
		return ""
	}
	return r.Fields[len(r.Fields)-1].String()
}

// Compare is lexicographic over the non-tail fields, matching RowBatch's
// row ordering contract.
func (a Row) Compare(b Row) Ordering {
	n := a.NonTailLen()
	if m := b.NonTailLen(); m < n {
		n = m
	}
	for i := 0; i < n; i++ {
		if o := a.Fields[i].Compare(b.Fields[i]); o != Equivalent {
			return o
		}
	}
	switch {
	case a.NonTailLen() < b.NonTailLen():
		return Less
	case a.NonTailLen() > b.NonTailLen():
		return Greater
	default:
		return Equivalent
	}
}

// Rotate cyclically shifts the first k fields of the row to the end.
// Every field moves alike: an MD5 tail, if present, is not treated
// specially and no longer sits last after the shift. It returns a new
// Fields slice; the Row itself is not mutated in place.
func Rotate(fields []Field, k int) []Field {
	if k <= 0 || k >= len(fields) {
		out := make([]Field, len(fields))
		copy(out, fields)
		return out
	}
	out := make([]Field, 0, len(fields))
	out = append(out, fields[k:]...)
	out = append(out, fields[:k]...)
	return out
}
