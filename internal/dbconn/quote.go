package dbconn

import "strings"

// quoteIdent backtick-quotes a table or column identifier, MySQL style.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// nullSentinel is the literal character substituted for NULL inside the
// MD5 payload.
const nullSentinel = "∅"

// md5ColumnAlias is the fixed alias for the MD5 projection.
const md5ColumnAlias = "#MD5@CHECK#"

// md5Expr builds `MD5(CONCAT(COALESCE(`c1`,'∅'),...)) AS `#MD5@CHECK#``
// over the given non-key column names.
func md5Expr(nonKeyCols []string) string {
	var b strings.Builder
	b.WriteString("MD5(CONCAT(")
	for i, c := range nonKeyCols {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("COALESCE(")
		b.WriteString(quoteIdent(c))
		b.WriteString(",'")
		b.WriteString(nullSentinel)
		b.WriteString("')")
	}
	b.WriteString(")) AS `")
	b.WriteString(md5ColumnAlias)
	b.WriteString("`")
	return b.String()
}
