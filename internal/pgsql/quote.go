package pgsql

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// QuoteIdentifier quotes s the way PostgreSQL's quote_ident does: a name made
// of lowercase letters, digits and underscores that does not start with a
// digit and is not a reserved keyword is left alone, anything else is
// double-quoted with embedded quotes doubled.
func QuoteIdentifier(s string) string {
	if needsQuoting(s) {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// QuoteQualified returns schema.name with both parts quoted as needed.
func QuoteQualified(schema, name string) string {
	if schema == "" {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

func needsQuoting(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return true
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
			return true
		}
	}
	return isKeyword(s)
}

// isKeyword reports whether s scans as a keyword that cannot be used as a
// bare column name.
func isKeyword(s string) bool {
	res, err := pg_query.Scan(s)
	if err != nil || len(res.GetTokens()) != 1 {
		return true
	}
	switch res.GetTokens()[0].GetKeywordKind() {
	case pg_query.KeywordKind_NO_KEYWORD, pg_query.KeywordKind_UNRESERVED_KEYWORD:
		return false
	}
	return true
}
