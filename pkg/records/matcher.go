package records

import (
	"regexp"
	"strings"
)

// CompilePattern converts a domain pattern into an anchored, case-sensitive
// regular expression: every literal character (including '.') matches
// itself, and every '%' matches any sequence of zero or more characters,
// across label boundaries.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, "%", ".*")
	return regexp.Compile("^" + escaped + "$")
}

// Matches reports whether the record's domain pattern matches the query
// name. Inactive records never match. A pattern that fails to compile is
// treated as never-matching rather than an error, so a bad stored pattern
// cannot fail a query.
func (r *Record) Matches(queryName string) bool {
	if !r.Active {
		return false
	}
	re, err := CompilePattern(r.DomainPattern)
	if err != nil {
		return false
	}
	return re.MatchString(queryName)
}
