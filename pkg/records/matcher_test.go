package records

import "testing"

func activeRecord(pattern string) *Record {
	return &Record{
		ID:            1,
		DomainPattern: pattern,
		Type:          TypeA,
		Content:       "127.0.0.1",
		TTL:           60,
		Active:        true,
	}
}

func TestMatches_Exact(t *testing.T) {
	rec := activeRecord("app.local.test")

	if !rec.Matches("app.local.test") {
		t.Error("expected exact pattern to match its own name")
	}
	if rec.Matches("other.local.test") {
		t.Error("exact pattern should not match a different name")
	}
	if rec.Matches("app.local.test.extra") {
		t.Error("match must consume the entire query name")
	}
	if rec.Matches("prefix.app.local.test") {
		t.Error("match must be anchored at the start")
	}
}

func TestMatches_WildcardAbsorbsLabels(t *testing.T) {
	rec := activeRecord("%.local.test")

	for _, name := range []string{"app.local.test", "api.local.test", "anything.local.test", "a.b.local.test"} {
		if !rec.Matches(name) {
			t.Errorf("expected %%.local.test to match %q", name)
		}
	}

	// The wildcard absorbs zero or more characters but the literal dot
	// before "local" still has to be there.
	if rec.Matches("local.test") {
		t.Error("%.local.test should not match bare local.test")
	}
}

func TestMatches_DotIsLiteral(t *testing.T) {
	rec := activeRecord("app.local.test")

	if rec.Matches("appxlocalxtest") {
		t.Error("'.' in a pattern must match a literal dot, not any character")
	}
}

func TestMatches_CaseSensitive(t *testing.T) {
	rec := activeRecord("app.local.test")

	if rec.Matches("APP.LOCAL.TEST") {
		t.Error("matching is case-sensitive")
	}
}

func TestMatches_Inactive(t *testing.T) {
	rec := activeRecord("app.local.test")
	rec.Active = false

	if rec.Matches("app.local.test") {
		t.Error("inactive record must never match")
	}
}

func TestMatches_InteriorWildcard(t *testing.T) {
	rec := activeRecord("app.%.test")

	if !rec.Matches("app.local.test") {
		t.Error("interior wildcard should match")
	}
	if !rec.Matches("app.a.b.test") {
		t.Error("interior wildcard should absorb multiple labels")
	}
	if rec.Matches("app.test") {
		t.Error("surrounding literal dots are required")
	}
}

func TestCompilePattern_EscapesMetacharacters(t *testing.T) {
	// Regex metacharacters other than '%' are literals in a domain pattern.
	rec := activeRecord("a+b.local.test")

	if rec.Matches("aab.local.test") {
		t.Error("'+' must be treated literally, not as a regex quantifier")
	}
	if !rec.Matches("a+b.local.test") {
		t.Error("literal '+' should match itself")
	}
}
