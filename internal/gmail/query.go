package gmail

import "strings"

// Criteria holds the structured search fields a rule can set. Every field
// is optional; zero values are omitted from the built query.
//
// Field values are not validated here: malformed Gmail syntax surfaces
// when the query is executed remotely. A temporal lower bound is never
// part of a Criteria because the same built query is reused across
// scheduling runs with different lookback windows; callers append their
// own "after:" clause.
type Criteria struct {
	From     string
	To       string
	Subject  string
	Label    string
	Has      string // e.g. "attachment"
	Filename string
}

// BuildQuery joins the present fields with their keyword prefixes, in a
// fixed field order, into a single whitespace-normalized query string.
func (c Criteria) BuildQuery() string {
	var parts []string
	if c.From != "" {
		parts = append(parts, "from:"+c.From)
	}
	if c.To != "" {
		parts = append(parts, "to:"+c.To)
	}
	if c.Subject != "" {
		parts = append(parts, "subject:"+c.Subject)
	}
	if c.Label != "" {
		parts = append(parts, "label:"+c.Label)
	}
	if c.Has != "" {
		parts = append(parts, "has:"+c.Has)
	}
	if c.Filename != "" {
		parts = append(parts, "filename:"+c.Filename)
	}
	return strings.Join(parts, " ")
}
