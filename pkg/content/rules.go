package content

import "strings"

// Rule is an allow-list entry for persisting bodies. Pattern is either an
// exact media type ("text/xml") or a prefix wildcard ending in "*" ("text/*").
type Rule struct {
	Pattern         string `koanf:"pattern" json:"pattern"`
	DefaultEncoding string `koanf:"default_encoding" json:"default_encoding"`
}

func (r Rule) isWildcard() bool {
	return strings.HasSuffix(r.Pattern, "*")
}

// Rules is an ordered content type allow-list.
type Rules []Rule

// DefaultRules mirrors the content types persisted out of the box.
func DefaultRules() Rules {
	return Rules{
		{Pattern: "application/json", DefaultEncoding: "utf-8"},
		{Pattern: "application/soap+xml", DefaultEncoding: "utf-8"},
		{Pattern: "application/xml", DefaultEncoding: "utf-8"},
		{Pattern: "text/xml", DefaultEncoding: "iso-8859-1"},
		{Pattern: "text/*", DefaultEncoding: "utf-8"},
	}
}

// CheckContentType reports whether bodies of contentType may be persisted.
// Exact patterns are checked first, then wildcard prefixes. An empty list
// allows nothing.
func (rs Rules) CheckContentType(contentType string) bool {
	_, ok := rs.match(contentType)
	return ok
}

// DefaultEncoding returns the configured encoding for contentType, or "" when
// no rule matches.
func (rs Rules) DefaultEncoding(contentType string) string {
	rule, ok := rs.match(contentType)
	if !ok {
		return ""
	}
	return rule.DefaultEncoding
}

func (rs Rules) match(contentType string) (Rule, bool) {
	for _, rule := range rs {
		if !rule.isWildcard() && rule.Pattern == contentType {
			return rule, true
		}
	}

	for _, rule := range rs {
		if rule.isWildcard() && strings.HasPrefix(contentType, strings.TrimSuffix(rule.Pattern, "*")) {
			return rule, true
		}
	}

	return Rule{}, false
}
