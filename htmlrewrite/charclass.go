package htmlrewrite

import "unicode"

// isHtmlNameDelim reports whether r ends an HTML tag or attribute name:
// whitespace, '>', '=', '/', NUL, quotes, or a Unicode control character.
func isHtmlNameDelim(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '>', '=', '/', 0, '"', '\'':
		return true
	}
	return unicode.Is(unicode.Cc, r)
}

// isHtmlNameInvalid reports whether r is one of the characters that are
// illegal inside a name rather than merely terminating it.
func isHtmlNameInvalid(r rune) bool {
	return r == 0 || r == '\'' || r == '"'
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

// isUnquotedAttrValueDelim reports whether r ends an unquoted attribute
// value: whitespace or '>'.
func isUnquotedAttrValueDelim(r rune) bool {
	return isWhitespace(r) || r == '>'
}

// isUnquotedAttrValueIllegal reports whether r may never appear in an
// unquoted attribute value.
func isUnquotedAttrValueIllegal(r rune) bool {
	switch r {
	case '<', '\'', '"', '`':
		return true
	}
	return false
}
