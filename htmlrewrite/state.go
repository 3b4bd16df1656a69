// Package htmlrewrite implements the HtmlRewriter: a pass that scans the
// raw-text character stream of a template's pcdata/attributes content and
// rewrites it into a structured HTML subtree (open tags, attributes, close
// tags), validating that tags/attributes opened in one control-flow branch
// are also closed in it.
//
// The scan uses an explicit state enum rather than state functions:
// states must be snapshotted, reconciled across branches, and resumed
// mid-node rather than run to completion in one pass.
package htmlrewrite

import "github.com/tplforge/soycore/ast"

// State is one node of the contextual HTML lexer's state machine.
type State int

const (
	None State = iota
	Pcdata
	RcdataScript
	RcdataStyle
	RcdataTitle
	RcdataTextarea
	HtmlComment
	Cdata
	XmlDeclaration
	SingleQuotedXmlAttrValue
	DoubleQuotedXmlAttrValue
	HtmlTagName
	AfterAttributeName
	BeforeAttributeValue
	SingleQuotedAttrValue
	DoubleQuotedAttrValue
	UnquotedAttrValue
	AfterTagNameOrAttribute
	BeforeAttributeName
)

var stateNames = map[State]string{
	None:                     "None",
	Pcdata:                   "Pcdata",
	RcdataScript:             "RcdataScript",
	RcdataStyle:              "RcdataStyle",
	RcdataTitle:              "RcdataTitle",
	RcdataTextarea:           "RcdataTextarea",
	HtmlComment:              "HtmlComment",
	Cdata:                    "Cdata",
	XmlDeclaration:           "XmlDeclaration",
	SingleQuotedXmlAttrValue: "SingleQuotedXmlAttrValue",
	DoubleQuotedXmlAttrValue: "DoubleQuotedXmlAttrValue",
	HtmlTagName:              "HtmlTagName",
	AfterAttributeName:       "AfterAttributeName",
	BeforeAttributeValue:     "BeforeAttributeValue",
	SingleQuotedAttrValue:    "SingleQuotedAttrValue",
	DoubleQuotedAttrValue:    "DoubleQuotedAttrValue",
	UnquotedAttrValue:        "UnquotedAttrValue",
	AfterTagNameOrAttribute:  "AfterTagNameOrAttribute",
	BeforeAttributeName:      "BeforeAttributeName",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "State(?)"
}

// InTag reports whether s is within a tag but outside an attribute value.
func (s State) InTag() bool {
	switch s {
	case AfterAttributeName, AfterTagNameOrAttribute, BeforeAttributeName:
		return true
	}
	return false
}

// InvalidEndOfBlock reports whether a block may not legally end while in
// state s: BeforeAttributeValue means an attribute name and '=' were seen
// with no value yet supplied.
func (s State) InvalidEndOfBlock() bool {
	return s == BeforeAttributeValue
}

// initialState picks the starting state for a block of the given content
// kind. Only html and attributes content is rewritten; every other kind
// stays in None and passes through untouched.
func initialState(kind ast.ContentKind) State {
	switch kind {
	case ast.KindHTML:
		return Pcdata
	case ast.KindAttributes:
		return BeforeAttributeName
	default:
		return None
	}
}

// rcdataStateFor returns the rcdata state entered after a non-self-closing
// open tag named name, or Pcdata if name isn't an rcdata-triggering element.
func rcdataStateFor(name string) State {
	switch lowerASCII(name) {
	case "script":
		return RcdataScript
	case "style":
		return RcdataStyle
	case "title":
		return RcdataTitle
	case "textarea":
		return RcdataTextarea
	}
	return Pcdata
}

func rcdataCloseTagName(s State) string {
	switch s {
	case RcdataScript:
		return "script"
	case RcdataStyle:
		return "style"
	case RcdataTitle:
		return "title"
	case RcdataTextarea:
		return "textarea"
	}
	return ""
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
