package htmlrewrite

import (
	"unicode/utf8"

	"github.com/tplforge/soycore/ast"
)

// scanner walks one RawTextNode's text rune by rune, driving ctx through
// the state machine and appending finished structural nodes (tags,
// attributes, attribute values) to the block's output. The state lives in
// blockContext rather than the scanner itself because it must be
// snapshottable and resumable across interspersed non-text nodes and branch
// reconciliation points.
type scanner struct {
	rt   *ast.RawTextNode
	text string
	pos  int // byte offset into text

	lastFlush int // start of the pending literal-text span not yet emitted

	ctx *blockContext
	w   *walker
}

func newScanner(rt *ast.RawTextNode, ctx *blockContext, w *walker) *scanner {
	return &scanner{rt: rt, text: rt.Text, ctx: ctx, w: w}
}

// flush emits text[lastFlush:upto] as a literal RawTextNode into the
// block's output, if non-empty, and advances lastFlush past it. Called
// right before a real tag starts (the bytes before '<' are plain content)
// and at end-of-scan when no tag is left dangling; comment/CDATA/XML-
// declaration/rcdata spans are never flushed early, so their bytes stay
// pending and are emitted verbatim along with the content around them.
func (s *scanner) flush(upto int) {
	if upto > s.lastFlush {
		node := s.rt.Substring(s.w.nextId(), s.lastFlush, upto)
		s.ctx.out = append(s.ctx.out, node)
	}
	s.lastFlush = upto
}

func (s *scanner) eof() bool { return s.pos >= len(s.text) }

func (s *scanner) peekAt(off int) (rune, int) {
	if s.pos+off >= len(s.text) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(s.text[s.pos+off:])
}

func (s *scanner) peek() rune {
	r, _ := s.peekAt(0)
	return r
}

func (s *scanner) point() ast.Point { return s.rt.LocationOf(s.pos) }

func (s *scanner) advance() rune {
	r, w := utf8.DecodeRuneInString(s.text[s.pos:])
	s.pos += w
	return r
}

func (s *scanner) hasPrefixFold(prefix string) bool {
	if s.pos+len(prefix) > len(s.text) {
		return false
	}
	return lowerASCII(s.text[s.pos:s.pos+len(prefix)]) == lowerASCII(prefix)
}

func (s *scanner) hasPrefix(prefix string) bool {
	return s.pos+len(prefix) <= len(s.text) && s.text[s.pos:s.pos+len(prefix)] == prefix
}

// scanFuncs dispatches each state to the function that consumes input in
// it. A nil entry (None) consumes nothing: that content kind is never
// rewritten.
var scanFuncs = [BeforeAttributeName + 1]func(*scanner){
	Pcdata:                   (*scanner).scanPcdata,
	RcdataScript:             (*scanner).scanRcdata,
	RcdataStyle:              (*scanner).scanRcdata,
	RcdataTitle:              (*scanner).scanRcdata,
	RcdataTextarea:           (*scanner).scanRcdata,
	HtmlComment:              func(s *scanner) { s.scanUntil("-->", Pcdata) },
	Cdata:                    func(s *scanner) { s.scanUntil("]]>", Pcdata) },
	XmlDeclaration:           (*scanner).scanXmlDeclaration,
	SingleQuotedXmlAttrValue: func(s *scanner) { s.scanUntilRune('\'', XmlDeclaration) },
	DoubleQuotedXmlAttrValue: func(s *scanner) { s.scanUntilRune('"', XmlDeclaration) },
	HtmlTagName:              (*scanner).scanTagName,
	AfterAttributeName:       (*scanner).scanAfterAttributeName,
	BeforeAttributeValue:     (*scanner).scanBeforeAttributeValue,
	SingleQuotedAttrValue:    func(s *scanner) { s.scanQuotedAttrValue('\'') },
	DoubleQuotedAttrValue:    func(s *scanner) { s.scanQuotedAttrValue('"') },
	UnquotedAttrValue:        (*scanner).scanUnquotedAttrValue,
	AfterTagNameOrAttribute:  (*scanner).scanAfterTagNameOrAttribute,
	BeforeAttributeName:      (*scanner).scanBeforeAttributeName,
}

// consumesStructurally reports whether bytes scanned in state s become
// structure (tag names, attributes, values) rather than literal text; after
// scanning in one of these the pending flush span must skip past the
// consumed bytes.
func consumesStructurally(s State) bool {
	switch s {
	case HtmlTagName, AfterTagNameOrAttribute, BeforeAttributeName,
		AfterAttributeName, BeforeAttributeValue, SingleQuotedAttrValue,
		DoubleQuotedAttrValue, UnquotedAttrValue:
		return true
	}
	return false
}

// run scans as much of s.text as the current state machine will consume,
// stopping at EOF (the caller advances to the next sibling node, if any,
// and resumes scanning into it by constructing a fresh scanner sharing the
// same ctx).
func (s *scanner) run() {
	for !s.eof() {
		st := s.ctx.state
		fn := scanFuncs[st]
		if fn == nil {
			return
		}
		fn(s)
		if consumesStructurally(st) {
			s.lastFlush = s.pos
		}
	}
}

func (s *scanner) scanPcdata() {
	for !s.eof() {
		if s.peek() != '<' {
			s.advance()
			continue
		}
		startPoint := s.point()
		switch {
		case s.hasPrefix("<!--"):
			s.pos += 4
			s.ctx.setState(HtmlComment, startPoint)
			return
		case s.hasPrefixFold("<![cdata["):
			s.pos += len("<![CDATA[")
			s.ctx.setState(Cdata, startPoint)
			return
		case s.hasPrefix("<!") || s.hasPrefix("<?"):
			s.pos++
			s.ctx.setState(XmlDeclaration, startPoint)
			return
		default:
			tagStart := s.pos
			s.advance() // '<'
			closeTag := false
			if s.peek() == '/' {
				s.advance()
				closeTag = true
			}
			if isWhitespace(s.peek()) {
				// Assume it wasn't the start of a tag; the '<' stays
				// pending and is emitted as literal text.
				s.w.errs.Report(locAt(s.rt, startPoint), ast.UnexpectedWsAfterLt, "unexpected whitespace after '<'")
				s.ctx.setState(Pcdata, startPoint)
				return
			}
			if s.ctx.startingState != Pcdata {
				s.w.raiseAbort(locAt(s.rt, startPoint), ast.BlockTransitionDisallowed,
					"cannot start a tag inside a block that does not begin in pcdata")
			}
			s.flush(tagStart)
			s.ctx.tag = &tagInProgress{startPoint: startPoint, startNode: s.rt, closeTag: closeTag}
			s.ctx.setState(HtmlTagName, startPoint)
			return
		}
	}
}

func (s *scanner) scanTagName() {
	start := s.pos
	for !s.eof() {
		r := s.peek()
		if isHtmlNameDelim(r) {
			break
		}
		s.advance()
	}
	name := s.text[start:s.pos]
	if name == "" && !s.eof() && s.ctx.tag != nil && s.ctx.tag.name == "" {
		r := s.peek()
		if isHtmlNameInvalid(r) {
			s.w.errs.Report(locAt(s.rt, s.point()), ast.InvalidIdentifier, "invalid character %q in tag name", r)
			s.advance()
		} else {
			// We ran straight into a delimiter like '>' or '='.
			s.w.errs.Report(locAt(s.rt, s.point()), ast.GenericUnexpectedChar, "expected an html tag name")
			name = "$parse-error$"
		}
	}
	if s.ctx.tag != nil && name != "" {
		// += rather than =: a tag name can be spelled across two adjacent
		// raw-text runs.
		s.ctx.tag.name += name
	}
	if s.eof() {
		return // name continues in a later sibling raw text node
	}
	s.ctx.setState(AfterTagNameOrAttribute, s.point())
}

// atJoinedWhitespace reports whether the scanner currently sits at a point
// where two raw-text runs were joined with intervening whitespace stripped.
// Only three states react to this; every other state is a no-op.
func (s *scanner) atJoinedWhitespace() bool {
	return s.rt.MissingWhitespaceAt(s.pos)
}

func (s *scanner) scanAfterTagNameOrAttribute() {
	if s.atJoinedWhitespace() {
		s.ctx.setState(BeforeAttributeName, s.point())
		return
	}
	if s.eof() {
		return
	}
	r := s.peek()
	switch {
	case isWhitespace(r):
		s.advance()
		s.ctx.setState(BeforeAttributeName, s.point())
	case r == '/':
		// possible self-closing
		if nr, _ := s.peekAt(1); nr == '>' {
			at := s.point()
			s.advance()
			s.advance()
			s.finishTag(true, at)
		} else {
			s.w.errs.Report(locAt(s.rt, s.point()), ast.ExpectedWsOrCloseAfterTagOrAttribute, "expected whitespace or '>' after tag name or attribute")
			s.advance()
			s.ctx.setState(BeforeAttributeName, s.point())
		}
	case r == '>':
		at := s.point()
		s.advance()
		s.finishTag(false, at)
	default:
		s.w.errs.Report(locAt(s.rt, s.point()), ast.ExpectedWsOrCloseAfterTagOrAttribute, "expected whitespace or '>' after tag name or attribute")
		s.ctx.setState(BeforeAttributeName, s.point())
	}
}

func (s *scanner) scanBeforeAttributeName() {
	for !s.eof() && isWhitespace(s.peek()) {
		s.advance()
	}
	if s.eof() {
		return
	}
	if s.peek() == '>' {
		at := s.point()
		s.advance()
		s.finishTag(false, at)
		return
	}
	if s.peek() == '/' {
		if nr, _ := s.peekAt(1); nr == '>' {
			at := s.point()
			s.advance()
			s.advance()
			s.finishTag(true, at)
			return
		}
	}
	start := s.pos
	startPoint := s.point()
	for !s.eof() && !isHtmlNameDelim(s.peek()) {
		s.advance()
	}
	name := s.text[start:s.pos]
	if name == "" {
		if !s.eof() {
			r := s.peek()
			if isHtmlNameInvalid(r) {
				s.w.errs.Report(locAt(s.rt, startPoint), ast.InvalidIdentifier, "invalid character %q in attribute name", r)
			} else {
				s.w.errs.Report(locAt(s.rt, startPoint), ast.GenericUnexpectedChar, "expected an attribute name, found %q", r)
			}
			s.advance()
		}
		return
	}
	if s.ctx.startingState == BeforeAttributeValue {
		s.w.raiseAbort(locAt(s.rt, startPoint), ast.BlockTransitionDisallowed,
			"cannot start an attribute inside a block that begins before an attribute value")
	}
	s.maybeFinishPendingAttribute()
	nameNode := ast.NewRawTextNode(s.w.nextId(), locAt(s.rt, startPoint), name)
	s.ctx.attr = &attrInProgress{nameNode: nameNode}
	if s.eof() {
		return // name continues in next sibling
	}
	s.ctx.setState(AfterAttributeName, s.point())
}

func (s *scanner) scanAfterAttributeName() {
	if s.atJoinedWhitespace() && (s.eof() || (!isWhitespace(s.peek()) && s.peek() != '=')) {
		s.maybeFinishPendingAttribute()
		s.ctx.setState(BeforeAttributeName, s.point())
		return
	}
	for !s.eof() && isWhitespace(s.peek()) {
		s.advance()
	}
	if s.eof() {
		return
	}
	if s.peek() == '=' {
		loc := locAt(s.rt, s.point())
		if s.ctx.attr == nil || s.ctx.attr.nameNode == nil {
			// the attribute name lives in another block
			s.w.raiseAbort(loc, ast.FoundEqWithAttributeInAnotherBlock,
				"found '=' for an attribute that was started in another block")
		}
		s.advance()
		s.ctx.attr.eqLoc = &loc
		s.ctx.setState(BeforeAttributeValue, s.point())
		return
	}
	s.maybeFinishPendingAttribute()
	if isWhitespace(s.peek()) {
		s.ctx.setState(BeforeAttributeName, s.point())
	} else {
		s.ctx.setState(AfterTagNameOrAttribute, s.point())
	}
}

func (s *scanner) scanBeforeAttributeValue() {
	for !s.eof() && isWhitespace(s.peek()) {
		s.advance()
	}
	if s.eof() {
		return
	}
	if s.ctx.attr == nil {
		// A branch resuming directly before an attribute value: no name was
		// read in this block, so this placeholder only accumulates the
		// value; the enclosing block owns the attribute itself.
		s.ctx.attr = &attrInProgress{}
	}
	startPoint := s.point()
	switch s.peek() {
	case '"':
		s.advance()
		s.ctx.attr.quote = ast.QuoteDouble
		s.ctx.attr.quoteAt = startPoint
		s.ctx.setState(DoubleQuotedAttrValue, startPoint)
	case '\'':
		s.advance()
		s.ctx.attr.quote = ast.QuoteSingle
		s.ctx.attr.quoteAt = startPoint
		s.ctx.setState(SingleQuotedAttrValue, startPoint)
	default:
		s.ctx.attr.quote = ast.QuoteNone
		s.ctx.attr.quoteAt = startPoint
		s.ctx.setState(UnquotedAttrValue, startPoint)
	}
}

func (s *scanner) scanQuotedAttrValue(quote rune) {
	start := s.pos
	for !s.eof() {
		if s.peek() == quote {
			if start < s.pos {
				s.appendAttrValuePart(start, s.pos)
			}
			quotePoint := s.point()
			s.advance()
			s.finishQuotedValue(quotePoint)
			s.ctx.setState(AfterTagNameOrAttribute, s.point())
			return
		}
		s.advance()
	}
	if start < s.pos {
		s.appendAttrValuePart(start, s.pos)
	}
}

// finishQuotedValue handles the closing quote of a quoted attribute value.
// The quote must have been opened in this block: a bare closing quote means
// the value was started in another block, which can never be stitched back
// together.
func (s *scanner) finishQuotedValue(at ast.Point) {
	a := s.ctx.attr
	if a == nil {
		s.w.raiseAbort(locAt(s.rt, at), ast.FoundEndOfAttributeStartedInAnotherBlock,
			"found the end of an attribute value that was started in another block")
	}
	if a.nameNode == nil {
		// Placeholder: the completed quoted value stands alone in this
		// block's body; the enclosing block owns the attribute.
		valueNode := &ast.HtmlAttributeValueNode{
			NodeBase: ast.NodeBase{NodeId: s.w.nextId(), Loc: locAt(s.rt, a.quoteAt)},
			Quote:    a.quote,
			Parts:    a.valueParts,
		}
		s.ctx.out = append(s.ctx.out, valueNode)
		s.ctx.resetAttribute()
		return
	}
	s.finishAttribute()
}

func (s *scanner) scanUnquotedAttrValue() {
	start := s.pos
	for !s.eof() {
		if s.atJoinedWhitespace() {
			if start < s.pos {
				s.appendAttrValuePart(start, s.pos)
			}
			s.finishUnquotedValue(s.point())
			s.ctx.setState(BeforeAttributeName, s.point())
			return
		}
		r := s.peek()
		if isUnquotedAttrValueDelim(r) {
			break
		}
		if isUnquotedAttrValueIllegal(r) {
			if start < s.pos {
				s.appendAttrValuePart(start, s.pos)
			}
			s.w.errs.Report(locAt(s.rt, s.point()), ast.IllegalHtmlAttributeCharacter, "illegal character %q in unquoted attribute value", r)
			s.advance()
			start = s.pos
			continue
		}
		s.advance()
	}
	if start < s.pos {
		s.appendAttrValuePart(start, s.pos)
	}
	if s.eof() {
		return
	}
	s.finishUnquotedValue(s.point())
	if s.peek() == '>' {
		at := s.point()
		s.advance()
		s.finishTag(false, at)
	} else {
		s.ctx.setState(BeforeAttributeName, s.point())
	}
}

// finishUnquotedValue closes an unquoted attribute value at a delimiter.
func (s *scanner) finishUnquotedValue(at ast.Point) {
	a := s.ctx.attr
	switch {
	case a == nil:
		// The value and its attribute belong to an enclosing block; parts
		// scanned here already flowed to the block's output. If nothing at
		// all was contributed, this block is just terminating someone
		// else's attribute.
		if !s.ctx.sawValuePart {
			s.w.raiseAbort(locAt(s.rt, at), ast.FoundEndOfAttributeStartedInAnotherBlock,
				"found the end of an attribute value that was started in another block")
		}
		s.ctx.sawValuePart = false
	case a.nameNode == nil:
		if !a.haveValue {
			s.w.raiseAbort(locAt(s.rt, at), ast.FoundEndOfAttributeStartedInAnotherBlock,
				"found the end of an attribute value that was started in another block")
		}
		valueNode := &ast.HtmlAttributeValueNode{
			NodeBase: ast.NodeBase{NodeId: s.w.nextId(), Loc: locAt(s.rt, a.quoteAt)},
			Quote:    ast.QuoteNone,
			Parts:    a.valueParts,
		}
		s.ctx.out = append(s.ctx.out, valueNode)
		s.ctx.resetAttribute()
	case !a.haveValue:
		s.w.errs.Report(locAt(s.rt, at), ast.ExpectedAttributeValue, "expected an attribute value after '='")
		s.ctx.resetAttribute()
	default:
		s.finishAttribute()
	}
}

func (s *scanner) scanUntil(marker string, next State) {
	for !s.eof() {
		if s.hasPrefix(marker) {
			s.pos += len(marker)
			s.ctx.setState(next, s.point())
			return
		}
		s.advance()
	}
}

func (s *scanner) scanUntilRune(r rune, next State) {
	for !s.eof() {
		if s.advance() == r {
			s.ctx.setState(next, s.point())
			return
		}
	}
}

func (s *scanner) scanXmlDeclaration() {
	for !s.eof() {
		switch s.peek() {
		case '"':
			s.advance()
			s.ctx.setState(DoubleQuotedXmlAttrValue, s.point())
			return
		case '\'':
			s.advance()
			s.ctx.setState(SingleQuotedXmlAttrValue, s.point())
			return
		case '>':
			s.advance()
			s.ctx.setState(Pcdata, s.point())
			return
		default:
			s.advance()
		}
	}
}

// scanRcdata looks for a case-insensitive "</tagname" close sequence
// without consuming it, so the close tag itself is parsed normally by
// Pcdata afterward. The name must be followed by a delimiter: "</scripts"
// does not end a script element.
func (s *scanner) scanRcdata() {
	closeName := rcdataCloseTagName(s.ctx.state)
	needle := "</" + closeName
	for !s.eof() {
		if s.hasPrefixFold(needle) {
			if r, w := s.peekAt(len(needle)); w == 0 || isHtmlNameDelim(r) {
				s.ctx.setState(Pcdata, s.point())
				return
			}
		}
		s.advance()
	}
}

// appendAttrValuePart adds text[start:end] as one part of the attribute
// value currently being accumulated.
func (s *scanner) appendAttrValuePart(start, end int) {
	node := s.rt.Substring(s.w.nextId(), start, end)
	a := s.ctx.attr
	if a == nil {
		// The value belongs to an enclosing block; the content becomes this
		// block's own output and the enclosing block attaches the whole
		// control-flow node as one of the real attribute's value parts.
		s.ctx.out = append(s.ctx.out, node)
		s.ctx.sawValuePart = true
		return
	}
	a.valueParts = append(a.valueParts, node)
	a.haveValue = true
}

// maybeFinishPendingAttribute completes the attribute currently in
// progress, if any, before a new attribute or the end of the tag takes
// over.
func (s *scanner) maybeFinishPendingAttribute() {
	if s.ctx.attr != nil && s.ctx.attr.nameNode != nil {
		s.finishAttribute()
	}
}

// finishAttribute completes the in-progress named attribute into an
// HtmlAttributeNode and attaches it to the in-progress tag. A block of
// content kind "attributes" has no enclosing HtmlOpenTagNode of its own;
// finished attributes become direct members of the block's output instead
// of a tag's children.
func (s *scanner) finishAttribute() {
	a := s.ctx.attr
	var valueNode *ast.HtmlAttributeValueNode
	if a.haveValue || a.quote != ast.QuoteNone {
		loc := locAt(s.rt, a.quoteAt)
		valueNode = &ast.HtmlAttributeValueNode{
			NodeBase: ast.NodeBase{NodeId: s.w.nextId(), Loc: loc},
			Quote:    a.quote,
			Parts:    a.valueParts,
		}
	}
	attrNode := &ast.HtmlAttributeNode{
		NodeBase:  ast.NodeBase{NodeId: s.w.nextId(), Loc: a.nameNode.Location()},
		EqualsLoc: a.eqLoc,
		Name:      a.nameNode,
		Value:     valueNode,
	}
	if s.ctx.tag != nil {
		s.ctx.tag.directChildren = append(s.ctx.tag.directChildren, attrNode)
	} else {
		s.ctx.out = append(s.ctx.out, attrNode)
	}
	s.ctx.resetAttribute()
}

// finishTag completes the in-progress tag into an HtmlOpenTagNode or
// HtmlCloseTagNode and decides the next state by tag identity. at is the
// position of the '>' (or the '/' of '/>'). A '>' with no tag in progress
// is trying to finish a tag that was started in another block, which is
// never allowed.
func (s *scanner) finishTag(selfClosing bool, at ast.Point) {
	t := s.ctx.tag
	if t == nil {
		s.w.raiseAbort(locAt(s.rt, at), ast.FoundEndTagStartedInAnotherBlock,
			"found the end of a tag that was started in another block")
	}
	s.maybeFinishPendingAttribute()
	tagName := ast.TagName{Literal: t.name, Expr: t.nameExpr}
	if t.closeTag {
		if selfClosing {
			s.w.errs.Report(locAt(s.rt, at), ast.SelfClosingCloseTag, "close tag %q may not be self-closing", t.name)
		}
		if len(t.directChildren) > 0 {
			s.w.errs.Report(locAt(s.rt, at), ast.UnexpectedCloseTagContent, "close tag %q may not contain attributes", t.name)
		}
		node := &ast.HtmlCloseTagNode{
			NodeBase: ast.NodeBase{NodeId: s.w.nextId(), Loc: locAt(s.rt, t.startPoint)},
			TagName:  tagName,
		}
		s.ctx.out = append(s.ctx.out, node)
		s.ctx.reset()
		s.lastFlush = s.pos
		s.ctx.setState(Pcdata, s.point())
		return
	}

	node := &ast.HtmlOpenTagNode{
		NodeBase:    ast.NodeBase{NodeId: s.w.nextId(), Loc: locAt(s.rt, t.startPoint)},
		TagName:     tagName,
		SelfClosing: selfClosing,
		TagChildren: t.directChildren,
	}
	s.ctx.out = append(s.ctx.out, node)
	s.ctx.reset()
	s.lastFlush = s.pos
	if selfClosing {
		s.ctx.setState(Pcdata, s.point())
	} else {
		s.ctx.setState(rcdataStateFor(t.name), s.point())
	}
}

func locAt(rt *ast.RawTextNode, p ast.Point) ast.SourceLocation {
	return ast.SourceLocation{Start: p, End: p}
}
