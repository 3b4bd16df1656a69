package exprparse

import (
	"strconv"
	"strings"

	"github.com/tplforge/soycore/ast"
)

// maxExprDepth bounds expression nesting recursion: anything deeper is
// almost certainly generated or pathological input, not a real template.
const maxExprDepth = 1024

// parser turns a token stream from the lexer into an ast.ExprNode tree. It
// never panics out of its public entry points; every failure is funneled
// through the ast.ErrorReporter and a sentinel *ast.ErrorNode is substituted
// so the caller always gets a non-nil tree back.
type parser struct {
	lex   *lexer
	errs  ast.ErrorReporter
	depth int

	tok   item // current lookahead
	tok2  item // second lookahead, for the two-token decisions (map keys, proto-init, dotted globals)
	have2 bool // whether tok2 has been filled in
}

func newParser(filename, input string, base ast.Point, errs ast.ErrorReporter) *parser {
	p := &parser{lex: lex(filename, input, base), errs: errs}
	p.advance()
	return p
}

func (p *parser) advance() {
	if p.have2 {
		p.tok = p.tok2
		p.have2 = false
	} else {
		p.tok = p.lex.nextItem()
	}
	p.reportIfLexError()
}

func (p *parser) peek2() item {
	if !p.have2 {
		p.tok2 = p.lex.nextItem()
		p.have2 = true
		if p.tok2.typ == itemError {
			p.errs.Report(p.tok2.loc, ast.GenericUnexpectedChar, "%s", p.tok2.text)
			p.tok2 = item{typ: itemEOF, loc: p.tok2.loc}
		}
	}
	return p.tok2
}

// reportIfLexError surfaces a lexer-level failure (malformed string,
// unrecognized character, ...) as a single diagnostic carrying the lexer's
// own message, then rewrites p.tok to itemEOF so the rest of the parse
// unwinds cleanly instead of cascading "unexpected token" errors: one
// diagnostic per failure.
func (p *parser) reportIfLexError() {
	if p.tok.typ != itemError {
		return
	}
	p.errs.Report(p.tok.loc, ast.GenericUnexpectedChar, "%s", p.tok.text)
	p.tok = item{typ: itemEOF, loc: p.tok.loc}
}

func (p *parser) errorf(loc ast.SourceLocation, kind ast.ErrorKind, format string, args ...interface{}) *ast.ErrorNode {
	p.errs.Report(loc, kind, format, args...)
	return ast.NewErrorNode(loc)
}

func (p *parser) expect(t itemType, what string) (item, bool) {
	if p.tok.typ != t {
		p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "expected %s, found %q", what, p.tok.text)
		return p.tok, false
	}
	it := p.tok
	p.advance()
	return it, true
}

// ParseExpression is the public entry point for a single expression.
// base is the source position of input[0], used
// to translate the lexer's line/col tracking into absolute file positions
// when the expression text was extracted from a larger file.
func ParseExpression(filename, input string, base ast.Point, errs ast.ErrorReporter) ast.ExprNode {
	p := newParser(filename, input, base, errs)
	defer p.lex.drain()
	n := p.parseLevel1()
	if p.tok.typ != itemEOF {
		return p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "unexpected trailing input %q", p.tok.text)
	}
	return n
}

// ParseExpressionList is the public entry point for a comma-separated list
// of expressions, e.g. a function call's argument list supplied standalone.
// It returns a nil slice if and only if at
// least one error was reported (never nil on success, even for zero items
// -- an explicit empty list is []ast.ExprNode{}).
func ParseExpressionList(filename, input string, base ast.Point, errs ast.ErrorReporter) []ast.ExprNode {
	cp := errs.Checkpoint()
	p := newParser(filename, input, base, errs)
	defer p.lex.drain()
	if p.tok.typ == itemEOF {
		if errs.ErrorsSince(cp) {
			return nil
		}
		return []ast.ExprNode{}
	}
	list := p.parseExprList(itemEOF)
	if p.tok.typ != itemEOF {
		p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "unexpected trailing input %q", p.tok.text)
	}
	if errs.ErrorsSince(cp) {
		return nil
	}
	return list
}

// ParseVariable is the public entry point for a bare `$name` reference,
// used where the grammar requires a variable and nothing more general.
// The injected form `$ij.name` is not a plain variable and is rejected
// with its own diagnostic.
func ParseVariable(filename, input string, base ast.Point, errs ast.ErrorReporter) *ast.VarRefNode {
	p := newParser(filename, input, base, errs)
	defer p.lex.drain()
	if p.tok.typ == itemDollarIj {
		loc := p.tok.loc
		p.errs.Report(loc, ast.InvalidVarNameIj, "$ij is not a valid variable name")
		return &ast.VarRefNode{ExprBase: ast.ExprBase{Loc: loc}}
	}
	v := p.parseVarRefOnly()
	if p.tok.typ != itemEOF {
		p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "unexpected trailing input %q", p.tok.text)
	}
	if v == nil {
		v = &ast.VarRefNode{ExprBase: ast.ExprBase{Loc: ast.SourceLocation{Start: base, End: base}}}
	}
	return v
}

func (p *parser) parseVarRefOnly() *ast.VarRefNode {
	switch p.tok.typ {
	case itemDollarIdent:
		it := p.tok
		p.advance()
		return &ast.VarRefNode{ExprBase: ast.ExprBase{Loc: it.loc}, Name: it.text[1:]}
	case itemDollarIj:
		loc := p.tok.loc
		p.advance()
		if p.tok.typ != itemDot {
			p.errs.Report(loc, ast.UnexpectedIjDataReference, "$ij must be followed by a field name, e.g. $ij.foo")
			return &ast.VarRefNode{ExprBase: ast.ExprBase{Loc: loc}, IsInjected: true}
		}
		p.advance()
		name, ok := p.expect(itemIdent, "injected data field name")
		if !ok {
			return &ast.VarRefNode{ExprBase: ast.ExprBase{Loc: loc}, IsInjected: true}
		}
		return &ast.VarRefNode{
			ExprBase:   ast.ExprBase{Loc: ast.Extend(loc, name.loc)},
			Name:       name.text,
			IsInjected: true,
		}
	default:
		p.errorf(p.tok.loc, ast.InvalidVarNameIj, "expected a variable reference, found %q", p.tok.text)
		return nil
	}
}

func (p *parser) enter() bool {
	p.depth++
	if p.depth > maxExprDepth {
		p.errorf(p.tok.loc, ast.ExpressionNestingTooDeep, "expression nested too deeply (max %d)", maxExprDepth)
		return false
	}
	return true
}

func (p *parser) leave() { p.depth-- }

// --- precedence cascade ---------------------------------------------------
//
// Each level below handles exactly one row of the precedence table and
// delegates to the next tighter level for its operands, rather than the
// single parseExpr(prec) climbing loop the table would otherwise suggest.
// Level 1 is the loosest (ternary/elvis); level 8 is tightest (unary).

// level 1: ?: (elvis) and ?  : (ternary), right-associative
func (p *parser) parseLevel1() ast.ExprNode {
	if !p.enter() {
		defer p.leave()
		return ast.NewErrorNode(p.tok.loc)
	}
	defer p.leave()

	cond := p.parseLevel2()
	switch p.tok.typ {
	case itemElvis:
		p.advance()
		rhs := p.parseLevel1()
		return &ast.OperatorNode{
			ExprBase: ast.ExprBase{Loc: ast.Extend(cond.Location(), rhs.Location())},
			Op:       ast.OpElvis, Precedence: 1,
			Operands: []ast.ExprNode{cond, rhs},
		}
	case itemTernIf:
		p.advance()
		then := p.parseLevel1()
		if _, ok := p.expect(itemColon, "':' in ternary expression"); !ok {
			return ast.NewErrorNode(ast.Extend(cond.Location(), then.Location()))
		}
		els := p.parseLevel1()
		return &ast.OperatorNode{
			ExprBase: ast.ExprBase{Loc: ast.Extend(cond.Location(), els.Location())},
			Op:       ast.OpTernary, Precedence: 1,
			Operands: []ast.ExprNode{cond, then, els},
		}
	}
	return cond
}

// level 2: or, left-associative
func (p *parser) parseLevel2() ast.ExprNode {
	left := p.parseLevel3()
	for p.tok.typ == itemOr || p.tok.typ == itemLegacyOr {
		if p.tok.typ == itemLegacyOr {
			p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "use 'or' instead of '||'")
		}
		p.advance()
		right := p.parseLevel3()
		left = binOp(ast.OpOr, 2, left, right)
	}
	return left
}

// level 3: and, left-associative
func (p *parser) parseLevel3() ast.ExprNode {
	left := p.parseLevel4()
	for p.tok.typ == itemAnd || p.tok.typ == itemLegacyAnd {
		if p.tok.typ == itemLegacyAnd {
			p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "use 'and' instead of '&&'")
		}
		p.advance()
		right := p.parseLevel4()
		left = binOp(ast.OpAnd, 3, left, right)
	}
	return left
}

// level 4: == !=, left-associative
func (p *parser) parseLevel4() ast.ExprNode {
	left := p.parseLevel5()
	for p.tok.typ == itemEq || p.tok.typ == itemNotEq {
		op := opFromItem(p.tok.typ)
		p.advance()
		right := p.parseLevel5()
		left = binOp(op, 4, left, right)
	}
	return left
}

// level 5: < > <= >=, left-associative
func (p *parser) parseLevel5() ast.ExprNode {
	left := p.parseLevel6()
	for p.tok.typ == itemLt || p.tok.typ == itemGt || p.tok.typ == itemLte || p.tok.typ == itemGte {
		op := opFromItem(p.tok.typ)
		p.advance()
		right := p.parseLevel6()
		left = binOp(op, 5, left, right)
	}
	return left
}

// level 6: + -, left-associative
func (p *parser) parseLevel6() ast.ExprNode {
	left := p.parseLevel7()
	for p.tok.typ == itemAdd || p.tok.typ == itemSub {
		op := opFromItem(p.tok.typ)
		p.advance()
		right := p.parseLevel7()
		left = binOp(op, 6, left, right)
	}
	return left
}

// level 7: * / %, left-associative
func (p *parser) parseLevel7() ast.ExprNode {
	left := p.parseLevel8()
	for p.tok.typ == itemMul || p.tok.typ == itemDiv || p.tok.typ == itemMod {
		op := opFromItem(p.tok.typ)
		p.advance()
		right := p.parseLevel8()
		left = binOp(op, 7, left, right)
	}
	return left
}

// level 8: unary - and "not", right-associative by recursing into itself
func (p *parser) parseLevel8() ast.ExprNode {
	if !p.enter() {
		defer p.leave()
		return ast.NewErrorNode(p.tok.loc)
	}
	defer p.leave()

	switch p.tok.typ {
	case itemSub:
		loc := p.tok.loc
		p.advance()
		operand := p.parseLevel8()
		return &ast.OperatorNode{
			ExprBase: ast.ExprBase{Loc: ast.Extend(loc, operand.Location())},
			Op:       ast.OpNegate, Precedence: 8,
			Operands: []ast.ExprNode{operand},
		}
	case itemNot:
		loc := p.tok.loc
		p.advance()
		operand := p.parseLevel8()
		return &ast.OperatorNode{
			ExprBase: ast.ExprBase{Loc: ast.Extend(loc, operand.Location())},
			Op:       ast.OpNot, Precedence: 8,
			Operands: []ast.ExprNode{operand},
		}
	case itemLegacyNot:
		p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "use 'not' instead of '!'")
		loc := p.tok.loc
		p.advance()
		operand := p.parseLevel8()
		return &ast.OperatorNode{
			ExprBase: ast.ExprBase{Loc: ast.Extend(loc, operand.Location())},
			Op:       ast.OpNot, Precedence: 8,
			Operands: []ast.ExprNode{operand},
		}
	}
	return p.parsePostfix()
}

func binOp(op ast.OpKind, prec uint8, left, right ast.ExprNode) *ast.OperatorNode {
	return &ast.OperatorNode{
		ExprBase: ast.ExprBase{Loc: ast.Extend(left.Location(), right.Location())},
		Op:       op, Precedence: prec,
		Operands: []ast.ExprNode{left, right},
	}
}

func opFromItem(t itemType) ast.OpKind {
	switch t {
	case itemEq:
		return ast.OpEq
	case itemNotEq:
		return ast.OpNotEq
	case itemLt:
		return ast.OpLt
	case itemGt:
		return ast.OpGt
	case itemLte:
		return ast.OpLte
	case itemGte:
		return ast.OpGte
	case itemAdd:
		return ast.OpAdd
	case itemSub:
		return ast.OpSub
	case itemMul:
		return ast.OpMul
	case itemDiv:
		return ast.OpDiv
	case itemMod:
		return ast.OpMod
	}
	panic("exprparse: opFromItem called with non-operator token")
}

// parsePostfix handles the tightest-binding chain of field/item access and
// call-or-proto-init suffixes applied to a primary expression. Field access
// and item access chains come out left-deep: the leftmost subtree is the
// base of the chain.
func (p *parser) parsePostfix() ast.ExprNode {
	base := p.parsePrimary()
	for {
		switch p.tok.typ {
		case itemDot:
			loc := p.tok.loc
			p.advance()
			name, ok := p.expect(itemIdent, "field name after '.'")
			if !ok {
				return ast.NewErrorNode(ast.Extend(base.Location(), loc))
			}
			base = &ast.FieldAccessNode{
				ExprBase: ast.ExprBase{Loc: ast.Extend(base.Location(), name.loc)},
				Parent:   base, Field: name.text,
			}
		case itemQuestionDot:
			p.advance()
			name, ok := p.expect(itemIdent, "field name after '?.'")
			if !ok {
				return ast.NewErrorNode(base.Location())
			}
			base = &ast.FieldAccessNode{
				ExprBase: ast.ExprBase{Loc: ast.Extend(base.Location(), name.loc)},
				Parent:   base, Field: name.text, NullSafe: true,
			}
		case itemLeftBracket:
			p.advance()
			key := p.parseLevel1()
			end, ok := p.expect(itemRightBracket, "']'")
			if !ok {
				return ast.NewErrorNode(ast.Extend(base.Location(), key.Location()))
			}
			base = &ast.ItemAccessNode{
				ExprBase: ast.ExprBase{Loc: ast.Extend(base.Location(), end.loc)},
				Parent:   base, Key: key,
			}
		case itemQuestionBracket:
			p.advance()
			key := p.parseLevel1()
			end, ok := p.expect(itemRightBracket, "']'")
			if !ok {
				return ast.NewErrorNode(ast.Extend(base.Location(), key.Location()))
			}
			base = &ast.ItemAccessNode{
				ExprBase: ast.ExprBase{Loc: ast.Extend(base.Location(), end.loc)},
				Parent:   base, Key: key, NullSafe: true,
			}
		default:
			return base
		}
	}
}

// parsePrimary parses a single atom: literal, variable, global/function/
// proto-init, parenthesized expression, or collection literal.
func (p *parser) parsePrimary() ast.ExprNode {
	switch p.tok.typ {
	case itemNull:
		it := p.tok
		p.advance()
		return &ast.NullNode{ExprBase: ast.ExprBase{Loc: it.loc}}
	case itemBool:
		it := p.tok
		p.advance()
		return &ast.BoolNode{ExprBase: ast.ExprBase{Loc: it.loc}, Value: it.text == "true"}
	case itemDecInt:
		return p.parseDecInt()
	case itemHexInt:
		return p.parseHexInt()
	case itemFloat:
		it := p.tok
		p.advance()
		f, err := strconv.ParseFloat(it.text, 64)
		if err != nil {
			return p.errorf(it.loc, ast.GenericUnexpectedChar, "malformed float literal %q", it.text)
		}
		return &ast.FloatNode{ExprBase: ast.ExprBase{Loc: it.loc}, Value: f}
	case itemString:
		return p.parseString()
	case itemDollarIdent, itemDollarIj:
		return p.parseVarRefOnly()
	case itemIdent:
		return p.parseIdentLed()
	case itemLeftParen:
		p.advance()
		e := p.parseLevel1()
		if _, ok := p.expect(itemRightParen, "')'"); !ok {
			return ast.NewErrorNode(e.Location())
		}
		return e
	case itemLeftBracket:
		return p.parseCollectionLiteral()
	case itemLegacyQuote:
		p.errorf(p.tok.loc, ast.GenericUnexpectedChar, `strings use single quotes, found bare "`)
		p.advance()
		return ast.NewErrorNode(p.tok.loc)
	default:
		return p.errorf(p.tok.loc, ast.GenericUnexpectedChar, "unexpected token %q", p.tok.text)
	}
}

func (p *parser) parseDecInt() ast.ExprNode {
	it := p.tok
	p.advance()
	v, err := strconv.ParseInt(it.text, 10, 64)
	if err != nil || v > ast.MaxSafeInt || v < ast.MinSafeInt {
		p.errs.Report(it.loc, ast.IntegerOutOfRange, "integer literal %s is out of range", it.text)
		return &ast.IntNode{ExprBase: ast.ExprBase{Loc: it.loc}, Value: 0}
	}
	return &ast.IntNode{ExprBase: ast.ExprBase{Loc: it.loc}, Value: v}
}

func (p *parser) parseHexInt() ast.ExprNode {
	it := p.tok
	p.advance()
	text := strings.TrimPrefix(strings.TrimPrefix(it.text, "0x"), "0X")
	v, err := strconv.ParseUint(text, 16, 64)
	if err != nil || v > uint64(ast.MaxSafeInt) {
		p.errs.Report(it.loc, ast.IntegerOutOfRange, "hex integer literal %s is out of range", it.text)
		return &ast.IntNode{ExprBase: ast.ExprBase{Loc: it.loc}, Value: 0}
	}
	return &ast.IntNode{ExprBase: ast.ExprBase{Loc: it.loc}, Value: int64(v)}
}

func (p *parser) parseString() ast.ExprNode {
	it := p.tok
	p.advance()
	val, err := unescapeString(it.text)
	if err != nil {
		return p.errorf(it.loc, ast.GenericUnexpectedChar, "%v", err)
	}
	return &ast.StrNode{ExprBase: ast.ExprBase{Loc: it.loc}, Quoted: it.text, Value: val}
}

// parseIdentLed disambiguates a bare identifier into a GlobalNode,
// FunctionCallNode, or ProtoInitNode, all of which share the prefix
// `ident` and are told apart by the token that follows.
func (p *parser) parseIdentLed() ast.ExprNode {
	name := p.tok
	p.advance()

	// Dotted global: a.b.C, as long as no call/proto-init follows the
	// dotted chain. We look ahead greedily and backtrack isn't needed
	// because '.' followed by ident is unambiguous at the lexer level;
	// a trailing '(' after the full dotted name means proto-init or an
	// argument-less call; a dotted name with positional arguments is
	// rejected as an invalid function name.
	full := name.text
	loc := name.loc
	for p.tok.typ == itemDot && identFollowsDot(p) {
		p.advance() // dot
		part, _ := p.expect(itemIdent, "identifier after '.'")
		full += "." + part.text
		loc = ast.Extend(loc, part.loc)
	}

	if p.tok.typ == itemLeftParen {
		return p.parseCallOrProtoInit(full, loc)
	}
	return &ast.GlobalNode{ExprBase: ast.ExprBase{Loc: loc}, Name: full}
}

// identFollowsDot reports whether the '.' currently in p.tok is followed by
// an identifier (as opposed to belonging to a later field-access chain off
// of a call/proto-init result, which parsePostfix handles instead). Since
// globals are resolved purely lexically, any ".ident" run belongs to the
// global name as long as we haven't yet seen a '(' --- parsePostfix never
// runs until parseIdentLed returns, so there's no ambiguity to resolve via
// lookahead; this check only guards against a stray trailing dot.
func identFollowsDot(p *parser) bool {
	return p.peek2().typ == itemIdent
}

// parseCallOrProtoInit disambiguates `name(...)` into a FunctionCallNode or
// a ProtoInitNode by inspecting the argument shape: proto-init fields are
// always `ident: expr`, which a function call argument list never contains
// at the top level. `name()` with no arguments always parses as a function
// call; a later pass may still decide it names a proto.
func (p *parser) parseCallOrProtoInit(name string, nameLoc ast.SourceLocation) ast.ExprNode {
	p.advance() // (
	if p.tok.typ == itemRightParen {
		end := p.tok
		p.advance()
		return &ast.FunctionCallNode{ExprBase: ast.ExprBase{Loc: ast.Extend(nameLoc, end.loc)}, Name: name}
	}

	// Peek whether this looks like `ident :` which only proto-init uses.
	if p.tok.typ == itemIdent && p.peek2().typ == itemColon {
		return p.parseProtoInitFields(name, nameLoc)
	}

	args := p.parseExprList(itemRightParen)
	end, ok := p.expect(itemRightParen, "')'")
	if !ok {
		return ast.NewErrorNode(nameLoc)
	}
	if strings.Contains(name, ".") && len(args) > 0 {
		// A dotted name with positional arguments is neither a function
		// (function names are single identifiers) nor a proto initializer
		// (proto fields are always named).
		return p.errorf(nameLoc, ast.InvalidFunctionName, "%q is not a valid function name", name)
	}
	return &ast.FunctionCallNode{ExprBase: ast.ExprBase{Loc: ast.Extend(nameLoc, end.loc)}, Name: name, Args: args}
}

func (p *parser) parseProtoInitFields(name string, nameLoc ast.SourceLocation) ast.ExprNode {
	fields := ast.NewProtoFields()
	for {
		if p.tok.typ != itemIdent {
			p.errorf(p.tok.loc, ast.InvalidParamName, "expected proto field name, found %q", p.tok.text)
			break
		}
		key := p.tok
		p.advance()
		if _, ok := p.expect(itemColon, "':' after proto field name"); !ok {
			break
		}
		val := p.parseLevel1()
		if !fields.Set(key.text, val) {
			p.errs.Report(key.loc, ast.DuplicateParamName, "duplicate field %q in proto initializer", key.text)
		}
		if p.tok.typ != itemComma {
			break
		}
		p.advance()
		if p.tok.typ == itemRightParen {
			break
		}
	}
	end, ok := p.expect(itemRightParen, "')'")
	if !ok {
		return ast.NewErrorNode(nameLoc)
	}
	return &ast.ProtoInitNode{ExprBase: ast.ExprBase{Loc: ast.Extend(nameLoc, end.loc)}, Name: name, Fields: fields}
}

// parseExprList parses a comma-separated, optionally trailing-comma list of
// expressions terminated by stop (not consumed).
func (p *parser) parseExprList(stop itemType) []ast.ExprNode {
	var list []ast.ExprNode
	if p.tok.typ == stop {
		return list
	}
	for {
		list = append(list, p.parseLevel1())
		if p.tok.typ != itemComma {
			break
		}
		p.advance()
		if p.tok.typ == stop {
			break // trailing comma
		}
	}
	return list
}

// parseCollectionLiteral parses `[]`, `[:]`, `[a, b]`, or `['k': v, ...]`.
// Disambiguating list vs. map requires looking two tokens past the '[':
// an empty map is the distinctive `[:]`, and a non-empty map's first entry
// is `expr : expr` where list items are never followed directly by a
// bare ':'.
func (p *parser) parseCollectionLiteral() ast.ExprNode {
	start := p.tok
	p.advance() // [

	if p.tok.typ == itemRightBracket {
		end := p.tok
		p.advance()
		return &ast.ListLiteralNode{ExprBase: ast.ExprBase{Loc: ast.Extend(start.loc, end.loc)}}
	}
	if p.tok.typ == itemColon && p.peek2().typ == itemRightBracket {
		p.advance()
		end := p.tok
		p.advance()
		return &ast.MapLiteralNode{ExprBase: ast.ExprBase{Loc: ast.Extend(start.loc, end.loc)}}
	}

	first := p.parseMapKey()
	if p.tok.typ == itemColon {
		return p.parseMapLiteralTail(start, first)
	}

	items := []ast.ExprNode{first}
	for p.tok.typ == itemComma {
		p.advance()
		if p.tok.typ == itemRightBracket {
			break
		}
		items = append(items, p.parseLevel1())
	}
	end, ok := p.expect(itemRightBracket, "']'")
	if !ok {
		return ast.NewErrorNode(start.loc)
	}
	return &ast.ListLiteralNode{ExprBase: ast.ExprBase{Loc: ast.Extend(start.loc, end.loc)}, Items: items}
}

// parseMapKey parses one map-literal key, rejecting the bare-identifier
// form `[ident: ...]`: it is almost always a forgotten quote, and if it
// really names a global it can be parenthesized to say so. The check is
// lexical (identifier directly followed by ':'), so `(foo): $v` and
// `a.b: $v` pass through to the ordinary expression parse.
func (p *parser) parseMapKey() ast.ExprNode {
	if p.tok.typ == itemIdent && p.peek2().typ == itemColon {
		it := p.tok
		p.errs.Report(it.loc, ast.SingleIdentifierKeyInMapLiteral,
			"map keys must be expressions; quote %q, or parenthesize it if it names a global", it.text)
		p.advance()
		return &ast.GlobalNode{ExprBase: ast.ExprBase{Loc: it.loc}, Name: it.text}
	}
	return p.parseLevel1()
}

func (p *parser) parseMapLiteralTail(start item, firstKey ast.ExprNode) ast.ExprNode {
	p.advance() // :
	firstVal := p.parseLevel1()
	pairs := []ast.MapPair{{Key: firstKey, Value: firstVal}}
	for p.tok.typ == itemComma {
		p.advance()
		if p.tok.typ == itemRightBracket {
			break
		}
		k := p.parseMapKey()
		if _, ok := p.expect(itemColon, "':' in map literal"); !ok {
			break
		}
		v := p.parseLevel1()
		pairs = append(pairs, ast.MapPair{Key: k, Value: v})
	}
	end, ok := p.expect(itemRightBracket, "']'")
	if !ok {
		return ast.NewErrorNode(start.loc)
	}
	return &ast.MapLiteralNode{ExprBase: ast.ExprBase{Loc: ast.Extend(start.loc, end.loc)}, Pairs: pairs}
}

// unescapeString processes the backslash escapes allowed in a single-quoted
// string literal: \\ \' \" \n \r \t \b \f \uXXXX.
func unescapeString(quoted string) (string, error) {
	inner := quoted[1 : len(quoted)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(inner) {
			return "", errUnterminatedEscape
		}
		switch inner[i] {
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if i+4 >= len(inner) {
				return "", errMalformedUnicodeEscape
			}
			code, err := strconv.ParseUint(inner[i+1:i+5], 16, 32)
			if err != nil {
				return "", errMalformedUnicodeEscape
			}
			b.WriteRune(rune(code))
			i += 4
		default:
			return "", errUnknownEscape
		}
	}
	return b.String(), nil
}

type escapeError string

func (e escapeError) Error() string { return string(e) }

const (
	errUnterminatedEscape    escapeError = "unterminated escape sequence"
	errMalformedUnicodeEscape escapeError = "malformed \\u escape sequence"
	errUnknownEscape         escapeError = "unknown escape sequence"
)
