package htmlrewrite

import "github.com/tplforge/soycore/ast"

// tagInProgress tracks the open tag currently being assembled.
type tagInProgress struct {
	startPoint     ast.Point
	startNode      *ast.RawTextNode
	closeTag       bool
	name           string
	nameExpr       ast.ExprNode // set when the tag name is a print expression (nil for literal names)
	directChildren []ast.Node
}

// attrInProgress tracks the attribute currently being assembled. nameNode is
// nil for the value-accumulation placeholder created when a block begins
// directly before an attribute value whose name lives in an enclosing block.
type attrInProgress struct {
	nameNode   ast.Node
	eqLoc      *ast.SourceLocation
	quote      ast.QuoteStyle
	quoteAt    ast.Point
	valueParts []ast.Node
	haveValue  bool
}

// blockContext is the mutable parsing state threaded through one block's
// scan. A fresh blockContext is created for every block so that branches can
// be reconciled independently.
type blockContext struct {
	// startingState never changes after construction; several transitions
	// are only legal depending on how the block began (a tag may only start
	// in a block that began in Pcdata, an attribute may not start in a block
	// that began before an attribute value).
	startingState State

	state                State
	stateTransitionPoint ast.Point

	tag  *tagInProgress
	attr *attrInProgress

	// sawValuePart records that this block contributed at least one part to
	// an attribute value owned by an enclosing block. Distinguishes "the
	// block added nothing before ending the value" (an error: it is closing
	// an attribute started elsewhere) from ordinary accumulation.
	sawValuePart bool

	// out accumulates the rebuilt child list for the block being scanned:
	// flushed literal text spans, finished tag nodes, and any leaf or
	// control-flow node encountered while neither a tag nor an attribute
	// was in progress.
	out []ast.Node
}

func newBlockContext(kind ast.ContentKind) *blockContext {
	s := initialState(kind)
	return &blockContext{state: s, startingState: s}
}

func newBranchContext(s0 State) *blockContext {
	return &blockContext{state: s0, startingState: s0}
}

func (c *blockContext) reset() {
	c.tag = nil
	c.attr = nil
}

func (c *blockContext) resetAttribute() {
	c.attr = nil
}

// checkEmpty asserts that no tag or attribute is left dangling once a block
// has been fully reconciled without errors; violating this is an
// implementation bug, not a user error.
func (c *blockContext) checkEmpty() {
	if c.tag != nil || c.attr != nil {
		panic("htmlrewrite: dangling tag or attribute after successful block reconciliation")
	}
}

func (c *blockContext) setState(s State, at ast.Point) {
	c.state = s
	c.stateTransitionPoint = at
}
