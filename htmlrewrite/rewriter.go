package htmlrewrite

import "github.com/tplforge/soycore/ast"

// HtmlRewriter is the public entry point. It walks a parsed template file,
// turning html/attributes content into structured HTML, and reports
// diagnostics through the supplied ast.ErrorReporter. Like the expression
// parser, it never panics across its own public boundary: the abortBlock
// signal used internally for block-local recovery is always caught before
// Run returns.
type HtmlRewriter struct {
	errs         ast.ErrorReporter
	experimental map[string]bool
	// strict gates whether the rewrite is committed to the file or run on a
	// throwaway clone purely for its diagnostics.
	strict bool
}

// New constructs an HtmlRewriter. experimentalFeatures is a set of opt-in
// flag names; "stricthtml" switches on strict mode.
func New(experimentalFeatures []string, errs ast.ErrorReporter) *HtmlRewriter {
	set := make(map[string]bool, len(experimentalFeatures))
	var strict bool
	for _, f := range experimentalFeatures {
		set[f] = true
		if f == "stricthtml" {
			strict = true
		}
	}
	return &HtmlRewriter{errs: errs, experimental: set, strict: strict}
}

// walker carries the mutable state shared by every block visited during one
// Run: the id generator, the error reporter, and the deferred body
// assignments that commit the rewrite.
type walker struct {
	ids  *ast.IdGenerator
	errs ast.ErrorReporter

	// pending holds one closure per successfully rewritten block, each
	// assigning the block's rebuilt child list into its owner. Nothing is
	// assigned during traversal: the whole file commits at once, or not at
	// all, so a file that produced any diagnostic is never left
	// half-rewritten.
	pending []func()
}

// abortBlock unwinds out of a single block on a fatal, block-local error.
// It must never escape Run.
type abortBlock struct{ reason string }

func (w *walker) nextId() ast.NodeId { return w.ids.Gen() }

func (w *walker) raiseAbort(loc ast.SourceLocation, kind ast.ErrorKind, format string, args ...interface{}) {
	w.errs.Report(loc, kind, format, args...)
	panic(abortBlock{reason: string(kind)})
}

// Run rewrites every html/attributes-kind block reachable from file's body.
// Rewriting is transactional per file: the rebuilt child lists are committed
// only if no error was reported during the run; otherwise every block keeps
// its original child list.
//
// Outside of "stricthtml" mode, file is never touched: the rewrite runs over
// a deep clone so the caller can still inspect diagnostics without
// committing the restructuring.
func (r *HtmlRewriter) Run(file *ast.SoyFileNode, ids *ast.IdGenerator) {
	w := &walker{ids: ids, errs: r.errs}
	kind := file.Kind
	if kind == "" {
		kind = ast.KindHTML
	}
	checkpoint := w.errs.Checkpoint()
	if !r.strict {
		w.rewriteScopedBlock(cloneNodes(file.Body), kind, nil)
		return
	}
	w.rewriteScopedBlock(file.Body, kind, func(b []ast.Node) { file.Body = b })
	if !w.errs.ErrorsSince(checkpoint) {
		for _, apply := range w.pending {
			apply()
		}
	}
}

// rewriteScopedBlock rewrites one independently scoped block: a template
// body, a {let} content block, or a {param} content block. The block's
// ending state must reconcile with its starting state -- content begun in
// the block has to be finished in it, since nothing outside the block can
// ever resume it. On success the rebuilt child list is registered for the
// commit pass via assign; on any error the block keeps its original
// children.
func (w *walker) rewriteScopedBlock(nodes []ast.Node, kind ast.ContentKind, assign func([]ast.Node)) {
	checkpoint := w.errs.Checkpoint()
	ctx := newBlockContext(kind)

	rebuilt, aborted := w.safeRewriteBody(nodes, ctx)
	if aborted {
		return
	}
	endLoc := blockEndLoc(nodes)
	w.finishBlockEnd(ctx, endLoc)
	rebuilt = ctx.out
	final := ctx.state
	if final.InvalidEndOfBlock() {
		w.errs.Report(endLoc, ast.BlockEndsInInvalidState, "block ends with %s, an incomplete attribute", final)
		final = ctx.startingState
	}
	if w.errs.ErrorsSince(checkpoint) {
		// Error-explosion guard: keep the original subtree and pretend the
		// block ended where it began.
		return
	}
	if _, ok, _ := reconcile2(ctx.startingState, final, true); !ok {
		w.errs.Report(endLoc, ast.BlockChangesContext,
			"block starts in %s but ends in %s: %s", ctx.startingState, final, hintFor([]State{final}))
		return
	}
	ctx.checkEmpty()
	if assign != nil {
		w.pending = append(w.pending, func() { assign(rebuilt) })
	}
}

// safeRewriteBody runs rewriteBody, recovering from an abortBlock signal so
// it never escapes the block boundary.
func (w *walker) safeRewriteBody(nodes []ast.Node, ctx *blockContext) (out []ast.Node, aborted bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(abortBlock); ok {
				aborted = true
				return
			}
			panic(rec)
		}
	}()
	return w.rewriteBody(nodes, ctx), false
}

func blockEndLoc(nodes []ast.Node) ast.SourceLocation {
	if len(nodes) == 0 {
		return ast.SourceLocation{}
	}
	return nodes[len(nodes)-1].Location()
}

// finishBlockEnd finalizes whatever is still pending when a block runs out
// of input: an unfinished unquoted value is closed, and a pending named
// attribute in a tag state becomes a complete (possibly valueless)
// HtmlAttributeNode -- an attribute begun in a block is always finished in
// it. A pending attribute whose quoted value is still open is left alone:
// the block is ending mid-value, which either reconciles (the value
// continues in a sibling block) or surfaces as an error downstream.
func (w *walker) finishBlockEnd(ctx *blockContext, endLoc ast.SourceLocation) {
	if ctx.state == UnquotedAttrValue {
		w.finishUnquotedAtEnd(ctx, endLoc)
	}
	if ctx.state.InTag() && ctx.attr != nil && ctx.attr.nameNode != nil {
		w.finishAttributeStandalone(ctx)
	}
}

// finishUnquotedAtEnd closes a pending unquoted attribute value at
// end-of-block, with no scanner instance driving it.
func (w *walker) finishUnquotedAtEnd(ctx *blockContext, endLoc ast.SourceLocation) {
	a := ctx.attr
	switch {
	case a == nil:
		// The value (and its attribute) belong to an enclosing block; any
		// parts this block contributed already flowed to ctx.out.
	case a.nameNode == nil:
		// Value-accumulation placeholder: the completed value stands alone
		// in this block's body, and the enclosing block will attach the
		// whole branch as the real attribute's value.
		if len(a.valueParts) > 0 {
			valueNode := &ast.HtmlAttributeValueNode{
				NodeBase: ast.NodeBase{NodeId: w.nextId(), Loc: endLoc},
				Quote:    a.quote,
				Parts:    a.valueParts,
			}
			ctx.out = append(ctx.out, valueNode)
		}
		ctx.resetAttribute()
		ctx.setState(AfterTagNameOrAttribute, endLoc.End)
	case !a.haveValue:
		w.errs.Report(endLoc, ast.ExpectedAttributeValue, "expected an attribute value after '='")
		ctx.resetAttribute()
		ctx.setState(AfterTagNameOrAttribute, endLoc.End)
	default:
		w.finishAttributeStandalone(ctx)
		ctx.setState(AfterTagNameOrAttribute, endLoc.End)
	}
}

// finishAttributeStandalone completes the pending named attribute into an
// HtmlAttributeNode without a scanner driving it. The value node is built
// from whatever parts accumulated; a name with no '=' yields a valueless
// attribute.
func (w *walker) finishAttributeStandalone(ctx *blockContext) {
	a := ctx.attr
	var valueNode *ast.HtmlAttributeValueNode
	if a.haveValue || a.quote != ast.QuoteNone {
		valueNode = &ast.HtmlAttributeValueNode{
			NodeBase: ast.NodeBase{NodeId: w.nextId(), Loc: a.nameNode.Location()},
			Quote:    a.quote,
			Parts:    a.valueParts,
		}
	}
	attrNode := &ast.HtmlAttributeNode{
		NodeBase:  ast.NodeBase{NodeId: w.nextId(), Loc: a.nameNode.Location()},
		EqualsLoc: a.eqLoc,
		Name:      a.nameNode,
		Value:     valueNode,
	}
	if ctx.tag != nil {
		ctx.tag.directChildren = append(ctx.tag.directChildren, attrNode)
	} else {
		ctx.out = append(ctx.out, attrNode)
	}
	ctx.resetAttribute()
}

// rewriteBody processes one block's flat child list, producing the rebuilt
// list for that block. Raw text runs are scanned character by character
// (scanner.go); control-flow constructs recurse per branch and reconcile;
// every other node is placed relative to whatever tag or attribute is
// currently in progress.
func (w *walker) rewriteBody(nodes []ast.Node, ctx *blockContext) []ast.Node {
	for _, n := range nodes {
		switch t := n.(type) {
		case *ast.RawTextNode:
			sc := newScanner(t, ctx, w)
			sc.run()
			if ctx.tag == nil {
				sc.flush(len(sc.text))
			}
		case *ast.IfNode:
			w.checkControlFlowLocation(t, ctx)
			w.rewriteIf(t, ctx)
		case *ast.SwitchNode:
			w.checkControlFlowLocation(t, ctx)
			w.rewriteSwitch(t, ctx)
		case *ast.ForeachNode:
			w.checkControlFlowLocation(t, ctx)
			w.rewriteForeach(t, ctx)
		case *ast.ForNode:
			w.checkControlFlowLocation(t, ctx)
			w.rewriteFor(t, ctx)
		case *ast.LetContentNode:
			let := t
			w.rewriteScopedBlock(let.Body, let.Kind, func(b []ast.Node) { let.Body = b })
			w.placeNonPrintable(t, ctx)
		case *ast.CallNode:
			for _, p := range t.Params {
				if pc, ok := p.(*ast.CallParamContentNode); ok {
					param := pc
					w.rewriteScopedBlock(param.Body, param.Kind, func(b []ast.Node) { param.Body = b })
				}
			}
			w.placePrintable(t, ctx)
		case *ast.MsgFallbackGroupNode:
			// Message content is parsed for HTML by a later stage of the
			// message pipeline; the group as a whole prints its chosen
			// message.
			w.placePrintable(t, ctx)
		case *ast.MsgNode:
			w.placePrintable(t, ctx)
		case *ast.LogNode:
			// {log} output goes to the console, not the document; its body
			// is scanned in the inert None state so nested blocks are still
			// visited but nothing is restructured.
			w.rewriteBranch(t.Body, None)
			w.placeNonPrintable(t, ctx)
		case *ast.PrintNode:
			w.placePrintable(t, ctx)
		case *ast.CssNode:
			w.placePrintable(t, ctx)
		case *ast.XidNode:
			w.placePrintable(t, ctx)
		default:
			w.placeNonPrintable(n, ctx)
		}
	}
	return ctx.out
}

// checkControlFlowLocation rejects control flow in the middle of a tag
// name, where any branch content would be ambiguous with an unquoted
// attribute value.
func (w *walker) checkControlFlowLocation(n ast.Node, ctx *blockContext) {
	if ctx.state == HtmlTagName {
		w.raiseAbort(n.Location(), ast.InvalidLocationForControlFlow,
			"html tag names can only be constants or print expressions")
	}
}

// placePrintable places a node that renders inline content ({print}, {css},
// {xid}, {call}, {msg}) relative to the current state: it can serve as a
// dynamic tag name, start a dynamic attribute name, or contribute an
// attribute value part.
func (w *walker) placePrintable(n ast.Node, ctx *blockContext) {
	switch ctx.state {
	case AfterTagNameOrAttribute:
		w.errs.Report(n.Location(), ast.ExpectedWsOrCloseAfterTagOrAttribute,
			"expected whitespace or the end of the tag before dynamic content")
		ctx.out = append(ctx.out, n)
	case AfterAttributeName:
		w.errs.Report(n.Location(), ast.ExpectedWsEqOrCloseAfterAttributeName,
			"expected whitespace, '=', or the end of the tag before dynamic content")
		ctx.out = append(ctx.out, n)
	case BeforeAttributeName:
		w.startDynamicAttribute(n, ctx)
	case HtmlTagName:
		if pn, ok := n.(*ast.PrintNode); ok && ctx.tag != nil {
			ctx.tag.nameExpr = pn.Arg
			ctx.setState(AfterTagNameOrAttribute, n.Location().End)
		} else {
			w.errs.Report(n.Location(), ast.InvalidTagName,
				"tag names may only be constants or print expressions")
			ctx.out = append(ctx.out, n)
		}
	case BeforeAttributeValue:
		// No quote seen: the dynamic content begins an unquoted value.
		ctx.setState(UnquotedAttrValue, n.Location().Start)
		w.attachValuePart(n, ctx)
	case SingleQuotedAttrValue, DoubleQuotedAttrValue, UnquotedAttrValue:
		w.attachValuePart(n, ctx)
	default:
		ctx.out = append(ctx.out, n)
	}
}

// startDynamicAttribute begins an attribute whose name is a whole node
// rather than a span of raw text.
func (w *walker) startDynamicAttribute(n ast.Node, ctx *blockContext) {
	if ctx.startingState == BeforeAttributeValue {
		w.raiseAbort(n.Location(), ast.BlockTransitionDisallowed,
			"cannot start an attribute inside a block that begins before an attribute value")
	}
	if ctx.attr != nil && ctx.attr.nameNode != nil {
		w.finishAttributeStandalone(ctx)
	}
	ctx.attr = &attrInProgress{nameNode: n}
	ctx.setState(AfterAttributeName, n.Location().End)
}

// placeNonPrintable places a node with no inline rendering ({let},
// {debugger}, {log}, ...) -- it may ride along inside a tag or an attribute
// value, but can never begin a name or serve as one.
func (w *walker) placeNonPrintable(n ast.Node, ctx *blockContext) {
	switch {
	case ctx.state.InTag():
		if ctx.tag != nil {
			ctx.tag.directChildren = append(ctx.tag.directChildren, n)
		} else {
			ctx.out = append(ctx.out, n)
		}
	case ctx.state == BeforeAttributeValue:
		w.errs.Report(n.Location(), ast.InvalidLocationForNonprintable,
			"move it before the start of the tag or after the tag name")
		ctx.out = append(ctx.out, n)
	case ctx.state == HtmlTagName:
		w.errs.Report(n.Location(), ast.InvalidLocationForNonprintable,
			"it creates ambiguity with an unquoted attribute value")
		ctx.out = append(ctx.out, n)
	case isAttrValueState(ctx.state):
		w.attachValuePart(n, ctx)
	default:
		ctx.out = append(ctx.out, n)
	}
}

// attachValuePart adds n as a part of the attribute value currently being
// accumulated: the local attribute's if one is in progress, or the block's
// own output when the value belongs to an enclosing block.
func (w *walker) attachValuePart(n ast.Node, ctx *blockContext) {
	if ctx.attr != nil {
		ctx.attr.valueParts = append(ctx.attr.valueParts, n)
		ctx.attr.haveValue = true
		return
	}
	ctx.out = append(ctx.out, n)
	ctx.sawValuePart = true
}

// branchResult is what one arm of a control-flow construct contributes to
// reconciliation: its ending state and its rewritten body.
type branchResult struct {
	state State
	body  []ast.Node
}

// rewriteBranch rewrites one branch in a fresh context starting at s0 and
// finalizes anything the branch left pending.
func (w *walker) rewriteBranch(body []ast.Node, s0 State) branchResult {
	ctx := newBranchContext(s0)
	out, aborted := w.safeRewriteBody(body, ctx)
	if aborted {
		return branchResult{state: resetStateAfterAbort(s0), body: body}
	}
	endLoc := blockEndLoc(body)
	w.finishBlockEnd(ctx, endLoc)
	out = ctx.out
	final := ctx.state
	if final.InvalidEndOfBlock() {
		w.errs.Report(endLoc, ast.BlockEndsInInvalidState, "block ends with %s, an incomplete attribute", final)
		final = s0
	}
	return branchResult{state: final, body: out}
}

// resetStateAfterAbort picks the state to resume in after a block was
// abandoned mid-parse: blocks that began somewhere inside a tag resume
// looking for the next attribute; everything else resumes where it began.
func resetStateAfterAbort(s0 State) State {
	switch s0 {
	case AfterAttributeName, AfterTagNameOrAttribute, BeforeAttributeName,
		BeforeAttributeValue, SingleQuotedAttrValue, DoubleQuotedAttrValue,
		UnquotedAttrValue, HtmlTagName:
		return BeforeAttributeName
	}
	return s0
}

// reconcileBranches computes the ending state all branches agree on, or
// reports an error and falls back to fallback (the state the construct was
// entered in) if they can't be reconciled.
func (w *walker) reconcileBranches(results []branchResult, exactlyOne bool, loc ast.SourceLocation, fallback State) State {
	states := make([]State, len(results))
	for i, r := range results {
		states[i] = r.state
	}
	reconciled, ok, notGuaranteed := reconcile(states, exactlyOne)
	if !ok {
		w.errs.Report(loc, ast.BlockChangesContext, "branches end in different HTML contexts: %s", hintFor(states))
		return fallback
	}
	if notGuaranteed {
		w.errs.ReportWarning(loc, ast.ConditionalBlockIsntGuaranteedToProduceOneAttributeValue,
			"this conditional isn't guaranteed to produce exactly one attribute value; add an {else}/{default}/{ifempty} branch")
	}
	return reconciled
}

func (w *walker) rewriteIf(n *ast.IfNode, ctx *blockContext) {
	enterState := ctx.state
	checkpoint := w.errs.Checkpoint()
	var results []branchResult
	for _, cond := range n.Conds {
		cond := cond
		res := w.rewriteBranch(cond.Body, enterState)
		w.pending = append(w.pending, func() { cond.Body = res.body })
		results = append(results, res)
	}
	hasElse := n.HasElse()
	newState := enterState
	if !w.errs.ErrorsSince(checkpoint) {
		newState = w.reconcileBranches(results, hasElse, n.Location(), enterState)
	}
	w.finishControlFlow(n, enterState, newState, hasElse, hasElse, ctx)
}

func (w *walker) rewriteSwitch(n *ast.SwitchNode, ctx *blockContext) {
	enterState := ctx.state
	checkpoint := w.errs.Checkpoint()
	var results []branchResult
	for _, c := range n.Cases {
		c := c
		res := w.rewriteBranch(c.Body, enterState)
		w.pending = append(w.pending, func() { c.Body = res.body })
		results = append(results, res)
	}
	if n.Default != nil {
		res := w.rewriteBranch(n.Default.Body, enterState)
		w.pending = append(w.pending, func() { n.Default.Body = res.body })
		results = append(results, res)
	}
	if len(results) == 0 {
		// A {switch} with no cases at all has no branches to reconcile.
		return
	}
	hasDefault := n.Default != nil
	newState := enterState
	if !w.errs.ErrorsSince(checkpoint) {
		newState = w.reconcileBranches(results, hasDefault, n.Location(), enterState)
	}
	w.finishControlFlow(n, enterState, newState, hasDefault, hasDefault, ctx)
}

func (w *walker) rewriteForeach(n *ast.ForeachNode, ctx *blockContext) {
	enterState := ctx.state
	checkpoint := w.errs.Checkpoint()
	loopRes := w.rewriteBranch(n.Body, enterState)
	w.pending = append(w.pending, func() { n.Body = loopRes.body })
	w.checkLoopReentry(loopRes.state, enterState, n.Location())
	results := []branchResult{loopRes}
	if n.IfEmpty != nil {
		emptyRes := w.rewriteBranch(n.IfEmpty.Body, enterState)
		w.pending = append(w.pending, func() { n.IfEmpty.Body = emptyRes.body })
		results = append(results, emptyRes)
	}
	hasIfEmpty := n.IfEmpty != nil
	newState := enterState
	if !w.errs.ErrorsSince(checkpoint) {
		newState = w.reconcileBranches(results, hasIfEmpty, n.Location(), enterState)
	}
	w.finishControlFlow(n, enterState, newState, hasIfEmpty, hasIfEmpty, ctx)
}

func (w *walker) rewriteFor(n *ast.ForNode, ctx *blockContext) {
	enterState := ctx.state
	checkpoint := w.errs.Checkpoint()
	res := w.rewriteBranch(n.Body, enterState)
	w.pending = append(w.pending, func() { n.Body = res.body })
	w.checkLoopReentry(res.state, enterState, n.Location())
	newState := enterState
	if !w.errs.ErrorsSince(checkpoint) {
		newState = w.reconcileBranches([]branchResult{res}, false, n.Location(), enterState)
	}
	w.finishControlFlow(n, enterState, newState, false, false, ctx)
}

// checkLoopReentry validates that a loop body's ending state can feed back
// into its own starting state: the body may run any number of times, so the
// second iteration begins wherever the first one ended.
func (w *walker) checkLoopReentry(end, start State, loc ast.SourceLocation) {
	if _, ok, _ := reconcile2(start, end, false); !ok {
		w.errs.Report(loc, ast.BlockChangesContext,
			"loop body starts in %s but ends in %s: %s", start, end, hintFor([]State{end}))
	}
}

// isAttrValueState reports whether s is one of the states that mean "still
// somewhere inside an attribute's value" (before the quote, or inside one,
// or in an unquoted value).
func isAttrValueState(s State) bool {
	switch s {
	case BeforeAttributeValue, SingleQuotedAttrValue, DoubleQuotedAttrValue, UnquotedAttrValue:
		return true
	}
	return false
}

// finishControlFlow commits the reconciled ending state and places the
// control-flow node itself relative to whatever tag or attribute was in
// progress when it was encountered.
func (w *walker) finishControlFlow(n ast.Node, enterState, newState State, exactlyOne, atLeastOne bool, ctx *blockContext) {
	switch {
	case enterState.InTag():
		if ctx.tag != nil {
			ctx.tag.directChildren = append(ctx.tag.directChildren, n)
		} else {
			ctx.out = append(ctx.out, n)
		}
		ctx.setState(newState, n.Location().End)
	case enterState == BeforeAttributeValue:
		if !exactlyOne {
			w.errs.ReportWarning(n.Location(), ast.ConditionalBlockIsntGuaranteedToProduceOneAttributeValue,
				"this conditional isn't guaranteed to produce exactly one attribute value; add an {else}/{default}/{ifempty} branch")
		}
		if atLeastOne && newState == UnquotedAttrValue {
			// The branches began an unquoted value that continues after the
			// construct, e.g. x={if $p}y{else}z{/if}w.
			w.attachValuePart(n, ctx)
			ctx.setState(UnquotedAttrValue, n.Location().End)
			return
		}
		// The branches produced the whole value.
		w.attachValuePart(n, ctx)
		if atLeastOne && newState == BeforeAttributeName {
			ctx.setState(BeforeAttributeName, n.Location().End)
		} else {
			ctx.setState(AfterTagNameOrAttribute, n.Location().End)
		}
	case isAttrValueState(enterState):
		// Mid-value: the construct contributes one part and the value
		// continues.
		w.attachValuePart(n, ctx)
	default:
		ctx.out = append(ctx.out, n)
		ctx.setState(newState, n.Location().End)
	}
}
