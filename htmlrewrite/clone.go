package htmlrewrite

import "github.com/tplforge/soycore/ast"

// cloneNodes deep-clones a child list so dry-run mode (when "stricthtml"
// isn't in the experimental feature set) can rewrite a throwaway copy of
// the tree instead of mutating file.Body in place. Every
// node type that holds a nested child list the rewriter may rebuild has a
// case here; anything else (CallParamValueNode, DebuggerNode, PrintNode, CssNode,
// XidNode, and already-structured HTML nodes) carries no nested []ast.Node
// the rewriter would mutate, so it's returned as-is -- sharing the pointer
// is safe because the rewriter never mutates those node types' fields.
func cloneNodes(nodes []ast.Node) []ast.Node {
	if nodes == nil {
		return nil
	}
	out := make([]ast.Node, len(nodes))
	for i, n := range nodes {
		out[i] = cloneNode(n)
	}
	return out
}

func cloneNode(n ast.Node) ast.Node {
	switch t := n.(type) {
	case *ast.RawTextNode:
		return t.Clone()
	case *ast.IfNode:
		c := *t
		c.Conds = make([]*ast.IfCondNode, len(t.Conds))
		for i, cond := range t.Conds {
			cc := *cond
			cc.Body = cloneNodes(cond.Body)
			c.Conds[i] = &cc
		}
		return &c
	case *ast.SwitchNode:
		c := *t
		c.Cases = make([]*ast.SwitchCaseNode, len(t.Cases))
		for i, cs := range t.Cases {
			cc := *cs
			cc.Body = cloneNodes(cs.Body)
			c.Cases[i] = &cc
		}
		if t.Default != nil {
			cd := *t.Default
			cd.Body = cloneNodes(t.Default.Body)
			c.Default = &cd
		}
		return &c
	case *ast.ForeachNode:
		c := *t
		c.Body = cloneNodes(t.Body)
		if t.IfEmpty != nil {
			ce := *t.IfEmpty
			ce.Body = cloneNodes(t.IfEmpty.Body)
			c.IfEmpty = &ce
		}
		return &c
	case *ast.ForNode:
		c := *t
		c.Body = cloneNodes(t.Body)
		return &c
	case *ast.LetContentNode:
		c := *t
		c.Body = cloneNodes(t.Body)
		return &c
	case *ast.CallParamContentNode:
		c := *t
		c.Body = cloneNodes(t.Body)
		return &c
	case *ast.CallNode:
		c := *t
		c.Params = cloneNodes(t.Params)
		return &c
	case *ast.MsgNode:
		c := *t
		c.Body = cloneNodes(t.Body)
		return &c
	case *ast.MsgFallbackGroupNode:
		c := *t
		cp := *t.Primary
		cp.Body = cloneNodes(t.Primary.Body)
		c.Primary = &cp
		if t.Fallback != nil {
			cf := *t.Fallback
			cf.Body = cloneNodes(t.Fallback.Body)
			c.Fallback = &cf
		}
		return &c
	case *ast.LogNode:
		c := *t
		c.Body = cloneNodes(t.Body)
		return &c
	default:
		return n
	}
}
