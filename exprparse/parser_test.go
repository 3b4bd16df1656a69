package exprparse

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tplforge/soycore/ast"
	"github.com/tplforge/soycore/internal/diffutil"
)

func origin() ast.Point { return ast.Point{Filename: "test.soy", Line: 1, Col: 1} }

// astOpts ignores source locations during structural comparison: the
// round-trip and precedence properties only care about tree shape.
var astOpts = cmp.Options{
	cmpopts.IgnoreFields(ast.ExprBase{}, "Loc"),
	cmp.Comparer(func(a, b *ast.ProtoFields) bool {
		if a == nil || b == nil {
			return a == b
		}
		if a.Len() != b.Len() {
			return false
		}
		for i, k := range a.Keys() {
			if k != b.Keys()[i] {
				return false
			}
			av, _ := a.Get(k)
			bv, _ := b.Get(k)
			if !cmp.Equal(av, bv, astOptsNoSelf()...) {
				return false
			}
		}
		return true
	}),
}

// astOptsNoSelf avoids infinite recursion building the Comparer above: field
// values inside a ProtoFields are compared using the location-ignoring
// options only, not the ProtoFields comparer itself (there are no nested
// ProtoFields in the expressions these tests cover).
func astOptsNoSelf() cmp.Options {
	return cmp.Options{cmpopts.IgnoreFields(ast.ExprBase{}, "Loc")}
}

func parse(t *testing.T, input string) (ast.ExprNode, *ast.Reporter) {
	t.Helper()
	errs := ast.NewReporter()
	n := ParseExpression("test.soy", input, origin(), errs)
	return n, errs
}

func mustParseNoError(t *testing.T, input string) ast.ExprNode {
	t.Helper()
	n, errs := parse(t, input)
	if errs.HasErrors() {
		var msgs []string
		for _, d := range errs.Diagnostics() {
			msgs = append(msgs, d.Error())
		}
		t.Fatalf("parse(%q): unexpected error(s): %v", input, msgs)
	}
	return n
}

// TestRoundTrip checks that for input that parses without error,
// String()-ing the tree and re-parsing yields a structurally equal tree.
func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"1 + 2 * 3",
		"$a.b[0]",
		"$a ?: $b",
		"$c ? 1 : 2",
		"not $a and $b or $c",
		"foo(1, 2, 'x')",
		"3.0",
		"100.0",
		"1.5e10",
		"my.Pb(a: 1, b: $x)",
		"[1, 2, 3]",
		"['k': 1, 'j': 2]",
		"[:]",
		"[]",
		"$ij.name",
		"-$x",
		"a.b.C",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first := mustParseNoError(t, in)
			second := mustParseNoError(t, first.String())
			if diff := cmp.Diff(first, second, astOpts); diff != "" {
				t.Errorf("round-trip mismatch for %q -> %q:\n%s\nstructural diff:\n%s",
					in, first.String(), diffutil.Lines(first.String(), second.String()), diff)
			}
		})
	}
}

// TestPrecedence checks the parse tree respects the precedence table for
// representative combinations.
func TestPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string // canonical fully-parenthesized form
	}{
		{"1 + 2 * 3", "(1+(2*3))"},
		{"1 * 2 + 3", "((1*2)+3)"},
		{"1 - 2 - 3", "((1-2)-3)"},
		{"1 < 2 == 3 < 4", "((1<2)==(3<4))"},
		{"$a and $b or $c", "(($a and $b) or $c)"},
		{"$a or $b and $c", "($a or ($b and $c))"},
		{"not $a == $b", "((not $a)==$b)"},
		{"-$a + $b", "((-$a)+$b)"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			n := mustParseNoError(t, tt.input)
			got := parenthesize(n)
			if got != tt.want {
				t.Errorf("parenthesize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// parenthesize renders n with every operator explicitly parenthesized,
// independent of OperatorNode.String()'s unparenthesized rendering, so the
// precedence test can assert tree shape without depending on String()'s
// particular formatting choices.
func parenthesize(n ast.ExprNode) string {
	switch v := n.(type) {
	case *ast.OperatorNode:
		switch len(v.Operands) {
		case 1:
			return "(" + opText(v.Op) + parenthesize(v.Operands[0]) + ")"
		case 2:
			return "(" + parenthesize(v.Operands[0]) + opText(v.Op) + parenthesize(v.Operands[1]) + ")"
		case 3:
			return "(" + parenthesize(v.Operands[0]) + "?" + parenthesize(v.Operands[1]) + ":" + parenthesize(v.Operands[2]) + ")"
		}
	}
	return n.String()
}

func opText(op ast.OpKind) string {
	switch op {
	case ast.OpOr:
		return " or "
	case ast.OpAnd:
		return " and "
	case ast.OpEq:
		return "=="
	case ast.OpNotEq:
		return "!="
	case ast.OpLt:
		return "<"
	case ast.OpGt:
		return ">"
	case ast.OpLte:
		return "<="
	case ast.OpGte:
		return ">="
	case ast.OpAdd:
		return "+"
	case ast.OpSub:
		return "-"
	case ast.OpMul:
		return "*"
	case ast.OpDiv:
		return "/"
	case ast.OpMod:
		return "%"
	case ast.OpNegate:
		return "-"
	case ast.OpNot:
		return "not "
	}
	return "?"
}

// TestOutOfRangeInteger checks that an integer literal past the 53-bit
// mantissa range reports INTEGER_OUT_OF_RANGE and produces an Int(0) node.
func TestOutOfRangeInteger(t *testing.T) {
	n, errs := parse(t, "9007199254740993")
	if !errs.HasErrors() {
		t.Fatalf("expected INTEGER_OUT_OF_RANGE, got no error")
	}
	found := false
	for _, d := range errs.Diagnostics() {
		if d.Kind == ast.IntegerOutOfRange {
			found = true
		}
	}
	if !found {
		t.Errorf("expected INTEGER_OUT_OF_RANGE diagnostic, got %v", errs.Diagnostics())
	}
	in, ok := n.(*ast.IntNode)
	if !ok || in.Value != 0 {
		t.Errorf("expected Int(0) node, got %#v", n)
	}
}

// TestExpressionListNonEmptyImpliesNoError checks ParseExpressionList's
// invariant: a non-empty return means no error, an error means an empty
// return.
func TestExpressionListNonEmptyImpliesNoError(t *testing.T) {
	errs := ast.NewReporter()
	list := ParseExpressionList("test.soy", "1, 2, $x", origin(), errs)
	if errs.HasErrors() {
		t.Fatalf("unexpected error: %v", errs.Diagnostics())
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 items, got %d", len(list))
	}

	errs2 := ast.NewReporter()
	empty := ParseExpressionList("test.soy", "1, , 2", origin(), errs2)
	if !errs2.HasErrors() {
		t.Fatalf("expected a parse error for malformed list")
	}
	if empty != nil {
		t.Errorf("expected nil list on error, got %v", empty)
	}
}

// TestProtoInitDuplicateField checks that duplicate field names report
// DUPLICATE_PARAM_NAME.
func TestProtoInitDuplicateField(t *testing.T) {
	_, errs := parse(t, "my.Pb(a: 1, a: 2)")
	found := false
	for _, d := range errs.Diagnostics() {
		if d.Kind == ast.DuplicateParamName {
			found = true
		}
	}
	if !found {
		t.Errorf("expected DUPLICATE_PARAM_NAME, got %v", errs.Diagnostics())
	}
}

// TestProtoInitShape checks the proto-init tree shape and field order.
func TestProtoInitShape(t *testing.T) {
	n := mustParseNoError(t, "my.Pb(a: 1, b: $x)")
	p, ok := n.(*ast.ProtoInitNode)
	if !ok {
		t.Fatalf("expected *ast.ProtoInitNode, got %T", n)
	}
	if p.Name != "my.Pb" {
		t.Errorf("Name = %q, want my.Pb", p.Name)
	}
	if p.Fields.Len() != 2 {
		t.Fatalf("expected 2 fields, got %d", p.Fields.Len())
	}
	a, _ := p.Fields.Get("a")
	if _, ok := a.(*ast.IntNode); !ok {
		t.Errorf("field a = %T, want *ast.IntNode", a)
	}
	b, _ := p.Fields.Get("b")
	if v, ok := b.(*ast.VarRefNode); !ok || v.Name != "x" {
		t.Errorf("field b = %#v, want VarRefNode{Name: x}", b)
	}
}

// TestMapVsList checks the empty-map/empty-list distinction and trailing
// commas.
func TestMapVsList(t *testing.T) {
	tests := []struct {
		input string
		check func(t *testing.T, n ast.ExprNode)
	}{
		{"[:]", func(t *testing.T, n ast.ExprNode) {
			m, ok := n.(*ast.MapLiteralNode)
			if !ok || len(m.Pairs) != 0 {
				t.Errorf("expected empty MapLiteralNode, got %#v", n)
			}
			if m.String() != "[:]" {
				t.Errorf("String() = %q, want [:]", m.String())
			}
		}},
		{"[]", func(t *testing.T, n ast.ExprNode) {
			l, ok := n.(*ast.ListLiteralNode)
			if !ok || len(l.Items) != 0 {
				t.Errorf("expected empty ListLiteralNode, got %#v", n)
			}
		}},
		{"['k': 1,]", func(t *testing.T, n ast.ExprNode) {
			m, ok := n.(*ast.MapLiteralNode)
			if !ok || len(m.Pairs) != 1 {
				t.Fatalf("expected 1-pair MapLiteralNode, got %#v", n)
			}
			k, ok := m.Pairs[0].Key.(*ast.StrNode)
			if !ok || k.Value != "k" {
				t.Errorf("key = %#v, want Str(k)", m.Pairs[0].Key)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			n := mustParseNoError(t, tt.input)
			tt.check(t, n)
		})
	}
}

// TestBareIdentifierMapKeyRejected checks that a bare identifier used as a
// map key is rejected with a hint to quote it, while a dotted global or a
// parenthesized expression passes.
func TestBareIdentifierMapKeyRejected(t *testing.T) {
	errs := ast.NewReporter()
	n := ParseExpression("test.soy", "[a: 1]", origin(), errs)
	found := false
	for _, d := range errs.Diagnostics() {
		if d.Kind == ast.SingleIdentifierKeyInMapLiteral {
			found = true
		}
	}
	if !found {
		t.Errorf("expected SINGLE_IDENTIFIER_KEY_IN_MAP_LITERAL, got %v", errs.Diagnostics())
	}
	if _, ok := n.(*ast.MapLiteralNode); !ok {
		t.Errorf("expected MapLiteralNode despite the error, got %T", n)
	}

	mustParseNoError(t, "[a.b: 1]")
	mustParseNoError(t, "[(a): 1]")
}

// TestEndToEndExpressionScenario checks the left-associative access chain
// feeding a binary operator.
func TestEndToEndExpressionScenario(t *testing.T) {
	n := mustParseNoError(t, "$aaa[0].bbb + round(3.14)")
	op, ok := n.(*ast.OperatorNode)
	if !ok || op.Op != ast.OpAdd {
		t.Fatalf("expected top-level +, got %#v", n)
	}
	left, ok := op.Operands[0].(*ast.FieldAccessNode)
	if !ok || left.Field != "bbb" {
		t.Fatalf("expected left = FieldAccess(..., bbb), got %#v", op.Operands[0])
	}
	item, ok := left.Parent.(*ast.ItemAccessNode)
	if !ok {
		t.Fatalf("expected left.Parent = ItemAccess, got %#v", left.Parent)
	}
	base, ok := item.Parent.(*ast.VarRefNode)
	if !ok || base.Name != "aaa" {
		t.Fatalf("expected base = VarRef(aaa), got %#v", item.Parent)
	}
	right, ok := op.Operands[1].(*ast.FunctionCallNode)
	if !ok || right.Name != "round" || len(right.Args) != 1 {
		t.Fatalf("expected right = FunctionCall(round, [3.14]), got %#v", op.Operands[1])
	}
	if f, ok := right.Args[0].(*ast.FloatNode); !ok || f.Value != 3.14 {
		t.Errorf("expected arg 3.14, got %#v", right.Args[0])
	}
}

// TestParseVariableRejectsIj checks that ParseVariable refuses the $ij
// form with its own diagnostic, while the expression parser accepts
// $ij.name and rejects a bare $ij.
func TestParseVariableRejectsIj(t *testing.T) {
	errs := ast.NewReporter()
	v := ParseVariable("test.soy", "$ij", origin(), errs)
	if !errs.HasErrors() {
		t.Fatalf("expected an error for $ij as a variable")
	}
	if d := errs.Diagnostics()[0]; d.Kind != ast.InvalidVarNameIj {
		t.Errorf("expected INVALID_VAR_NAME_IJ, got %v", d)
	}
	if v == nil {
		t.Errorf("expected a sentinel VarRefNode, got nil")
	}

	errs2 := ast.NewReporter()
	n := ParseExpression("test.soy", "$ij", origin(), errs2)
	if !errs2.HasErrors() {
		t.Fatalf("expected an error for bare $ij in an expression")
	}
	if d := errs2.Diagnostics()[0]; d.Kind != ast.UnexpectedIjDataReference {
		t.Errorf("expected UNEXPECTED_IJ_DATA_REFERENCE, got %v", d)
	}
	if v, ok := n.(*ast.VarRefNode); !ok || !v.IsInjected {
		t.Errorf("expected a partial injected VarRefNode, got %#v", n)
	}

	plain := ParseVariable("test.soy", "$foo", origin(), ast.NewReporter())
	if plain == nil || plain.Name != "foo" || plain.IsInjected {
		t.Errorf("expected VarRef(foo), got %#v", plain)
	}
}

// TestHexIntAndFloat covers the numeric lexing edge cases.
func TestHexIntAndFloat(t *testing.T) {
	n := mustParseNoError(t, "0xFF")
	if i, ok := n.(*ast.IntNode); !ok || i.Value != 255 {
		t.Errorf("0xFF = %#v, want Int(255)", n)
	}

	// a bare trailing dot is field access, not a float: "1." has no digit
	// after the dot, so the dot must be left to the postfix parser. Without
	// a field name, that's an error -- but it proves the lexer didn't fold
	// it into a float.
	errs := ast.NewReporter()
	ParseExpression("test.soy", "1.", origin(), errs)
	if !errs.HasErrors() {
		t.Errorf("expected an error for '1.' with no field name")
	}

	f := mustParseNoError(t, "1.5e10")
	if fl, ok := f.(*ast.FloatNode); !ok || fl.Value != 1.5e10 {
		t.Errorf("1.5e10 = %#v, want Float(1.5e10)", f)
	}

	// A whole-number float must render with a decimal point so it re-lexes
	// as a float, not an integer.
	whole := mustParseNoError(t, "3.0")
	if whole.String() != "3.0" {
		t.Errorf("String() = %q, want 3.0", whole.String())
	}
}

// TestStringEscapes covers the full escape set.
func TestStringEscapes(t *testing.T) {
	n := mustParseNoError(t, `'a\n\t\u0041'`)
	s, ok := n.(*ast.StrNode)
	if !ok {
		t.Fatalf("expected *ast.StrNode, got %T", n)
	}
	want := "a\n\tA"
	if s.Value != want {
		t.Errorf("Value = %q, want %q", s.Value, want)
	}
}

// TestLegacyTokensProduceDiagnostics checks that the && || ! and bare "
// tokens are recognized just enough to produce precise error messages.
func TestLegacyTokensProduceDiagnostics(t *testing.T) {
	for _, in := range []string{"$a && $b", "$a || $b", "!$a", `"x"`} {
		_, errs := parse(t, in)
		if !errs.HasErrors() {
			t.Errorf("expected a diagnostic for legacy token input %q", in)
		}
	}
}
