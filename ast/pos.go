// Package ast holds the shared data model used by both ExprParser and
// HtmlRewriter: source locations, the node-id arena, the error-reporter
// contract, the expression AST, and the relevant slice of the template/HTML
// AST. It is the "leaf" layer both subsystems depend on (see the dependency
// order in the system overview).
package ast

import "fmt"

// Point is a single position within a source file: a line and column, both
// 1-based, plus the name of the file they refer to. Points are totally
// ordered within a file.
type Point struct {
	Filename string
	Line     int
	Col      int
}

// Before reports whether p comes strictly before q in the same file.
func (p Point) Before(q Point) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Col < q.Col
}

func (p Point) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Col)
}

// SourceLocation is a span between two Points. Locations are immutable and
// cheap to copy (two small structs).
type SourceLocation struct {
	Start, End Point
}

// Filename returns the file this location refers to.
func (l SourceLocation) Filename() string {
	return l.Start.Filename
}

func (l SourceLocation) String() string {
	if l.Start == l.End {
		return l.Start.String()
	}
	return fmt.Sprintf("%s-%d:%d", l.Start, l.End.Line, l.End.Col)
}

// Extend returns the smallest SourceLocation that covers both a and b.
// Both must belong to the same file; callers never extend across files.
func Extend(a, b SourceLocation) SourceLocation {
	var start, end = a.Start, a.End
	if b.Start.Before(start) {
		start = b.Start
	}
	if end.Before(b.End) {
		end = b.End
	}
	return SourceLocation{start, end}
}

// HasLocation is satisfied by every node in both ASTs.
type HasLocation interface {
	Location() SourceLocation
}
