package ast

import "testing"

func TestRawTextLocationOf(t *testing.T) {
	start := Point{"f", 3, 10}
	n := NewRawTextNode(1, SourceLocation{start, start}, "ab\ncd")
	tests := []struct {
		index int
		want  Point
	}{
		{0, Point{"f", 3, 10}},
		{1, Point{"f", 3, 11}},
		{3, Point{"f", 4, 1}}, // first byte after the newline
		{4, Point{"f", 4, 2}},
	}
	for _, tt := range tests {
		if got := n.LocationOf(tt.index); got != tt.want {
			t.Errorf("LocationOf(%d) = %v, want %v", tt.index, got, tt.want)
		}
	}
}

func TestRawTextSubstring(t *testing.T) {
	start := Point{"f", 1, 1}
	n := NewRawTextNodeWithMissingWhitespace(1, SourceLocation{start, start}, "hello world", []int{5})
	sub := n.Substring(2, 6, 11)
	if sub.Text != "world" {
		t.Fatalf("Text = %q, want world", sub.Text)
	}
	if got := sub.Location().Start; got != (Point{"f", 1, 7}) {
		t.Errorf("Start = %v, want f:1:7", got)
	}
	if got := sub.LocationOf(4); got != (Point{"f", 1, 11}) {
		t.Errorf("LocationOf(4) = %v, want f:1:11", got)
	}
	// The join point at index 5 is outside [6, 11] and must not carry over.
	if sub.MissingWhitespaceAt(0) {
		t.Errorf("unexpected joined-whitespace point in substring")
	}

	pre := n.Substring(3, 0, 5)
	if !pre.MissingWhitespaceAt(5) {
		t.Errorf("expected the joined-whitespace point at the end of the prefix substring")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	start := Point{"f", 1, 1}
	n := NewRawTextNodeWithMissingWhitespace(1, SourceLocation{start, start}, "ab", []int{1})
	c := n.Clone()
	c.missingWhitespace[1] = false
	if !n.MissingWhitespaceAt(1) {
		t.Errorf("mutating the clone leaked into the original")
	}
}
