// Package diffutil renders human-readable unified diffs of AST string
// forms for use in test failure messages.
package diffutil

import "github.com/andreyvit/diff"

// Lines returns a unified line diff between expected and actual, suitable
// for embedding directly in a t.Errorf message.
func Lines(expected, actual string) string {
	return diff.LineDiff(expected, actual)
}

// Chars returns a character-level diff, useful when expected and actual are
// short single-line strings (e.g. one AST node's String() form) where a line
// diff would just show "entire line differs".
func Chars(expected, actual string) string {
	return diff.CharacterDiff(expected, actual)
}
