package htmlrewrite

// Design note on list rebuilding vs. in-place edits:
//
// Rewrites are never applied to a block's child list while it is being
// traversed. A single source RawTextNode can spell out more than one
// finished tag (e.g. "<a></a><b></b>" is one raw-text node containing two
// complete tags), so per-node replacement isn't expressive enough on its
// own. Instead, each block is rewritten into a brand new child list:
// rewriteBody walks the original list once, appends finished structural
// nodes and flushed literal-text spans to a fresh output slice, and the
// walker queues that slice as the block's new body. The queued bodies are
// committed together, and only if no error was reported anywhere in the
// file; otherwise every block keeps its original children, so a file that
// produced diagnostics is never left half-rewritten.
