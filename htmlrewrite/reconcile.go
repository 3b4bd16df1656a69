package htmlrewrite

// reconcile computes the least upper bound of the ending states of every
// branch of a control-flow construct, folding pairwise left to right.
// ok is false when the states cannot be reconciled, in which case the
// caller reports BLOCK_CHANGES_CONTEXT using hintFor(states) for the
// message. notGuaranteed is true when the BeforeAttributeValue special
// case applied despite the branches not being guaranteed to run exactly
// once: the caller reports
// CONDITIONAL_BLOCK_ISNT_GUARANTEED_TO_PRODUCE_ONE_ATTRIBUTE_VALUE as a
// warning but still proceeds with the reconciled state.
func reconcile(states []State, exactlyOneBranchExecutesOnce bool) (state State, ok bool, notGuaranteed bool) {
	if len(states) == 0 {
		return None, true, false
	}
	cur := states[0]
	for _, s := range states[1:] {
		next, ok2, ng := reconcile2(cur, s, exactlyOneBranchExecutesOnce)
		if !ok2 {
			return cur, false, false
		}
		cur = next
		notGuaranteed = notGuaranteed || ng
	}
	return cur, true, notGuaranteed
}

// reconcile2 joins two ending states:
//   - equal states join to themselves;
//   - two in-tag states join to AfterTagNameOrAttribute;
//   - BeforeAttributeValue joins with UnquotedAttrValue,
//     AfterTagNameOrAttribute, or BeforeAttributeName to the latter. This is
//     what lets `x={if $c}"a"{else}"b"{/if}` work: the branch that supplied
//     the whole value ends past the attribute, while an absent/empty branch
//     is still sitting before it. It is only sound when exactly one branch
//     is guaranteed to execute; otherwise the join still applies but is
//     flagged notGuaranteed.
func reconcile2(a, b State, exactlyOnce bool) (state State, ok bool, notGuaranteed bool) {
	if a == b {
		return a, true, false
	}
	if a.InTag() && b.InTag() {
		return AfterTagNameOrAttribute, true, false
	}
	if a == BeforeAttributeValue && joinsWithBeforeAttributeValue(b) {
		return b, true, !exactlyOnce
	}
	if b == BeforeAttributeValue && joinsWithBeforeAttributeValue(a) {
		return a, true, !exactlyOnce
	}
	return a, false, false
}

func joinsWithBeforeAttributeValue(s State) bool {
	switch s {
	case UnquotedAttrValue, AfterTagNameOrAttribute, BeforeAttributeName:
		return true
	}
	return false
}

// hintFor derives a short nudge to append to a failed-reconciliation
// diagnostic.
func hintFor(states []State) string {
	for _, s := range states {
		if s == BeforeAttributeValue || s == SingleQuotedAttrValue || s == DoubleQuotedAttrValue {
			return "did you forget to close the attribute value?"
		}
		if s.InTag() {
			return "did you forget to close the tag?"
		}
	}
	return "branches end in incompatible HTML parsing contexts"
}
