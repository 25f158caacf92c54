package condition

// Evaluate walks a condition tree against ctx, returning the
// three-valued result described in §4.2. An empty node (no expression
// present in the datafile) is treated as unconditionally true.
func Evaluate(n Node, ctx Context) Tri {
	if n.Empty() {
		return True
	}
	if n.Leaf != nil {
		return evaluateLeaf(*n.Leaf, ctx)
	}
	results := make([]Tri, 0, len(n.Children))
	for _, child := range n.Children {
		results = append(results, Evaluate(child, ctx))
	}
	switch n.Op {
	case opAnd:
		return And(results)
	case opOr:
		return Or(results)
	case opNot:
		return Not(results)
	default:
		return Or(results)
	}
}
