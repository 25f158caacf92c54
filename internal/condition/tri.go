package condition

// Tri is a three-valued logic result: true, false, or unknown (the
// condition could not be evaluated, e.g. a missing attribute or a type
// mismatch).
type Tri int

const (
	Unknown Tri = iota
	True
	False
)

// FromBool lifts a plain boolean into the tri-state.
func FromBool(b bool) Tri {
	if b {
		return True
	}
	return False
}

// And folds child results per the spec: false if any child is false,
// else unknown if any child is unknown, else true.
func And(children []Tri) Tri {
	sawUnknown := false
	for _, c := range children {
		if c == False {
			return False
		}
		if c == Unknown {
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return True
}

// Or folds child results per the spec: true if any child is true, else
// unknown if any child is unknown, else false.
func Or(children []Tri) Tri {
	sawUnknown := false
	for _, c := range children {
		if c == True {
			return True
		}
		if c == Unknown {
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return False
}

// Not negates a single child; unknown stays unknown, and a not with no
// children is unknown.
func Not(children []Tri) Tri {
	if len(children) == 0 {
		return Unknown
	}
	switch children[0] {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}
