package condition

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// operator is one of the recognized boolean combinators. A JSON list
// whose head is not one of these is treated as an implicit "or" over
// its elements (the legacy representation).
type operator string

const (
	opAnd operator = "and"
	opOr  operator = "or"
	opNot operator = "not"
)

// Leaf is a single typed attribute matcher, the terminal node of a
// condition tree.
type Leaf struct {
	Type  string      `json:"type"`
	Name  string      `json:"name"`
	Match string      `json:"match"`
	Value interface{} `json:"value"`
}

// Node is either a Leaf or a combinator over child Nodes. Exactly one
// of Leaf or (Op != "" and Children) is set.
type Node struct {
	Leaf     *Leaf
	Op       operator
	Children []Node
}

// Empty reports whether this is the zero-value expression, which
// evaluates to true (no audience restriction).
func (n Node) Empty() bool {
	return n.Leaf == nil && n.Op == "" && n.Children == nil
}

// ParseNode decodes raw audience/condition JSON (a leaf object or a
// recursive array) into a Node tree. A missing/empty expression parses
// to the zero Node, which Evaluate treats as unconditionally true.
func ParseNode(raw json.RawMessage) (Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Node{}, nil
	}
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Node{}, xerrors.Errorf("error decoding condition expression: %w", err)
	}
	return parseValue(probe)
}

func parseValue(v interface{}) (Node, error) {
	switch val := v.(type) {
	case nil:
		return Node{}, nil
	case []interface{}:
		if len(val) == 0 {
			return Node{}, nil
		}
		head, isOperator := val[0].(string)
		children := val[1:]
		op := opOr
		if isOperator {
			switch operator(head) {
			case opAnd, opOr, opNot:
				op = operator(head)
			default:
				// legacy form: a list with no recognized operator head is
				// itself a member, so treat the whole list as an OR.
				children = val
			}
		} else {
			children = val
		}
		parsedChildren := make([]Node, 0, len(children))
		for _, c := range children {
			child, err := parseValue(c)
			if err != nil {
				return Node{}, err
			}
			parsedChildren = append(parsedChildren, child)
		}
		return Node{Op: op, Children: parsedChildren}, nil
	case map[string]interface{}:
		leaf := Leaf{
			Type:  stringField(val, "type"),
			Name:  stringField(val, "name"),
			Match: stringField(val, "match"),
			Value: val["value"],
		}
		return Node{Leaf: &leaf}, nil
	case string:
		// a bare string is an audience id; internal/audience expands this
		// marker leaf into that audience's own conditions.
		return Node{Leaf: &Leaf{Type: "__audience_id__", Name: val}}, nil
	default:
		return Node{}, xerrors.Errorf("unrecognized condition node of type %T", v)
	}
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
