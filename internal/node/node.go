// Package node holds the format-neutral tree produced by serialization.
package node

import (
	"fmt"
	"math"
)

type Kind int

const (
	Scalar Kind = iota
	Object
	List
)

// Member is one named entry of an object node. Order is significant.
type Member struct {
	Name  string
	Value *Node
}

// Node is a scalar leaf, an ordered object or a list. Scalars hold only
// nil, bool, int64, float64 or string, so a tree never references the
// records it was built from.
type Node struct {
	Kind    Kind
	Value   any
	Members []Member
	Items   []*Node
}

// NewScalar wraps a plain value. Integer and float widths are normalized so
// equality and encoding do not depend on the source driver.
func NewScalar(v any) *Node {
	return &Node{Kind: Scalar, Value: normalize(v)}
}

func Null() *Node { return &Node{Kind: Scalar} }

func NewObject() *Node { return &Node{Kind: Object, Members: []Member{}} }

func NewList(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{Kind: List, Items: items}
}

// Set appends a member, or replaces the value of an existing one in place.
func (n *Node) Set(name string, v *Node) *Node {
	for i := range n.Members {
		if n.Members[i].Name == name {
			n.Members[i].Value = v
			return n
		}
	}
	n.Members = append(n.Members, Member{Name: name, Value: v})
	return n
}

// Get returns the member value with the given name, or nil.
func (n *Node) Get(name string) *Node {
	for _, m := range n.Members {
		if m.Name == name {
			return m.Value
		}
	}
	return nil
}

func (n *Node) Append(items ...*Node) *Node {
	n.Items = append(n.Items, items...)
	return n
}

func (n *Node) IsNull() bool {
	return n == nil || (n.Kind == Scalar && n.Value == nil)
}

// Equal compares two trees structurally. Numbers compare by value, so an
// int64 leaf equals a float64 leaf of the same magnitude.
func Equal(a, b *Node) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Object:
		if len(a.Members) != len(b.Members) {
			return false
		}
		for i := range a.Members {
			if a.Members[i].Name != b.Members[i].Name || !Equal(a.Members[i].Value, b.Members[i].Value) {
				return false
			}
		}
		return true
	case List:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(a.Value, b.Value)
	}
}

func scalarEqual(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return fa == fb
	}
	return a == b
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func normalize(v any) any {
	switch n := v.(type) {
	case nil, bool, string, int64, float64:
		return n
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return float64(n)
		}
		return int64(n)
	case float32:
		return float64(n)
	case []byte:
		return string(n)
	case fmt.Stringer:
		return n.String()
	default:
		return fmt.Sprint(n)
	}
}

// String renders a scalar leaf as text; null renders as "".
func (n *Node) String() string {
	if n.IsNull() {
		return ""
	}
	switch v := n.Value.(type) {
	case string:
		return v
	case float64:
		return formatFloat(v)
	default:
		return fmt.Sprint(v)
	}
}
