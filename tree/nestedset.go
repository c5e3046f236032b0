// Package tree holds the interval arithmetic behind the nested-set comment
// hierarchy. Nothing here touches storage: the store applies the shifts and
// slots computed here inside its own transactions.
package tree

import "fmt"

// Bounds is the nested-set interval of one node.
type Bounds struct {
	Left  int
	Right int
}

// Width is the number of bound values the node and its subtree occupy.
func (b Bounds) Width() int {
	return b.Right - b.Left + 1
}

// Contains reports whether o lies strictly inside b, i.e. b is an ancestor of o.
func (b Bounds) Contains(o Bounds) bool {
	return b.Left < o.Left && o.Right < b.Right
}

// Descendants is the number of nodes below b.
func (b Bounds) Descendants() int {
	return (b.Width() - 2) / 2
}

// Slot is the position and level assigned to a node about to be inserted.
type Slot struct {
	Bounds
	Level int
}

// LastChild returns the slot of a new last child under parent.
func LastChild(parent Bounds, parentLevel int) Slot {
	return Slot{
		Bounds: Bounds{Left: parent.Right, Right: parent.Right + 1},
		Level:  parentLevel + 1,
	}
}

// RootSlot is the slot of a fresh asset root.
func RootSlot() Slot {
	return Slot{Bounds: Bounds{Left: 1, Right: 2}}
}

// Shift moves every bound >= From by Delta.
type Shift struct {
	From  int
	Delta int
}

// InsertShift opens a two-wide gap at the parent's right bound.
func InsertShift(parent Bounds) Shift {
	return Shift{From: parent.Right, Delta: 2}
}

// RemoveShift closes the gap left by removing node and its subtree.
func RemoveShift(node Bounds) Shift {
	return Shift{From: node.Right + 1, Delta: -node.Width()}
}

// Apply returns v after the shift.
func (s Shift) Apply(v int) int {
	if v >= s.From {
		return v + s.Delta
	}
	return v
}

// Depths returns, for nodes given in ascending Left order, the number of
// their ancestors that are also in the list. Callers that page through a
// tree prepend the ancestors of the first paged node and drop them from the
// result afterwards.
func Depths(nodes []Bounds) []int {
	depths := make([]int, len(nodes))
	open := make([]int, 0, 8)
	for i, n := range nodes {
		for len(open) > 0 && open[len(open)-1] < n.Left {
			open = open[:len(open)-1]
		}
		depths[i] = len(open)
		open = append(open, n.Right)
	}
	return depths
}

// Check validates a complete tree given in ascending Left order: bounds
// are the gap-free sequence 1..2n and every pair of intervals is either
// nested or disjoint.
func Check(nodes []Bounds) error {
	if len(nodes) == 0 {
		return nil
	}
	seen := make([]bool, 2*len(nodes)+1)
	mark := func(v int) error {
		if v < 1 || v >= len(seen) {
			return fmt.Errorf("bound %d outside 1..%d", v, len(seen)-1)
		}
		if seen[v] {
			return fmt.Errorf("bound %d used twice", v)
		}
		seen[v] = true
		return nil
	}
	open := make([]Bounds, 0, 8)
	prevLeft := 0
	for _, n := range nodes {
		if n.Left <= prevLeft {
			return fmt.Errorf("node %v out of preorder", n)
		}
		prevLeft = n.Left
		if n.Right <= n.Left || n.Width()%2 != 0 {
			return fmt.Errorf("node %v has a malformed interval", n)
		}
		if err := mark(n.Left); err != nil {
			return err
		}
		if err := mark(n.Right); err != nil {
			return err
		}
		for len(open) > 0 && open[len(open)-1].Right < n.Left {
			open = open[:len(open)-1]
		}
		if len(open) > 0 && !open[len(open)-1].Contains(n) {
			return fmt.Errorf("node %v overlaps %v", n, open[len(open)-1])
		}
		open = append(open, n)
	}
	return nil
}
