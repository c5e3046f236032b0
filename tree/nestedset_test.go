package tree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTree mirrors what the store does with SQL updates.
type memTree struct {
	nodes  map[int]Bounds
	levels map[int]int
	nextID int
}

func newMemTree() *memTree {
	t := &memTree{nodes: map[int]Bounds{}, levels: map[int]int{}}
	t.nodes[0] = RootSlot().Bounds
	return t
}

func shifted(s Shift, b Bounds) Bounds {
	return Bounds{Left: s.Apply(b.Left), Right: s.Apply(b.Right)}
}

func (t *memTree) insert(parent int) int {
	p := t.nodes[parent]
	slot := LastChild(p, t.levels[parent])
	shift := InsertShift(p)
	for id, b := range t.nodes {
		t.nodes[id] = shifted(shift, b)
	}
	t.nextID++
	t.nodes[t.nextID] = slot.Bounds
	t.levels[t.nextID] = slot.Level
	return t.nextID
}

func (t *memTree) remove(id int) {
	n := t.nodes[id]
	for other, b := range t.nodes {
		if b.Left >= n.Left && b.Right <= n.Right {
			delete(t.nodes, other)
			delete(t.levels, other)
		}
	}
	shift := RemoveShift(n)
	for other, b := range t.nodes {
		t.nodes[other] = shifted(shift, b)
	}
}

func (t *memTree) ordered() ([]int, []Bounds) {
	ids := make([]int, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return t.nodes[ids[i]].Left < t.nodes[ids[j]].Left })
	bounds := make([]Bounds, len(ids))
	for i, id := range ids {
		bounds[i] = t.nodes[id]
	}
	return ids, bounds
}

func TestLastChildAndShift(t *testing.T) {
	root := RootSlot().Bounds
	slot := LastChild(root, 0)
	assert.Equal(t, Bounds{Left: 2, Right: 3}, slot.Bounds)
	assert.Equal(t, 1, slot.Level)

	shift := InsertShift(root)
	assert.Equal(t, Bounds{Left: 1, Right: 4}, shifted(shift, root))
	assert.Equal(t, 1, shift.Apply(1))
}

func TestRemoveShiftClosesGap(t *testing.T) {
	node := Bounds{Left: 2, Right: 7}
	shift := RemoveShift(node)
	assert.Equal(t, -6, shift.Delta)
	assert.Equal(t, Bounds{Left: 1, Right: 4}, shifted(shift, Bounds{Left: 1, Right: 10}))
	assert.Equal(t, 2, node.Descendants())
}

func TestDepthsFollowsNesting(t *testing.T) {
	// A(B(C), D), E
	nodes := []Bounds{{1, 8}, {2, 5}, {3, 4}, {6, 7}, {9, 10}}
	assert.Equal(t, []int{0, 1, 2, 1, 0}, Depths(nodes))
}

func TestDepthsWithLeadingAncestors(t *testing.T) {
	// window starts at C; ancestors A and B are prepended
	lead := []Bounds{{1, 8}, {2, 5}}
	window := []Bounds{{3, 4}, {6, 7}, {9, 10}}
	depths := Depths(append(lead, window...))
	assert.Equal(t, []int{2, 1, 0}, depths[len(lead):])
}

func TestCheckRejectsOverlap(t *testing.T) {
	require.NoError(t, Check([]Bounds{{1, 6}, {2, 3}, {4, 5}}))
	assert.Error(t, Check([]Bounds{{1, 4}, {2, 5}, {3, 6}}))
	assert.Error(t, Check([]Bounds{{1, 4}, {2, 3}, {5, 6}, {5, 8}}))
	assert.Error(t, Check([]Bounds{{1, 2}, {4, 5}}))
}

func TestRandomMutationsKeepInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	mt := newMemTree()
	for step := 0; step < 500; step++ {
		ids, _ := mt.ordered()
		if len(ids) > 1 && rng.Intn(4) == 0 {
			victim := ids[1+rng.Intn(len(ids)-1)]
			mt.remove(victim)
		} else {
			mt.insert(ids[rng.Intn(len(ids))])
		}

		ids, bounds := mt.ordered()
		require.NoError(t, Check(bounds), "step %d", step)

		depths := Depths(bounds)
		for i, id := range ids {
			assert.Equal(t, mt.levels[id], depths[i], "level of node %d at step %d", id, step)
		}
		assert.Equal(t, len(ids)-1, bounds[0].Descendants())
	}
}
