package interval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockcrawl/histsync/pkg/interval"
)

func TestCanonicalize_MergesOverlapsAndAdjacencies(t *testing.T) {
	got := interval.Canonicalize([]interval.Range{
		{From: 4, To: 6},
		{From: 1, To: 3},
		{From: 10, To: 12},
		{From: 7, To: 9},
	})
	require.Equal(t, []interval.Range{{From: 1, To: 12}}, got)
}

func TestUnion(t *testing.T) {
	a := []interval.Range{{From: 1, To: 3}}
	b := []interval.Range{{From: 4, To: 6}}
	assert.Equal(t, []interval.Range{{From: 1, To: 6}}, interval.Union(a, b))

	c := []interval.Range{{From: 1, To: 3}, {From: 10, To: 12}}
	d := []interval.Range{{From: 20, To: 25}}
	assert.Equal(t, []interval.Range{{From: 1, To: 3}, {From: 10, To: 12}, {From: 20, To: 25}}, interval.Union(c, d))
}

func TestDifference(t *testing.T) {
	a := []interval.Range{{From: 100, To: 199}}
	b := []interval.Range{{From: 100, To: 149}}
	assert.Equal(t, []interval.Range{{From: 150, To: 199}}, interval.Difference(a, b))

	// subtracting a hole in the middle
	got := interval.Difference([]interval.Range{{From: 1, To: 10}}, []interval.Range{{From: 4, To: 6}})
	assert.Equal(t, []interval.Range{{From: 1, To: 3}, {From: 7, To: 10}}, got)

	// subtracting everything leaves nothing
	assert.Empty(t, interval.Difference([]interval.Range{{From: 1, To: 10}}, []interval.Range{{From: 0, To: 20}}))
}

func TestIntersection(t *testing.T) {
	a := []interval.Range{{From: 1, To: 10}}
	b := []interval.Range{{From: 5, To: 15}}
	assert.Equal(t, []interval.Range{{From: 5, To: 10}}, interval.Intersection(a, b))

	assert.Empty(t, interval.Intersection([]interval.Range{{From: 1, To: 3}}, []interval.Range{{From: 4, To: 6}}))
}

func TestSum(t *testing.T) {
	assert.Equal(t, uint64(0), interval.Sum(nil))
	assert.Equal(t, uint64(10), interval.Sum([]interval.Range{{From: 100, To: 109}}))
	assert.Equal(t, uint64(20), interval.Sum([]interval.Range{{From: 100, To: 109}, {From: 200, To: 209}}))
}

func TestChunks_SplitsByWidthOnly(t *testing.T) {
	got := interval.Chunks([]interval.Range{{From: 100, To: 199}}, 50)
	assert.Equal(t, []interval.Range{{From: 100, To: 149}, {From: 150, To: 199}}, got)

	// does not merge across an original gap
	got2 := interval.Chunks([]interval.Range{{From: 0, To: 5}, {From: 100, To: 105}}, 1000)
	assert.Equal(t, []interval.Range{{From: 0, To: 5}, {From: 100, To: 105}}, got2)
}

// sum(union(A,B)) = sum(A) + sum(B) - sum(intersection(A,B)), and
// difference(A,B) combined with intersection(A,B) reconstructs A exactly.
func TestClosureProperty(t *testing.T) {
	a := []interval.Range{{From: 0, To: 99}, {From: 200, To: 299}}
	b := []interval.Range{{From: 50, To: 249}}

	union := interval.Union(a, b)
	inter := interval.Intersection(a, b)
	diff := interval.Difference(a, b)

	assert.Equal(t, interval.Sum(a)+interval.Sum(b)-interval.Sum(inter), interval.Sum(union))
	assert.Equal(t, interval.Canonicalize(a), interval.Union(diff, inter))
}
