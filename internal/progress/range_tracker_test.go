package progress

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockcrawl/histsync/pkg/interval"
)

func TestNewRangeTracker_EmptyStartsBeforeTarget(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 100, To: 200}, nil)
	assert.Equal(t, int64(99), tr.GetCheckpoint())
	assert.Equal(t, []interval.Range{{From: 100, To: 200}}, tr.GetRequired())
}

func TestNewRangeTracker_ZeroFrom(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 0, To: 10}, nil)
	assert.Equal(t, int64(-1), tr.GetCheckpoint())
}

func TestNewRangeTracker_SeededFromPersistedIntervals(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 100, To: 200}, []interval.Range{{From: 100, To: 150}})
	assert.Equal(t, int64(150), tr.GetCheckpoint())
	assert.Equal(t, []interval.Range{{From: 151, To: 200}}, tr.GetRequired())
}

func TestNewRangeTracker_SeedClippedToTarget(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 100, To: 200}, []interval.Range{{From: 0, To: 300}})
	assert.Equal(t, int64(200), tr.GetCheckpoint())
	assert.Empty(t, tr.GetRequired())
}

func TestRangeTracker_AddCompletedInterval_AdvancesContiguously(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 0, To: 99}, nil)

	upd := tr.AddCompletedInterval(interval.Range{From: 0, To: 49})
	assert.True(t, upd.IsUpdated)
	assert.Equal(t, int64(-1), upd.PrevCheckpoint)
	assert.Equal(t, int64(49), upd.NewCheckpoint)

	upd = tr.AddCompletedInterval(interval.Range{From: 50, To: 99})
	assert.True(t, upd.IsUpdated)
	assert.Equal(t, int64(49), upd.PrevCheckpoint)
	assert.Equal(t, int64(99), upd.NewCheckpoint)
}

func TestRangeTracker_AddCompletedInterval_GapDoesNotAdvance(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 0, To: 99}, nil)

	upd := tr.AddCompletedInterval(interval.Range{From: 50, To: 99})
	assert.False(t, upd.IsUpdated)
	assert.Equal(t, int64(-1), upd.NewCheckpoint)

	upd = tr.AddCompletedInterval(interval.Range{From: 0, To: 49})
	assert.True(t, upd.IsUpdated)
	assert.Equal(t, int64(99), upd.NewCheckpoint)
}

func TestRangeTracker_AddCompletedInterval_OutsideTargetIgnored(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 100, To: 200}, nil)
	upd := tr.AddCompletedInterval(interval.Range{From: 0, To: 99})
	assert.False(t, upd.IsUpdated)
	assert.Equal(t, int64(99), tr.GetCheckpoint())
}

func TestRangeTracker_AddCompletedInterval_Idempotent(t *testing.T) {
	tr := NewRangeTracker(interval.Range{From: 0, To: 99}, nil)
	tr.AddCompletedInterval(interval.Range{From: 0, To: 50})
	upd := tr.AddCompletedInterval(interval.Range{From: 0, To: 50})
	assert.False(t, upd.IsUpdated)
	assert.Equal(t, int64(50), upd.NewCheckpoint)
}

// Regardless of the order in which sub-ranges complete, the checkpoint is
// monotone non-decreasing.
func TestRangeTracker_CheckpointNeverRegresses(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	target := interval.Range{From: 0, To: 999}

	for trial := 0; trial < 20; trial++ {
		tr := NewRangeTracker(target, nil)
		chunks := interval.Chunks([]interval.Range{target}, 10)
		rng.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })

		last := tr.GetCheckpoint()
		for _, c := range chunks {
			tr.AddCompletedInterval(c)
			cur := tr.GetCheckpoint()
			require.GreaterOrEqual(t, cur, last)
			last = cur
		}
		assert.Equal(t, int64(999), tr.GetCheckpoint())
		assert.Empty(t, tr.GetRequired())
	}
}
