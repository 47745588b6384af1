// Package progress implements the two checkpoint trackers of the historical
// sync engine: a RangeTracker over a target block interval, and a
// BlockTracker over individually-pending block numbers.
package progress

import (
	"github.com/blockcrawl/histsync/pkg/interval"
)

// CheckpointUpdate reports the result of advancing a RangeTracker.
type CheckpointUpdate struct {
	IsUpdated      bool
	PrevCheckpoint int64
	NewCheckpoint  int64
}

// RangeTracker holds a target block range and the set of completed
// sub-ranges within it, exposing a monotone checkpoint: the largest B such
// that [target.From, B] is fully completed.
//
// The checkpoint is a signed int64 because target.From may be 0, in which
// case "nothing completed yet" is represented as -1.
type RangeTracker struct {
	target     interval.Range
	completed  []interval.Range
	checkpoint int64
}

// NewRangeTracker builds a tracker for target, seeding it with
// initialCompleted clipped to target via intersection.
func NewRangeTracker(target interval.Range, initialCompleted []interval.Range) *RangeTracker {
	clipped := interval.Intersection([]interval.Range{target}, initialCompleted)
	t := &RangeTracker{
		target:    target,
		completed: clipped,
	}
	t.checkpoint = t.computeCheckpoint()
	return t
}

// Target returns the tracker's target range.
func (t *RangeTracker) Target() interval.Range {
	return t.target
}

// Completed returns a copy of the tracker's completed intervals, in
// canonical form.
func (t *RangeTracker) Completed() []interval.Range {
	out := make([]interval.Range, len(t.completed))
	copy(out, t.completed)
	return out
}

// AddCompletedInterval intersects r with the target, unions it into
// completed, and recomputes the checkpoint.
func (t *RangeTracker) AddCompletedInterval(r interval.Range) CheckpointUpdate {
	prev := t.checkpoint

	clipped := interval.Intersection([]interval.Range{t.target}, []interval.Range{r})
	if len(clipped) > 0 {
		t.completed = interval.Union(t.completed, clipped)
	}

	t.checkpoint = t.computeCheckpoint()

	return CheckpointUpdate{
		IsUpdated:      t.checkpoint > prev,
		PrevCheckpoint: prev,
		NewCheckpoint:  t.checkpoint,
	}
}

// GetRequired returns the portion of the target range not yet completed.
func (t *RangeTracker) GetRequired() []interval.Range {
	return interval.Difference([]interval.Range{t.target}, t.completed)
}

// GetCheckpoint returns the current checkpoint: the largest B such that
// [target.From, B] is fully completed, or target.From - 1 if nothing from
// target.From is completed.
func (t *RangeTracker) GetCheckpoint() int64 {
	return t.checkpoint
}

func (t *RangeTracker) computeCheckpoint() int64 {
	if len(t.completed) > 0 && t.completed[0].From == t.target.From {
		return int64(t.completed[0].To)
	}
	return int64(t.target.From) - 1
}
