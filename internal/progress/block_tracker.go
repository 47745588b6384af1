package progress

import "sort"

// BlockCheckpoint is a (block number, block timestamp) pair.
type BlockCheckpoint struct {
	Number    uint64
	Timestamp uint64
}

// BlockTracker accepts pending block numbers and completed (number,
// timestamp) pairs, and emits a checkpoint only once every pending block at
// or below some number has completed.
type BlockTracker struct {
	pending        []uint64
	completed      map[uint64]uint64
	lastCheckpoint *BlockCheckpoint
}

// NewBlockTracker builds an empty block tracker.
func NewBlockTracker() *BlockTracker {
	return &BlockTracker{
		completed: make(map[uint64]uint64),
	}
}

// AddPendingBlocks merges ns into the sorted pending set. Callers must not
// re-add numbers that have already completed and popped.
func (t *BlockTracker) AddPendingBlocks(ns []uint64) {
	if len(ns) == 0 {
		return
	}
	t.pending = append(t.pending, ns...)
	sort.Slice(t.pending, func(i, j int) bool { return t.pending[i] < t.pending[j] })
}

// AddCompletedBlock records (n, ts), then pops every smallest pending number
// that has a stored completion. Returns the new checkpoint and true iff the
// checkpoint advanced during this call.
func (t *BlockTracker) AddCompletedBlock(n, ts uint64) (BlockCheckpoint, bool) {
	t.completed[n] = ts

	advanced := false
	for len(t.pending) > 0 {
		head := t.pending[0]
		completedTS, ok := t.completed[head]
		if !ok {
			break
		}
		t.pending = t.pending[1:]
		delete(t.completed, head)
		t.lastCheckpoint = &BlockCheckpoint{Number: head, Timestamp: completedTS}
		advanced = true
	}

	if !advanced || t.lastCheckpoint == nil {
		return BlockCheckpoint{}, false
	}
	return *t.lastCheckpoint, true
}

// LastCheckpoint returns the most recently emitted checkpoint, if any.
func (t *BlockTracker) LastCheckpoint() (BlockCheckpoint, bool) {
	if t.lastCheckpoint == nil {
		return BlockCheckpoint{}, false
	}
	return *t.lastCheckpoint, true
}

// Pending returns the number of block numbers still awaiting completion.
func (t *BlockTracker) Pending() int {
	return len(t.pending)
}
