package engine

// enqueueBlockTasks is the block-task gate. It computes T,
// the minimum checkpoint across every range tracker of every kind; if T has
// advanced past the last watermark, every block-callback key at or below T
// is drained into one BLOCK task each and registered as pending in the
// block tracker.
//
// Ordering guarantee: by definition of checkpoint, no future log-filter or
// factory-log-filter task will register a callback for a block number <= T,
// so the block tasks enqueued here are complete for their range.
func (s *Service) enqueueBlockTasks() {
	s.mu.Lock()

	t, ok := s.minTrackerCheckpoint()
	if !ok || t <= s.enqueuedUpTo {
		s.mu.Unlock()
		return
	}

	threshold := uint64(t)
	var tasks []Task
	var pendingNumbers []uint64
	for number, callbacks := range s.blockCallbacks {
		if number > threshold {
			continue
		}
		tasks = append(tasks, Task{Kind: TaskBlock, Number: number, Callbacks: callbacks})
		pendingNumbers = append(pendingNumbers, number)
		delete(s.blockCallbacks, number)
	}

	s.blockTracker.AddPendingBlocks(pendingNumbers)
	s.enqueuedUpTo = t

	s.mu.Unlock()

	s.addTasks(tasks, false)
}
