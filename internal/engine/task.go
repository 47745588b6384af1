package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockcrawl/histsync/pkg/interval"
)

// TaskKind discriminates the four task variants the queue schedules.
type TaskKind int

const (
	TaskLogFilter TaskKind = iota
	TaskFactoryChild
	TaskFactoryLog
	TaskBlock
)

func (k TaskKind) String() string {
	switch k {
	case TaskLogFilter:
		return "log_filter"
	case TaskFactoryChild:
		return "factory_child_address"
	case TaskFactoryLog:
		return "factory_log_filter"
	case TaskBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Task is a tagged variant over the engine's unit of work. Source and
// From/To are meaningful for the three range-task kinds; Number and
// Callbacks are meaningful for TaskBlock only.
type Task struct {
	Kind   TaskKind
	Source *Source
	From   uint64
	To     uint64

	Number    uint64
	Callbacks []blockCallback
}

// priority is -from (or -blockNumber for block tasks): a standard
// max-heap-by-priority ordering then naturally runs the lowest block number
// first.
func (t Task) priority() int64 {
	if t.Kind == TaskBlock {
		return -int64(t.Number)
	}
	return -int64(t.From)
}

// logInterval is one contiguous sub-range of a fetched log batch, produced
// by buildLogIntervals: it owns the logs at its terminal block, plus the set
// of transaction hashes those logs belong to.
type logInterval struct {
	Start, End uint64
	Logs       []types.Log
	TxHashes   map[common.Hash]struct{}
}

// buildLogIntervals groups logs fetched over [from,to] by block number: one
// interval ending at each block that has logs, owning those logs, plus a
// terminal interval ending at to with no logs if to is not already a
// boundary. This guarantees [from,to] becomes fully cache-coverable even
// when later blocks in the range were empty; an entirely empty range commits
// a single interval with no logs.
//
// Invariant: the first interval's Start is from; the last interval's End is
// to.
func buildLogIntervals(from, to uint64, logs []types.Log) []logInterval {
	byBlock := make(map[uint64][]types.Log)
	for _, l := range logs {
		byBlock[l.BlockNumber] = append(byBlock[l.BlockNumber], l)
	}

	blocks := make([]uint64, 0, len(byBlock))
	for b := range byBlock {
		blocks = append(blocks, b)
	}
	sortUint64s(blocks)

	var out []logInterval
	prev := from
	for _, b := range blocks {
		group := byBlock[b]
		txHashes := make(map[common.Hash]struct{}, len(group))
		for _, l := range group {
			txHashes[l.TxHash] = struct{}{}
		}
		out = append(out, logInterval{Start: prev, End: b, Logs: group, TxHashes: txHashes})
		prev = b + 1
	}
	if prev <= to {
		out = append(out, logInterval{Start: prev, End: to})
	}
	return out
}

func sortUint64s(xs []uint64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// chunkRanges chunks required into tasks of the given kind for source,
// bounded by maxWidth, lowest From first.
func chunkRanges(source *Source, required []interval.Range, maxWidth uint64, kind TaskKind) []Task {
	chunks := interval.Chunks(required, maxWidth)
	tasks := make([]Task, 0, len(chunks))
	for _, c := range chunks {
		tasks = append(tasks, Task{Kind: kind, Source: source, From: c.From, To: c.To})
	}
	return tasks
}
