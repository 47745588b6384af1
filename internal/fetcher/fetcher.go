// Package fetcher implements a resilient remote log fetcher: a single
// eth_getLogs call that, on a recognised provider-specific range-oversize
// error, splits its range and recurses until every sub-call succeeds.
package fetcher

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	histcommon "github.com/blockcrawl/histsync/internal/common"
	"github.com/blockcrawl/histsync/internal/logger"
	"github.com/blockcrawl/histsync/internal/metrics"
)

// Criteria is the (address, topics) filter passed to eth_getLogs: zero or
// more addresses, and zero or more per-position topic filters where an empty
// position matches any topic.
type Criteria struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// LogsClient is the subset of the chain client the fetcher depends on. A
// narrow interface here keeps this package free of any dependency on
// internal/chain, avoiding an import cycle and letting tests supply a fake.
type LogsClient interface {
	GetLogs(ctx context.Context, criteria Criteria, fromBlock, toBlock uint64) ([]types.Log, error)
}

// Fetcher wraps a LogsClient with provider-error classification and
// recursive range splitting.
type Fetcher struct {
	client  LogsClient
	log     *logger.Logger
	network string
}

// New builds a Fetcher. network is the label value attached to the
// rpc_request_duration metric.
func New(client LogsClient, log *logger.Logger, network string) *Fetcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Fetcher{client: client, log: log, network: network}
}

const methodGetLogs = "eth_getLogs"

// GetLogs fetches logs matching criteria in [fromBlock, toBlock], splitting
// and retrying recursively on a recognised provider-specific range-oversize
// error. Any other error is fatal and propagated unchanged.
func (f *Fetcher) GetLogs(ctx context.Context, criteria Criteria, fromBlock, toBlock uint64) ([]types.Log, error) {
	start := time.Now()
	logs, err := f.client.GetLogs(ctx, criteria, fromBlock, toBlock)
	metrics.ObserveRPCDuration(methodGetLogs, f.network, time.Since(start))

	if err == nil {
		return logs, nil
	}

	split, ok := classify(err, fromBlock, toBlock)
	if !ok {
		return nil, err
	}

	f.log.Debugw("splitting oversize log range",
		"from", fromBlock, "to", toBlock,
		"firstFrom", split.first.From, "firstTo", split.first.To,
		"secondFrom", split.second.From, "secondTo", split.second.To,
	)

	firstLogs, err := f.GetLogs(ctx, criteria, split.first.From, split.first.To)
	if err != nil {
		return nil, err
	}
	secondLogs, err := f.GetLogs(ctx, criteria, split.second.From, split.second.To)
	if err != nil {
		return nil, err
	}

	return append(firstLogs, secondLogs...), nil
}

type blockRange struct {
	From, To uint64
}

type rangeSplit struct {
	first, second blockRange
}

// classify inspects err for one of the four recognised provider-specific
// range-oversize patterns and, if found, returns the two sub-ranges
// to retry. ok is false for any other error, which is fatal.
func classify(err error, from, to uint64) (rangeSplit, bool) {
	msg := histcommon.ToLowerWithTrim(err.Error())

	switch {
	case containsAny(msg, "response size exceeded", "more than 10000 results"):
		if a, b, ok := parseSuggestedRange(err.Error()); ok {
			return rangeSplit{
				first:  blockRange{From: a, To: b},
				second: blockRange{From: b + 1, To: to},
			}, true
		}
		return midpointSplit(from, to), true

	case containsAny(msg, "block range less than 20000", "limited to a 10,000 blocks range"):
		return midpointSplit(from, to), true

	default:
		return rangeSplit{}, false
	}
}

func midpointSplit(from, to uint64) rangeSplit {
	mid := from + (to-from)/2
	return rangeSplit{
		first:  blockRange{From: from, To: mid},
		second: blockRange{From: mid + 1, To: to},
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// suggestedRangePattern matches a provider hint like "[0x0, 0x190]",
// "[0, 400]" or `["0x64", "0x7d0"]`, tolerating surrounding whitespace,
// quoting, and either decimal or hex numbers.
var suggestedRangePattern = regexp.MustCompile(`\[\s*"?(0x[0-9a-fA-F]+|\d+)"?\s*,\s*"?(0x[0-9a-fA-F]+|\d+)"?\s*\]`)

// parseSuggestedRange extracts a provider-suggested [a,b] range from msg. On
// any parse failure it returns ok=false so the caller falls back to a
// midpoint split.
func parseSuggestedRange(msg string) (a, b uint64, ok bool) {
	m := suggestedRangePattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, 0, false
	}
	aStr, bStr := m[1], m[2]
	aVal, err := histcommon.ParseUint64orHex(&aStr)
	if err != nil {
		return 0, 0, false
	}
	bVal, err := histcommon.ParseUint64orHex(&bStr)
	if err != nil {
		return 0, 0, false
	}
	if aVal > bVal {
		return 0, 0, false
	}
	return aVal, bVal, true
}
