// Package engine implements the historical sync scheduler: the event-source
// data model, the four task workers, the cross-kind unblocking rule, the
// block-task gate, setup, and completion detection. It composes
// pkg/interval, internal/progress, internal/queue, internal/fetcher, and
// internal/chain into one historical sync service per (network,
// event-source-set) pair.
package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/blockcrawl/histsync/internal/fetcher"
)

// Source is a tagged variant over the two event-source kinds: plain log
// filters and factories.
type Source struct {
	Name    string
	ChainID uint64

	StartBlock    uint64
	EndBlock      *uint64
	MaxBlockRange uint64

	IsFactory bool

	// Log-filter criteria. For a factory, Topics holds the secondary
	// log-filter's topic criteria (matched against child addresses); for a
	// plain log filter it is the only criteria.
	Addresses []common.Address
	Topics    [][]common.Hash

	// Factory-only criteria.
	FactoryAddress       common.Address
	EventSelector        common.Hash
	ChildAddressLocation int
}

// LogFilterCriteria returns the criteria a plain log-filter source's
// primary fetch uses.
func (s *Source) LogFilterCriteria() fetcher.Criteria {
	return fetcher.Criteria{Addresses: s.Addresses, Topics: s.Topics}
}

// FactoryChildCriteria returns the criteria the factory-child-address
// worker uses to discover child contracts: the factory's own address and
// its single discovery-event topic.
func (s *Source) FactoryChildCriteria() fetcher.Criteria {
	return fetcher.Criteria{
		Addresses: []common.Address{s.FactoryAddress},
		Topics:    [][]common.Hash{{s.EventSelector}},
	}
}

// FactoryLogCriteria returns the criteria the factory-log-filter worker
// uses for a batch of child addresses: those addresses, with the factory
// source's own secondary topic filter.
func (s *Source) FactoryLogCriteria(children []common.Address) fetcher.Criteria {
	return fetcher.Criteria{Addresses: children, Topics: s.Topics}
}

// EffectiveEndBlock resolves the source's upper bound against the
// finalized block number.
func (s *Source) EffectiveEndBlock(finalized uint64) uint64 {
	if s.EndBlock != nil && *s.EndBlock < finalized {
		return *s.EndBlock
	}
	return finalized
}

// FactoryLogFilterStoreCriteria returns the fixed criteria key a factory's
// log-filter coverage is persisted under: the factory's address and event
// selector (identifying which discovery stream it is) plus its own
// secondary topic filter. This is distinct from the dynamic per-batch
// criteria a factory-log-filter worker passes to eth_getLogs (which varies
// by the set of child addresses known so far): the persisted coverage key
// must be stable across runs regardless of how many child addresses have
// been discovered.
func (s *Source) FactoryLogFilterStoreCriteria() fetcher.Criteria {
	topics := make([][]common.Hash, 0, len(s.Topics)+1)
	topics = append(topics, []common.Hash{s.EventSelector})
	topics = append(topics, s.Topics...)
	return fetcher.Criteria{
		Addresses: []common.Address{s.FactoryAddress},
		Topics:    topics,
	}
}
