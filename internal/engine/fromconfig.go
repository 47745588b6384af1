package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blockcrawl/histsync/pkg/config"
)

// SourcesFromConfig converts the operator-facing SourceConfig list into the
// engine's internal Source variant, resolving each source's effective
// max block range against the network default and parsing hex address/topic
// strings into go-ethereum types.
func SourcesFromConfig(network config.NetworkConfig, sources []config.SourceConfig) ([]*Source, error) {
	out := make([]*Source, 0, len(sources))
	for i := range sources {
		sc := &sources[i]
		src, err := sourceFromConfig(network, sc)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func sourceFromConfig(network config.NetworkConfig, sc *config.SourceConfig) (*Source, error) {
	src := &Source{
		Name:          sc.Name,
		ChainID:       network.ChainID,
		StartBlock:    sc.StartBlock,
		EndBlock:      sc.EndBlock,
		MaxBlockRange: sc.EffectiveMaxBlockRange(network),
	}

	addresses, err := parseAddresses(sc.Addresses)
	if err != nil {
		return nil, err
	}
	topics, err := parseTopics(sc.Topics)
	if err != nil {
		return nil, err
	}

	switch sc.Type {
	case config.SourceTypeLogFilter:
		src.Addresses = addresses
		src.Topics = topics
	case config.SourceTypeFactory:
		src.IsFactory = true
		src.FactoryAddress = common.HexToAddress(sc.Address)
		src.EventSelector = common.HexToHash(sc.EventSelector)
		src.ChildAddressLocation = sc.ChildAddressLocation
		src.Topics = topics
	default:
		return nil, fmt.Errorf("unknown source type %q", sc.Type)
	}

	return src, nil
}

func parseAddresses(raw []string) ([]common.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]common.Address, len(raw))
	for i, a := range raw {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid address %q", a)
		}
		out[i] = common.HexToAddress(a)
	}
	return out, nil
}

// parseTopics converts a per-position list of hex topic hashes into
// go-ethereum's [][]common.Hash filter shape. An empty position matches any
// topic at that index.
func parseTopics(raw [][]string) ([][]common.Hash, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([][]common.Hash, len(raw))
	for i, position := range raw {
		hashes := make([]common.Hash, len(position))
		for j, t := range position {
			hashes[j] = common.HexToHash(t)
		}
		out[i] = hashes
	}
	return out, nil
}
