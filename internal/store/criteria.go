package store

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Criteria is the (address, topics) filter a coverage row or persisted log
// is keyed by, mirroring internal/fetcher.Criteria. Declared independently
// here (rather than imported) to keep the store free of a dependency on the
// fetcher package; the engine converts between the two at its boundary.
type Criteria struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// fingerprint builds a stable, order-independent key for criteria so the
// same (addresses, topics) always maps to the same coverage rows regardless
// of slice ordering.
func fingerprint(c Criteria) string {
	addrs := make([]string, len(c.Addresses))
	for i, a := range c.Addresses {
		addrs[i] = strings.ToLower(a.Hex())
	}
	sort.Strings(addrs)

	var topicParts []string
	for _, position := range c.Topics {
		hexes := make([]string, len(position))
		for i, h := range position {
			hexes[i] = strings.ToLower(h.Hex())
		}
		sort.Strings(hexes)
		topicParts = append(topicParts, strings.Join(hexes, ","))
	}

	raw := strings.Join(addrs, ",") + "|" + strings.Join(topicParts, ";")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
