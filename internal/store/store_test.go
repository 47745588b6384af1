package store

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockcrawl/histsync/internal/logger"
	"github.com/blockcrawl/histsync/pkg/config"
	"github.com/blockcrawl/histsync/pkg/interval"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "eventstore_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()

	dbConfig := config.DatabaseConfig{Path: tmpFile.Name()}
	dbConfig.ApplyDefaults()

	sqlDB, err := Open(dbConfig)
	require.NoError(t, err)

	require.NoError(t, RunMigrations(logger.NewNopLogger(), sqlDB))

	st := New(sqlDB, logger.NewNopLogger())

	t.Cleanup(func() {
		st.Close()
		os.Remove(tmpFile.Name())
	})

	return st
}

func testCriteria(addr string) Criteria {
	return Criteria{
		Addresses: []common.Address{common.HexToAddress(addr)},
		Topics:    [][]common.Hash{{common.HexToHash("0x1234")}},
	}
}

func testBlock(number uint64) *types.Block {
	header := &types.Header{Number: big.NewInt(int64(number)), Time: number * 10}
	return types.NewBlockWithHeader(header)
}

func testLog(addr common.Address, blockNumber uint64, txHash common.Hash, logIndex uint) types.Log {
	return types.Log{
		Address:     addr,
		Topics:      []common.Hash{common.HexToHash("0x1234")},
		Data:        []byte{0x01},
		BlockNumber: blockNumber,
		TxHash:      txHash,
		Index:       logIndex,
	}
}

func TestStore_LogFilterIntervalRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	criteria := testCriteria("0x1111111111111111111111111111111111111111")
	addr := criteria.Addresses[0]

	logs := []types.Log{
		testLog(addr, 105, common.HexToHash("0xaaa"), 0),
		testLog(addr, 110, common.HexToHash("0xbbb"), 1),
	}
	err := st.InsertLogFilterInterval(ctx, 1, criteria, "pool", testBlock(110), nil, logs, interval.Range{From: 100, To: 110})
	require.NoError(t, err)
	err = st.InsertLogFilterInterval(ctx, 1, criteria, "pool", testBlock(120), nil, nil, interval.Range{From: 111, To: 120})
	require.NoError(t, err)

	got, err := st.GetLogFilterIntervals(ctx, 1, criteria)
	require.NoError(t, err)
	assert.Equal(t, []interval.Range{{From: 100, To: 120}}, got)

	// A different chain sees nothing.
	got, err = st.GetLogFilterIntervals(ctx, 2, criteria)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_InsertLogFilterIntervalIdempotent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	criteria := testCriteria("0x2222222222222222222222222222222222222222")
	addr := criteria.Addresses[0]

	logs := []types.Log{testLog(addr, 150, common.HexToHash("0xccc"), 0)}
	r := interval.Range{From: 100, To: 199}

	for range 3 {
		err := st.InsertLogFilterInterval(ctx, 1, criteria, "pool", testBlock(150), nil, logs, r)
		require.NoError(t, err)
	}

	got, err := st.GetLogFilterIntervals(ctx, 1, criteria)
	require.NoError(t, err)
	assert.Equal(t, []interval.Range{{From: 100, To: 199}}, got)

	var logCount int
	err = st.db.QueryRow(`SELECT COUNT(*) FROM event_logs`).Scan(&logCount)
	require.NoError(t, err)
	assert.Equal(t, 1, logCount)
}

func TestStore_FactoryChildAddressLogsAndCoverage(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	factory := testCriteria("0xffffffffffffffffffffffffffffffffffffffff")
	child1 := common.HexToAddress("0xc100000000000000000000000000000000000001")
	child2 := common.HexToAddress("0xc200000000000000000000000000000000000002")

	discovery := func(block uint64, child common.Address, logIndex uint) types.Log {
		return types.Log{
			Address:     factory.Addresses[0],
			BlockNumber: block,
			TxHash:      common.HexToHash("0xdd"),
			Index:       logIndex,
			Topics:      []common.Hash{common.HexToHash("0x1234"), common.BytesToHash(child.Bytes())},
		}
	}

	err := st.InsertFactoryChildAddressLogs(ctx, 1, factory, 0,
		[]types.Log{discovery(105, child1, 0), discovery(180, child2, 1)},
		interval.Range{From: 100, To: 199})
	require.NoError(t, err)

	coverage, err := st.GetFactoryChildAddressIntervals(ctx, 1, factory)
	require.NoError(t, err)
	assert.Equal(t, []interval.Range{{From: 100, To: 199}}, coverage)

	var streamed []common.Address
	err = st.StreamFactoryChildAddresses(ctx, 1, factory, 199, func(batch []common.Address) error {
		streamed = append(streamed, batch...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{child1, child2}, streamed)

	// upToBlock bounds the stream: only the block-105 child is visible at 150.
	streamed = nil
	err = st.StreamFactoryChildAddresses(ctx, 1, factory, 150, func(batch []common.Address) error {
		streamed = append(streamed, batch...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{child1}, streamed)
}

func TestStore_FactoryChildAddressLogsSkipsShortTopics(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	factory := testCriteria("0xffffffffffffffffffffffffffffffffffffffff")

	// A log whose topics do not reach childAddressLocation+1 is skipped, not
	// an error.
	short := types.Log{
		Address:     factory.Addresses[0],
		BlockNumber: 105,
		TxHash:      common.HexToHash("0xee"),
		Topics:      []common.Hash{common.HexToHash("0x1234")},
	}
	err := st.InsertFactoryChildAddressLogs(ctx, 1, factory, 0, []types.Log{short}, interval.Range{From: 100, To: 110})
	require.NoError(t, err)

	err = st.StreamFactoryChildAddresses(ctx, 1, factory, 199, func(batch []common.Address) error {
		t.Fatalf("expected no child addresses, got %d", len(batch))
		return nil
	})
	require.NoError(t, err)
}

func TestStore_FactoryLogFilterIntervalRoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	factory := testCriteria("0xffffffffffffffffffffffffffffffffffffffff")
	child := common.HexToAddress("0xc100000000000000000000000000000000000001")

	logs := []types.Log{testLog(child, 120, common.HexToHash("0xab"), 0)}
	err := st.InsertFactoryLogFilterInterval(ctx, 1, factory, "factory", testBlock(120), nil, logs, interval.Range{From: 100, To: 149})
	require.NoError(t, err)

	got, err := st.GetFactoryLogFilterIntervals(ctx, 1, factory)
	require.NoError(t, err)
	assert.Equal(t, []interval.Range{{From: 100, To: 149}}, got)

	// Factory coverage tables are independent of the plain log-filter table.
	plain, err := st.GetLogFilterIntervals(ctx, 1, factory)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestFingerprint_StableUnderOrdering(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")
	t1 := common.HexToHash("0xaa")
	t2 := common.HexToHash("0xbb")

	forward := Criteria{Addresses: []common.Address{a, b}, Topics: [][]common.Hash{{t1, t2}}}
	reversed := Criteria{Addresses: []common.Address{b, a}, Topics: [][]common.Hash{{t2, t1}}}
	assert.Equal(t, fingerprint(forward), fingerprint(reversed))

	other := Criteria{Addresses: []common.Address{a}, Topics: [][]common.Hash{{t1, t2}}}
	assert.NotEqual(t, fingerprint(forward), fingerprint(other))

	// Topic position matters: [[t1],[t2]] filters differently than [[t1,t2]].
	positional := Criteria{Addresses: []common.Address{a, b}, Topics: [][]common.Hash{{t1}, {t2}}}
	assert.NotEqual(t, fingerprint(forward), fingerprint(positional))
}
