package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/russross/meddler"

	"github.com/blockcrawl/histsync/internal/logger"
	"github.com/blockcrawl/histsync/internal/metrics"
	"github.com/blockcrawl/histsync/pkg/interval"
)

const (
	storeName = "sqlite"

	tableLogFilterIntervals           = "log_filter_intervals"
	tableFactoryLogFilterIntervals    = "factory_log_filter_intervals"
	tableFactoryChildAddressIntervals = "factory_child_address_intervals"
)

// Store is a SQLite-backed implementation of the engine's event store:
// interval-coverage rows for log-filter, factory-log-filter, and
// factory-child-address progress, plus the logs, transactions, and
// discovered child addresses committed alongside them. Inserts are
// idempotent under the same (criteria, range).
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// New wraps an already-open, already-migrated database handle.
func New(db *sql.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{db: db, log: log}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) observe(operation string, start time.Time, err *error) {
	metrics.StoreQueryInc(storeName, operation)
	metrics.StoreQueryObserve(storeName, operation, time.Since(start))
	if *err != nil {
		metrics.StoreErrorInc(storeName, operation)
	}
}

// GetLogFilterIntervals returns the previously cached coverage for a plain
// log-filter source's criteria, in canonical sorted form.
func (s *Store) GetLogFilterIntervals(ctx context.Context, chainID uint64, criteria Criteria) (ranges []interval.Range, err error) {
	defer s.observe("get_log_filter_intervals", time.Now(), &err)
	return s.queryIntervals(ctx, tableLogFilterIntervals, chainID, fingerprint(criteria))
}

// GetFactoryLogFilterIntervals returns the previously cached coverage for a
// factory's log-filter criteria.
func (s *Store) GetFactoryLogFilterIntervals(ctx context.Context, chainID uint64, factoryCriteria Criteria) (ranges []interval.Range, err error) {
	defer s.observe("get_factory_log_filter_intervals", time.Now(), &err)
	return s.queryIntervals(ctx, tableFactoryLogFilterIntervals, chainID, fingerprint(factoryCriteria))
}

// GetFactoryChildAddressIntervals returns the previously cached coverage of
// a factory's child-address discovery scan. Unlike log-filter coverage,
// this interval is committed immediately by InsertFactoryChildAddressLogs
// rather than deferred to a block callback, since discovery needs no block
// body.
func (s *Store) GetFactoryChildAddressIntervals(ctx context.Context, chainID uint64, factoryCriteria Criteria) (ranges []interval.Range, err error) {
	defer s.observe("get_factory_child_address_intervals", time.Now(), &err)
	return s.queryIntervals(ctx, tableFactoryChildAddressIntervals, chainID, fingerprint(factoryCriteria))
}

func (s *Store) queryIntervals(ctx context.Context, table string, chainID uint64, criteriaKey string) ([]interval.Range, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE chain_id = ? AND criteria = ? ORDER BY from_block ASC`, table)

	var rows []*dbInterval
	if err := meddler.QueryAll(s.db, &rows, query, chainID, criteriaKey); err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	out := make([]interval.Range, len(rows))
	for i, r := range rows {
		out[i] = interval.Range{From: r.FromBlock, To: r.ToBlock}
	}
	return interval.Canonicalize(out), nil
}

// InsertLogFilterInterval commits a completed [from,to] interval for a
// plain log-filter source, along with the block's filtered transactions and
// the logs matching criteria within it. Idempotent under the same
// (chainID, criteria, [from,to]). sourceName is used only as the
// completed_blocks metric label; persistence keys off criteria alone.
func (s *Store) InsertLogFilterInterval(ctx context.Context, chainID uint64, criteria Criteria, sourceName string, block *types.Block, transactions []*types.Transaction, logs []types.Log, r interval.Range) (err error) {
	defer s.observe("insert_log_filter_interval", time.Now(), &err)
	return s.insertInterval(ctx, tableLogFilterIntervals, chainID, fingerprint(criteria), sourceName, block, transactions, logs, r)
}

// InsertFactoryLogFilterInterval commits a completed interval for a
// factory's log-filter tracker. Factory-discovered logs and transactions
// share the plain source's event_logs/transactions tables, scoped by the
// factory's own criteria key; only the coverage table differs.
func (s *Store) InsertFactoryLogFilterInterval(ctx context.Context, chainID uint64, factoryCriteria Criteria, sourceName string, block *types.Block, transactions []*types.Transaction, logs []types.Log, r interval.Range) (err error) {
	defer s.observe("insert_factory_log_filter_interval", time.Now(), &err)
	return s.insertInterval(ctx, tableFactoryLogFilterIntervals, chainID, fingerprint(factoryCriteria), sourceName, block, transactions, logs, r)
}

func (s *Store) insertInterval(ctx context.Context, table string, chainID uint64, criteriaKey, sourceName string, blk *types.Block, transactions []*types.Transaction, logs []types.Log, r interval.Range) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.log.Errorw("failed to rollback transaction", "error", rbErr)
		}
	}()

	for _, l := range logs {
		row := logToDBRow(chainID, criteriaKey, &l)
		// A duplicate insert means this log was already stored by a previous,
		// partially-committed attempt at this same range; ignore and move on.
		if err := meddler.Insert(tx, "event_logs", row); err != nil && !isUniqueConstraintErr(err) {
			return fmt.Errorf("insert log: %w", err)
		}
	}

	for _, t := range transactions {
		row, err := txToDBRow(chainID, criteriaKey, blk, t)
		if err != nil {
			return fmt.Errorf("convert transaction: %w", err)
		}
		if err := meddler.Insert(tx, "transactions", row); err != nil && !isUniqueConstraintErr(err) {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	insertIntervalQuery := fmt.Sprintf(
		`INSERT INTO %s (chain_id, criteria, from_block, to_block) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chain_id, criteria, from_block, to_block) DO NOTHING`, table)
	res, err := tx.ExecContext(ctx, insertIntervalQuery, chainID, criteriaKey, r.From, r.To)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read %s rows affected: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	// A conflicting coverage row means this interval was already committed by
	// an earlier attempt (a retried block task reinvokes every callback, not
	// just the failed ones); counting it again would inflate the metric.
	if inserted > 0 {
		metrics.CompletedBlocksAdd(fmt.Sprintf("%d", chainID), sourceName, r.Width())
	}
	return nil
}

// InsertFactoryChildAddressLogs persists the raw discovery logs of a
// factory's child-address tracker, extracting each child contract's address
// from the log's indexed topics at childAddressLocation, and commits
// coverage for r in the same transaction. This call is unconditional and
// happens before interval construction, so a subsequent
// factory-log-filter worker can observe newly discovered addresses even if
// the interval commit for the log-filter range has not run yet; unlike
// InsertLogFilterInterval/InsertFactoryLogFilterInterval, child-address
// coverage needs no block body and so commits immediately rather than via
// a block callback.
func (s *Store) InsertFactoryChildAddressLogs(ctx context.Context, chainID uint64, factoryCriteria Criteria, childAddressLocation int, logs []types.Log, r interval.Range) (err error) {
	defer s.observe("insert_factory_child_address_logs", time.Now(), &err)

	criteriaKey := fingerprint(factoryCriteria)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.log.Errorw("failed to rollback transaction", "error", rbErr)
		}
	}()

	for _, l := range logs {
		addr, ok := extractChildAddress(l, childAddressLocation)
		if !ok {
			s.log.Warnw("skipping factory log with no address at childAddressLocation",
				"location", childAddressLocation, "txHash", l.TxHash.Hex(), "logIndex", l.Index)
			continue
		}
		row := &dbChildAddress{
			ChainID:         chainID,
			FactoryCriteria: criteriaKey,
			Address:         addr,
			BlockNumber:     l.BlockNumber,
			LogIndex:        l.Index,
		}
		if err := meddler.Insert(tx, "factory_child_addresses", row); err != nil && !isUniqueConstraintErr(err) {
			return fmt.Errorf("insert factory child address: %w", err)
		}
	}

	insertIntervalQuery := fmt.Sprintf(
		`INSERT INTO %s (chain_id, criteria, from_block, to_block) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chain_id, criteria, from_block, to_block) DO NOTHING`, tableFactoryChildAddressIntervals)
	if _, err := tx.ExecContext(ctx, insertIntervalQuery, chainID, criteriaKey, r.From, r.To); err != nil {
		return fmt.Errorf("insert %s: %w", tableFactoryChildAddressIntervals, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// defaultChildAddressBatchSize bounds how many addresses StreamFactoryChildAddresses
// loads into memory per round trip.
const defaultChildAddressBatchSize = 500

// StreamFactoryChildAddresses calls fn with successive batches of child
// contract addresses discovered up to upToBlock, in the order they were
// recorded (ascending row id, not block number), until every address has
// been delivered or fn returns an error.
func (s *Store) StreamFactoryChildAddresses(ctx context.Context, chainID uint64, factoryCriteria Criteria, upToBlock uint64, fn func([]common.Address) error) (err error) {
	defer s.observe("stream_factory_child_addresses", time.Now(), &err)

	criteriaKey := fingerprint(factoryCriteria)
	var lastID int64

	for {
		const query = `
			SELECT * FROM factory_child_addresses
			WHERE chain_id = ? AND factory_criteria = ? AND block_number <= ? AND id > ?
			ORDER BY id ASC
			LIMIT ?`

		var rows []*dbChildAddress
		if err := meddler.QueryAll(s.db, &rows, query, chainID, criteriaKey, upToBlock, lastID, defaultChildAddressBatchSize); err != nil {
			return fmt.Errorf("query factory child addresses: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		batch := make([]common.Address, len(rows))
		for i, r := range rows {
			batch[i] = r.Address
		}
		if err := fn(batch); err != nil {
			return err
		}

		lastID = rows[len(rows)-1].ID
		if len(rows) < defaultChildAddressBatchSize {
			return nil
		}
	}
}

// isUniqueConstraintErr reports whether err came from a SQLite UNIQUE
// constraint violation, the signal a duplicate insert was a harmless retry
// of already-stored data rather than a real failure.
func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func logToDBRow(chainID uint64, criteriaKey string, l *types.Log) *dbLog {
	row := &dbLog{
		ChainID:     chainID,
		Criteria:    criteriaKey,
		Address:     l.Address,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		TxIndex:     l.TxIndex,
		LogIndex:    l.Index,
		Data:        l.Data,
	}
	if len(l.Topics) > 0 {
		t := l.Topics[0]
		row.Topic0 = &t
	}
	if len(l.Topics) > 1 {
		t := l.Topics[1]
		row.Topic1 = &t
	}
	if len(l.Topics) > 2 {
		t := l.Topics[2]
		row.Topic2 = &t
	}
	if len(l.Topics) > 3 {
		t := l.Topics[3]
		row.Topic3 = &t
	}
	return row
}

// extractChildAddress reads the address emitted as an indexed event
// parameter at topic position location+1 (topics[0] is always the event
// signature hash).
func extractChildAddress(l types.Log, location int) (common.Address, bool) {
	idx := location + 1
	if idx < 0 || idx >= len(l.Topics) {
		return common.Address{}, false
	}
	return common.BytesToAddress(l.Topics[idx].Bytes()), true
}

func txToDBRow(chainID uint64, criteriaKey string, blk *types.Block, t *types.Transaction) (*dbTransaction, error) {
	var blockNumber uint64
	if blk != nil {
		blockNumber = blk.NumberU64()
	}

	signer := types.LatestSignerForChainID(t.ChainId())
	from, err := types.Sender(signer, t)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}

	row := &dbTransaction{
		ChainID:     chainID,
		Criteria:    criteriaKey,
		TxHash:      t.Hash(),
		BlockNumber: blockNumber,
		From:        from,
		To:          t.To(),
		Value:       t.Value().String(),
		Nonce:       t.Nonce(),
		Gas:         t.Gas(),
		GasPrice:    t.GasPrice().String(),
	}
	return row, nil
}
