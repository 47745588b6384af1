package store

import (
	"database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/blockcrawl/histsync/internal/logger"
)

const upDownSeparator = "-- +migrate Up"
const downMarker = "-- +migrate Down"

// migration is a single named migration, holding both directions in one SQL
// string split on upDownSeparator.
type migration struct {
	ID  string
	SQL string
}

// RunMigrations applies all pending "up" migrations against db.
func RunMigrations(log *logger.Logger, db *sql.DB) error {
	if log == nil {
		log = logger.NewNopLogger()
	}

	migs := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	for _, m := range migrations {
		splitted := strings.SplitN(m.SQL, upDownSeparator, 2)
		if len(splitted) < 2 {
			return fmt.Errorf("migration %s missing %q separator", m.ID, upDownSeparator)
		}

		downSQL := splitted[0]
		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = strings.TrimSpace(downSQL[idx+len(downMarker):])
		} else {
			downSQL = strings.TrimSpace(downSQL)
		}
		upSQL := strings.TrimSpace(splitted[1])

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{upSQL},
			Down: []string{downSQL},
		})
	}

	var names strings.Builder
	for _, m := range migs.Migrations {
		names.WriteString(m.Id + ", ")
	}

	n, err := migrate.Exec(db, "sqlite3", migs, migrate.Up)
	if err != nil {
		return fmt.Errorf("run migrations (%s): %w", names.String(), err)
	}

	log.Infow("ran event store migrations", "count", n, "migrations", names.String())
	return nil
}

// migrations are embedded as Go string literals rather than files loaded
// from disk, so the binary carries its own schema with no external asset
// dependency.
var migrations = []migration{
	{
		ID: "0001_log_filter_intervals",
		SQL: `
-- +migrate Down
DROP TABLE log_filter_intervals;
-- +migrate Up
CREATE TABLE log_filter_intervals (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id    INTEGER NOT NULL,
	criteria    TEXT    NOT NULL,
	from_block  INTEGER NOT NULL,
	to_block    INTEGER NOT NULL,
	created_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE(chain_id, criteria, from_block, to_block)
);
CREATE INDEX idx_log_filter_intervals_lookup ON log_filter_intervals(chain_id, criteria);
`,
	},
	{
		ID: "0002_factory_log_filter_intervals",
		SQL: `
-- +migrate Down
DROP TABLE factory_log_filter_intervals;
-- +migrate Up
CREATE TABLE factory_log_filter_intervals (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id    INTEGER NOT NULL,
	criteria    TEXT    NOT NULL,
	from_block  INTEGER NOT NULL,
	to_block    INTEGER NOT NULL,
	created_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE(chain_id, criteria, from_block, to_block)
);
CREATE INDEX idx_factory_log_filter_intervals_lookup ON factory_log_filter_intervals(chain_id, criteria);
`,
	},
	{
		ID: "0003_event_logs",
		SQL: `
-- +migrate Down
DROP TABLE event_logs;
-- +migrate Up
CREATE TABLE event_logs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id      INTEGER NOT NULL,
	criteria      TEXT    NOT NULL,
	address       TEXT    NOT NULL,
	block_number  INTEGER NOT NULL,
	block_hash    TEXT    NOT NULL,
	tx_hash       TEXT    NOT NULL,
	tx_index      INTEGER NOT NULL,
	log_index     INTEGER NOT NULL,
	topic0        TEXT,
	topic1        TEXT,
	topic2        TEXT,
	topic3        TEXT,
	data          BLOB,
	created_at    TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE(chain_id, criteria, tx_hash, log_index)
);
CREATE INDEX idx_event_logs_lookup ON event_logs(chain_id, criteria, block_number);
`,
	},
	{
		ID: "0004_transactions",
		SQL: `
-- +migrate Down
DROP TABLE transactions;
-- +migrate Up
CREATE TABLE transactions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id      INTEGER NOT NULL,
	criteria      TEXT    NOT NULL,
	tx_hash       TEXT    NOT NULL,
	block_number  INTEGER NOT NULL,
	from_address  TEXT    NOT NULL,
	to_address    TEXT,
	value         TEXT    NOT NULL,
	nonce         INTEGER NOT NULL,
	gas           INTEGER NOT NULL,
	gas_price     TEXT    NOT NULL,
	created_at    TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE(chain_id, criteria, tx_hash)
);
CREATE INDEX idx_transactions_lookup ON transactions(chain_id, criteria, block_number);
`,
	},
	{
		ID: "0005_factory_child_addresses",
		SQL: `
-- +migrate Down
DROP TABLE factory_child_addresses;
-- +migrate Up
CREATE TABLE factory_child_addresses (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id        INTEGER NOT NULL,
	factory_criteria TEXT   NOT NULL,
	address         TEXT    NOT NULL,
	block_number    INTEGER NOT NULL,
	log_index       INTEGER NOT NULL,
	created_at      TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE(chain_id, factory_criteria, address, block_number, log_index)
);
CREATE INDEX idx_factory_child_addresses_lookup ON factory_child_addresses(chain_id, factory_criteria, block_number);
`,
	},
	{
		ID: "0006_factory_child_address_intervals",
		SQL: `
-- +migrate Down
DROP TABLE factory_child_address_intervals;
-- +migrate Up
CREATE TABLE factory_child_address_intervals (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id    INTEGER NOT NULL,
	criteria    TEXT    NOT NULL,
	from_block  INTEGER NOT NULL,
	to_block    INTEGER NOT NULL,
	created_at  TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	UNIQUE(chain_id, criteria, from_block, to_block)
);
CREATE INDEX idx_factory_child_address_intervals_lookup ON factory_child_address_intervals(chain_id, criteria);
`,
	},
}
