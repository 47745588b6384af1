package store

import "github.com/ethereum/go-ethereum/common"

type dbInterval struct {
	ID        int64  `meddler:"id,pk"`
	ChainID   uint64 `meddler:"chain_id"`
	Criteria  string `meddler:"criteria"`
	FromBlock uint64 `meddler:"from_block"`
	ToBlock   uint64 `meddler:"to_block"`
	CreatedAt string `meddler:"created_at"`
}

type dbLog struct {
	ID          int64          `meddler:"id,pk"`
	ChainID     uint64         `meddler:"chain_id"`
	Criteria    string         `meddler:"criteria"`
	Address     common.Address `meddler:"address,address"`
	BlockNumber uint64         `meddler:"block_number"`
	BlockHash   common.Hash    `meddler:"block_hash,hash"`
	TxHash      common.Hash    `meddler:"tx_hash,hash"`
	TxIndex     uint           `meddler:"tx_index"`
	LogIndex    uint           `meddler:"log_index"`
	Topic0      *common.Hash   `meddler:"topic0,hash"`
	Topic1      *common.Hash   `meddler:"topic1,hash"`
	Topic2      *common.Hash   `meddler:"topic2,hash"`
	Topic3      *common.Hash   `meddler:"topic3,hash"`
	Data        []byte         `meddler:"data"`
	CreatedAt   string         `meddler:"created_at"`
}

type dbTransaction struct {
	ID          int64          `meddler:"id,pk"`
	ChainID     uint64         `meddler:"chain_id"`
	Criteria    string         `meddler:"criteria"`
	TxHash      common.Hash    `meddler:"tx_hash,hash"`
	BlockNumber uint64         `meddler:"block_number"`
	From        common.Address `meddler:"from_address,address"`
	To          *common.Address `meddler:"to_address,address"`
	Value       string         `meddler:"value"`
	Nonce       uint64         `meddler:"nonce"`
	Gas         uint64         `meddler:"gas"`
	GasPrice    string         `meddler:"gas_price"`
	CreatedAt   string         `meddler:"created_at"`
}

type dbChildAddress struct {
	ID              int64          `meddler:"id,pk"`
	ChainID         uint64         `meddler:"chain_id"`
	FactoryCriteria string         `meddler:"factory_criteria"`
	Address         common.Address `meddler:"address,address"`
	BlockNumber     uint64         `meddler:"block_number"`
	LogIndex        uint           `meddler:"log_index"`
	CreatedAt       string         `meddler:"created_at"`
}
