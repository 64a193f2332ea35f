package ethereum

import "context"

// RPCClient defines the unary JSON-RPC interface to an Ethereum node.
type RPCClient interface {
	// GetTransactionReceipt retrieves the receipt for a transaction hash.
	// Returns ErrReceiptNotFound if the node has no receipt yet.
	GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// BlockNumber returns the latest block number. Used as a liveness probe.
	BlockNumber(ctx context.Context) (int64, error)
}

// PendingTransaction is a mempool transaction as delivered by the
// pending-transaction subscription. All quantity fields are raw
// 0x-prefixed hex strings straight off the wire.
type PendingTransaction struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"` // empty for contract creations
	Input    string `json:"input"`
	GasPrice string `json:"gasPrice"`
	Gas      string `json:"gas"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
}

// TransactionReceipt is the post-execution record of a transaction.
type TransactionReceipt struct {
	TransactionHash   string  `json:"transactionHash"`
	Status            string  `json:"status"` // 0x1 success, 0x0 reverted
	ContractAddress   *string `json:"contractAddress"`
	From              string  `json:"from"`
	BlockNumber       string  `json:"blockNumber"`
	GasUsed           string  `json:"gasUsed"`
	EffectiveGasPrice string  `json:"effectiveGasPrice"`
}

// LogEvent is an entry from the logs subscription.
type LogEvent struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     string   `json:"blockNumber"`
	Removed         bool     `json:"removed"`
}
