package domain

// VerifiedContract is a confirmed deployment resolved from a receipt.
// Corresponds to the verified_contracts table, keyed by contract address.
// Upserts use last-write-wins: re-verifying the same transaction overwrites
// every field.
type VerifiedContract struct {
	Address           string // PRIMARY KEY, 0x-prefixed, lowercase
	TxHash            string // deploying transaction hash
	Deployer          string // sender of the deploying transaction
	BlockNumber       int64  // inclusion block
	GasUsed           int64  // gas consumed by the deployment
	EffectiveGasPrice string // wei, decimal string
	DetectedAt        int64  // copied from the candidate (ms)
	VerifiedAt        int64  // receipt resolution timestamp (ms)
	CreatedAt         int64  // record creation timestamp (ms)
}
