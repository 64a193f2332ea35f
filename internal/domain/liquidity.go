package domain

// Liquidity event types.
const (
	LiquidityEventPairCreated = "pair_created"
	LiquidityEventMint        = "mint"
)

// LiquidityEvent is an append-only record of a detected on-chain event.
// Corresponds to the liquidity_events table. Never mutated, never deleted
// by the system.
type LiquidityEvent struct {
	ID              int64   // BIGSERIAL primary key
	ContractAddress string  // monitored contract
	PairAddress     string  // pool address
	EventType       string  // pair_created | mint
	Token0          *string // pair_created: one side of the pool
	Token1          *string // pair_created: other side of the pool
	Sender          *string // mint: liquidity provider
	Amount0         *string // mint: token0 amount, decimal string
	Amount1         *string // mint: token1 amount, decimal string
	TxHash          string  // transaction carrying the event
	BlockNumber     int64
	DetectedAt      int64  // Unix timestamp in milliseconds
	RawPayload      string // raw log data, 0x-prefixed hex
	CreatedAt       int64  // record creation timestamp (ms)
}
