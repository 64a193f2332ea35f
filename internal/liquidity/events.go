// Package liquidity implements time-boxed liquidity monitoring for newly
// verified contracts: a two-phase watch that first looks for the token's
// pool being created on the Uniswap V2 factory, then for funding events on
// that pool.
package liquidity

import (
	"fmt"

	"deploywatch/internal/ethereum"
)

// UniswapV2Factory is the mainnet factory contract that emits PairCreated.
const UniswapV2Factory = "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"

// Event signature topics.
const (
	// PairCreatedTopic is keccak256("PairCreated(address,address,address,uint256)").
	PairCreatedTopic = "0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"

	// MintTopic is keccak256("Mint(address,uint256,uint256)").
	MintTopic = "0x4c209b5fc8ad50758f13e2e1088ba56a560dff690a1c6fef26394f4c03821c4f"
)

// PairCreated is a decoded factory PairCreated log.
type PairCreated struct {
	Token0 string // indexed, lowercase
	Token1 string // indexed, lowercase
	Pair   string // from data word 0, lowercase
}

// Mint is a decoded pool Mint log.
type Mint struct {
	Sender  string // indexed, lowercase
	Amount0 string // decimal string
	Amount1 string // decimal string
}

// Involves reports whether the pair touches the given token address.
func (p *PairCreated) Involves(token string) bool {
	return ethereum.SameAddress(p.Token0, token) || ethereum.SameAddress(p.Token1, token)
}

// DecodePairCreated decodes a PairCreated log. The two token addresses are
// indexed topics; the pair address is the first data word.
func DecodePairCreated(ev *ethereum.LogEvent) (*PairCreated, error) {
	if len(ev.Topics) < 3 {
		return nil, fmt.Errorf("pair created log has %d topics, want 3", len(ev.Topics))
	}

	token0, err := topicAddress(ev.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	token1, err := topicAddress(ev.Topics[2])
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}
	word, err := dataWord(ev.Data, 0)
	if err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}
	pair, err := wordAddress(word)
	if err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}

	return &PairCreated{Token0: token0, Token1: token1, Pair: pair}, nil
}

// DecodeMint decodes a pool Mint log. The sender is an indexed topic; the
// two amounts are data words.
func DecodeMint(ev *ethereum.LogEvent) (*Mint, error) {
	if len(ev.Topics) < 2 {
		return nil, fmt.Errorf("mint log has %d topics, want 2", len(ev.Topics))
	}

	sender, err := topicAddress(ev.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}

	word0, err := dataWord(ev.Data, 0)
	if err != nil {
		return nil, fmt.Errorf("amount0: %w", err)
	}
	amount0, err := ethereum.HexToDecimal(word0)
	if err != nil {
		return nil, fmt.Errorf("amount0: %w", err)
	}

	word1, err := dataWord(ev.Data, 1)
	if err != nil {
		return nil, fmt.Errorf("amount1: %w", err)
	}
	amount1, err := ethereum.HexToDecimal(word1)
	if err != nil {
		return nil, fmt.Errorf("amount1: %w", err)
	}

	return &Mint{Sender: sender, Amount0: amount0, Amount1: amount1}, nil
}

// topicAddress extracts the address packed into a 32-byte topic.
func topicAddress(topic string) (string, error) {
	h := stripHex(topic)
	if len(h) < 40 {
		return "", fmt.Errorf("topic %q too short for an address", topic)
	}
	return ethereum.NormalizeAddress("0x" + h[len(h)-40:]), nil
}

// wordAddress extracts the address from a left-padded 32-byte data word.
func wordAddress(word string) (string, error) {
	if len(word) < 40 {
		return "", fmt.Errorf("data word %q too short for an address", word)
	}
	return ethereum.NormalizeAddress("0x" + word[len(word)-40:]), nil
}

// dataWord returns the i-th 32-byte word of a log data field as raw hex.
func dataWord(data string, i int) (string, error) {
	h := stripHex(data)
	start := i * 64
	end := start + 64
	if len(h) < end {
		return "", fmt.Errorf("log data has %d hex chars, need %d", len(h), end)
	}
	return h[start:end], nil
}

func stripHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
