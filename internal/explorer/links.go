// Package explorer builds block-explorer URLs for on-chain entities.
package explorer

import "strings"

const baseURL = "https://etherscan.io"

// TxURL returns the Etherscan page for a transaction hash.
func TxURL(txHash string) string {
	return baseURL + "/tx/" + normalize(txHash)
}

// AddressURL returns the Etherscan page for an account or contract.
func AddressURL(address string) string {
	return baseURL + "/address/" + normalize(address)
}

func normalize(hexID string) string {
	trimmed := strings.TrimSpace(hexID)
	if trimmed != "" && !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	return trimmed
}
