package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatAsset(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

func formatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
