package univ3

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Well-known revert strings mapped to operator-readable causes. Anything
// unlisted is surfaced verbatim.
var revertCauses = map[string]string{
	"LOK":                  "pool is locked",
	"TLU":                  "tick lower above tick upper",
	"TLM":                  "tick lower below minimum",
	"TUM":                  "tick upper above maximum",
	"SPL":                  "sqrt price limit reached",
	"IIA":                  "insufficient input amount",
	"STF":                  "token transfer failed",
	"Too little received":  "swap output below minimum",
	"Transaction too old":  "deadline passed",
	"Price slippage check": "mint output below minimum",
	"Not approved":         "caller not approved for token id",
	"Invalid token ID":     "token id does not exist",
	"Not cleared":          "burn of position with remaining liquidity or fees",
}

var (
	errorSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0} // Error(string)
	panicSelector = [4]byte{0x4e, 0x48, 0x7b, 0x71} // Panic(uint256)
)

// DecodeRevert turns raw revert data into a readable cause.
func DecodeRevert(data []byte) string {
	if len(data) < 4 {
		return "execution reverted"
	}
	var sel [4]byte
	copy(sel[:], data[:4])

	switch sel {
	case errorSelector:
		stringType, err := abi.NewType("string", "", nil)
		if err != nil {
			break
		}
		args := abi.Arguments{{Type: stringType}}
		values, err := args.Unpack(data[4:])
		if err != nil || len(values) != 1 {
			break
		}
		reason, ok := values[0].(string)
		if !ok {
			break
		}
		if cause, known := revertCauses[strings.TrimSpace(reason)]; known {
			return fmt.Sprintf("%s (%s)", cause, reason)
		}
		return "reverted: " + reason
	case panicSelector:
		if len(data) >= 36 {
			code := new(big.Int).SetBytes(data[4:36])
			return fmt.Sprintf("panic code 0x%x", code)
		}
	}
	return "reverted: 0x" + hex.EncodeToString(data)
}
