package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for the three contracts the bridge touches. Full
// bindings are unnecessary: we call four functions and decode one event.
const erc20ABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const tokenMessengerABIJSON = `[
	{"type":"function","name":"depositForBurn","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"destinationDomain","type":"uint32"},{"name":"mintRecipient","type":"bytes32"},{"name":"burnToken","type":"address"}],"outputs":[{"name":"_nonce","type":"uint64"}]}
]`

const messageTransmitterABIJSON = `[
	{"type":"event","name":"MessageSent","anonymous":false,"inputs":[{"name":"message","type":"bytes","indexed":false}]}
]`

var (
	erc20ABI          = mustParseABI(erc20ABIJSON)
	tokenMessengerABI = mustParseABI(tokenMessengerABIJSON)
	transmitterABI    = mustParseABI(messageTransmitterABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
