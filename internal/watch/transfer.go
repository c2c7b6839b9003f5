package watch

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the
// topic every contract feed is filtered to.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TransferEvent is one decoded ERC-20 Transfer log.
type TransferEvent struct {
	Contract common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	Height   uint64
	TxHash   common.Hash
}

// DecodeTransfer decodes a raw log against the Transfer event shape.
// Logs that do not match are rejected; the caller decides whether to
// drop or fail.
func DecodeTransfer(lg types.Log) (TransferEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return TransferEvent{}, fmt.Errorf("log does not match Transfer(address,address,uint256)")
	}

	if len(lg.Data) != 32 {
		return TransferEvent{}, fmt.Errorf("unexpected Transfer data length %d", len(lg.Data))
	}

	return TransferEvent{
		Contract: lg.Address,
		From:     common.BytesToAddress(lg.Topics[1].Bytes()),
		To:       common.BytesToAddress(lg.Topics[2].Bytes()),
		Value:    new(big.Int).SetBytes(lg.Data),
		Height:   lg.BlockNumber,
		TxHash:   lg.TxHash,
	}, nil
}
