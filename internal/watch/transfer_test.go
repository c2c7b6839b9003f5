package watch

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransfer(t *testing.T) {
	t.Run("valid transfer log", func(t *testing.T) {
		event, err := DecodeTransfer(validTransferLog(tokenC, accountA, accountB, 100))

		require.NoError(t, err)
		assert.Equal(t, tokenC, event.Contract)
		assert.Equal(t, accountA, event.From)
		assert.Equal(t, accountB, event.To)
		assert.Equal(t, "5", event.Value.String())
		assert.Equal(t, uint64(100), event.Height)
	})

	t.Run("wrong topic count", func(t *testing.T) {
		lg := validTransferLog(tokenC, accountA, accountB, 100)
		lg.Topics = lg.Topics[:2]

		_, err := DecodeTransfer(lg)

		assert.Error(t, err)
	})

	t.Run("wrong event signature", func(t *testing.T) {
		lg := validTransferLog(tokenC, accountA, accountB, 100)
		lg.Topics[0] = common.HexToHash("0x01")

		_, err := DecodeTransfer(lg)

		assert.Error(t, err)
	})

	t.Run("wrong data length", func(t *testing.T) {
		lg := validTransferLog(tokenC, accountA, accountB, 100)
		lg.Data = lg.Data[:31]

		_, err := DecodeTransfer(lg)

		assert.Error(t, err)
	})

	t.Run("empty log", func(t *testing.T) {
		_, err := DecodeTransfer(types.Log{})

		assert.Error(t, err)
	})
}
