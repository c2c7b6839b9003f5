package watch

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// BlockReader fetches full blocks for dispatch. Satisfied by
// *ethclient.Client.
type BlockReader interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// TxPayload is the transaction view pushed to subscribers.
type TxPayload struct {
	Height uint64 `json:"height"`
	Txid   string `json:"txid"`
	From   string `json:"from"`
	To     string `json:"to,omitempty"`
	Value  string `json:"value"`
}

// AccountTxEvent is pushed when a block transaction touches a watched
// account.
type AccountTxEvent struct {
	Tx   TxPayload `json:"tx"`
	Addr string    `json:"addr"`
}

// TokenTransferEvent is pushed when a decoded Transfer log touches a
// watched (account, token) pair.
type TokenTransferEvent struct {
	Addr  string    `json:"addr"`
	Token string    `json:"token"`
	Tx    TxPayload `json:"tx"`
}

// Dispatcher filters every new block and every decoded contract log
// against the registry and pushes matching notifications. Nothing on
// this path is fatal: a failed block fetch or an undeliverable push is
// logged and the loop moves on.
//
// The scan is linear in subscribers per transaction. That is the
// documented scaling limit for the target subscriber count; an
// address index would replace it if that ever changes.
type Dispatcher struct {
	logger   *zap.Logger
	node     BlockReader
	registry *Registry
	signer   types.Signer

	height atomic.Uint64
}

func NewDispatcher(
	logger *zap.Logger,
	node BlockReader,
	registry *Registry,
	chainID *big.Int,
) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		node:     node,
		registry: registry,
		signer:   types.LatestSignerForChainID(chainID),
	}
}

// Height is the number of the most recently observed block header.
func (d *Dispatcher) Height() uint64 {
	return d.height.Load()
}

// SetHeight seeds the height at startup.
func (d *Dispatcher) SetHeight(height uint64) {
	d.height.Store(height)
}

// Run consumes the new-head feed and the decoded transfer feed until
// the context ends.
func (d *Dispatcher) Run(ctx context.Context, heads <-chan *types.Header, transfers <-chan TransferEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				return
			}

			d.handleHead(ctx, head)
		case event, ok := <-transfers:
			if !ok {
				return
			}

			d.handleTransfer(event)
		}
	}
}

func (d *Dispatcher) handleHead(ctx context.Context, head *types.Header) {
	d.height.Store(head.Number.Uint64())

	subscribers := d.registry.Subscribers(EventAccount)
	if len(subscribers) == 0 {
		return
	}

	block, err := d.node.BlockByNumber(ctx, head.Number)
	if err != nil {
		d.logger.Warn("failed to fetch block, skipping",
			zap.Uint64("height", head.Number.Uint64()),
			zap.Error(err))

		return
	}

	for _, tx := range block.Transactions() {
		from, err := types.Sender(d.signer, tx)
		if err != nil {
			d.logger.Debug("failed to recover transaction sender",
				zap.String("txHash", tx.Hash().Hex()),
				zap.Error(err))
			continue
		}

		to := tx.To()

		for _, entry := range subscribers {
			if entry.Account != from && (to == nil || entry.Account != *to) {
				continue
			}

			entry.Sink.Send(EventAccount, AccountTxEvent{
				Tx:   newTxPayload(block.NumberU64(), tx, from),
				Addr: lowerHex(entry.Account),
			})
		}
	}
}

func (d *Dispatcher) handleTransfer(event TransferEvent) {
	for _, entry := range d.registry.Subscribers(EventAccount) {
		if event.From != entry.Account && event.To != entry.Account {
			continue
		}

		if !entry.WatchesToken(event.Contract) {
			continue
		}

		entry.Sink.Send(EventAccount, TokenTransferEvent{
			Addr:  lowerHex(entry.Account),
			Token: lowerHex(event.Contract),
			Tx: TxPayload{
				Height: event.Height,
				Txid:   event.TxHash.Hex(),
				From:   lowerHex(event.From),
				To:     lowerHex(event.To),
				Value:  event.Value.String(),
			},
		})
	}
}

func newTxPayload(height uint64, tx *types.Transaction, from common.Address) TxPayload {
	payload := TxPayload{
		Height: height,
		Txid:   tx.Hash().Hex(),
		From:   lowerHex(from),
		Value:  tx.Value().String(),
	}

	if to := tx.To(); to != nil {
		payload.To = lowerHex(*to)
	}

	return payload
}
