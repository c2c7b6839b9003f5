package watch

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const DefaultMaxContracts = 50

// LogSubscriber opens a live log feed against the node. Satisfied by
// *ethclient.Client.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Multiplexer keeps exactly one upstream Transfer log feed per distinct
// contract address, shared across every client interested in it. A feed
// is retired only when the upstream subscription errors; loss of client
// interest never closes it, the cap plus error-driven retirement bound
// the table at limit entries.
type Multiplexer struct {
	logger *zap.Logger
	node   LogSubscriber
	out    chan<- TransferEvent
	limit  int

	mu    sync.Mutex
	feeds map[common.Address]struct{}
}

func NewMultiplexer(
	logger *zap.Logger,
	node LogSubscriber,
	out chan<- TransferEvent,
	limit int,
) *Multiplexer {
	if limit <= 0 {
		limit = DefaultMaxContracts
	}

	return &Multiplexer{
		logger: logger,
		node:   node,
		out:    out,
		limit:  limit,
		feeds:  make(map[common.Address]struct{}),
	}
}

// EnsureSubscribed opens a feed for every address not already in the
// table, while the table is below the cap. Addresses past the cap are
// skipped with a diagnostic; the caller's registration still succeeds.
func (m *Multiplexer) EnsureSubscribed(ctx context.Context, tokens []common.Address) {
	for _, token := range tokens {
		m.mu.Lock()

		if _, ok := m.feeds[token]; ok {
			m.mu.Unlock()
			continue
		}

		if len(m.feeds) >= m.limit {
			m.mu.Unlock()
			m.logger.Warn("contract subscription cap reached, skipping",
				zap.String("contract", lowerHex(token)),
				zap.Int("cap", m.limit))
			continue
		}

		// Reserve the slot before the subscribe call so a concurrent
		// caller cannot open a second feed for the same contract.
		m.feeds[token] = struct{}{}
		m.mu.Unlock()

		logs := make(chan types.Log)
		sub, err := m.node.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{token},
			Topics:    [][]common.Hash{{TransferTopic}},
		}, logs)
		if err != nil {
			m.release(token)
			m.logger.Error("failed to open contract log feed",
				zap.String("contract", lowerHex(token)),
				zap.Error(err))
			continue
		}

		m.logger.Info("contract log feed opened",
			zap.String("contract", lowerHex(token)))

		go m.pump(token, logs, sub)
	}
}

// Contracts reports the current feed table size.
func (m *Multiplexer) Contracts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.feeds)
}

func (m *Multiplexer) pump(token common.Address, logs <-chan types.Log, sub ethereum.Subscription) {
	defer sub.Unsubscribe()

	for {
		select {
		case lg := <-logs:
			event, err := DecodeTransfer(lg)
			if err != nil {
				m.logger.Warn("dropping undecodable log",
					zap.String("contract", lowerHex(token)),
					zap.String("txHash", lg.TxHash.Hex()),
					zap.Error(err))
				continue
			}

			m.out <- event
		case err := <-sub.Err():
			// Removing the address lets the next interested client
			// reopen the feed.
			m.release(token)
			m.logger.Error("contract log feed failed",
				zap.String("contract", lowerHex(token)),
				zap.Error(err))

			return
		}
	}
}

func (m *Multiplexer) release(token common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.feeds, token)
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
