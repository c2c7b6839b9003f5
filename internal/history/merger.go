package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goevery/chainwatch/internal/ierr"
	"github.com/goevery/chainwatch/internal/watch"
	"go.uber.org/zap"
)

// TxReader resolves gas fields for indexed logs against the live node.
// Satisfied by *ethclient.Client.
type TxReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

type TokenTransfersQuery struct {
	FromAddress string
	ToAddress   string
	Contract    string
	FromBlock   uint64
	ToBlock     uint64
}

// TokenTransfer is one assembled historical transfer record.
type TokenTransfer struct {
	Txid     string `json:"txid"`
	Height   uint64 `json:"height"`
	From     string `json:"from"`
	To       string `json:"to"`
	Gas      uint64 `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Value    string `json:"value"`
}

// Merger drives paginated queries against the indexing service and
// assembles single ordered result lists. It runs independently of the
// live dispatch path.
type Merger struct {
	logger  *zap.Logger
	indexer Indexer
	node    TxReader
}

func NewMerger(logger *zap.Logger, indexer Indexer, node TxReader) *Merger {
	return &Merger{
		logger:  logger,
		indexer: indexer,
		node:    node,
	}
}

// TransactionsByAddress is a single indexing-service call; numeric
// string fields are coerced during decoding and the list is otherwise
// returned verbatim.
func (m *Merger) TransactionsByAddress(ctx context.Context, q TransactionsQuery) ([]Transaction, error) {
	page, err := m.indexer.TransactionsByAddress(ctx, q)
	if err != nil {
		return nil, upstreamQueryFailed(err)
	}

	return page.Transactions, nil
}

// TokenTransfers concatenates log pages in the order the indexing
// service returns them (descending block order, not re-sorted) until no
// continuation token remains, resolving gas fields per log against the
// node. Any page or lookup failure fails the whole call; no partial
// result is returned.
func (m *Merger) TokenTransfers(ctx context.Context, q TokenTransfersQuery) ([]TokenTransfer, error) {
	query := LogsQuery{
		Contract:    q.Contract,
		FromAddress: q.FromAddress,
		ToAddress:   q.ToAddress,
		FromBlock:   q.FromBlock,
		ToBlock:     q.ToBlock,
	}

	transfers := []TokenTransfer{}

	for {
		page, err := m.indexer.Logs(ctx, query)
		if err != nil {
			return nil, upstreamQueryFailed(err)
		}

		for _, lg := range page.Logs {
			event, err := decodeIndexedLog(lg)
			if err != nil {
				m.logger.Warn("dropping undecodable indexed log",
					zap.String("txHash", lg.TxHash),
					zap.Error(err))
				continue
			}

			tx, _, err := m.node.TransactionByHash(ctx, common.HexToHash(lg.TxHash))
			if err != nil {
				return nil, upstreamQueryFailed(err)
			}

			transfers = append(transfers, TokenTransfer{
				Txid:     lg.TxHash,
				Height:   uint64(lg.Height),
				From:     strings.ToLower(event.From.Hex()),
				To:       strings.ToLower(event.To.Hex()),
				Gas:      tx.Gas(),
				GasPrice: tx.GasPrice().String(),
				Value:    event.Value.String(),
			})
		}

		if page.NextPageToken == "" {
			return transfers, nil
		}

		query.PageToken = page.NextPageToken
	}
}

func decodeIndexedLog(lg Log) (watch.TransferEvent, error) {
	topics := make([]common.Hash, 0, len(lg.Topics))
	for _, topic := range lg.Topics {
		topics = append(topics, common.HexToHash(topic))
	}

	data, err := hexutil.Decode(lg.Data)
	if err != nil {
		return watch.TransferEvent{}, fmt.Errorf("log data: %w", err)
	}

	return watch.DecodeTransfer(types.Log{
		Address:     common.HexToAddress(lg.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: uint64(lg.Height),
		TxHash:      common.HexToHash(lg.TxHash),
	})
}

func upstreamQueryFailed(err error) error {
	return ierr.New(ierr.ErrorCodeUnavailable, fmt.Errorf("upstream query failed: %w", err))
}
