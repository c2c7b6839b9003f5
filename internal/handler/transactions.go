package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goevery/chainwatch/internal/history"
	"github.com/goevery/chainwatch/internal/ierr"
)

const defaultPageSize = 25

type TransactionsByAddressRequest struct {
	Address   string `json:"address"`
	FromBlock uint64 `json:"fromBlock,omitempty"`
	ToBlock   uint64 `json:"toBlock,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
}

type HistoricalTransactions interface {
	TransactionsByAddress(ctx context.Context, q history.TransactionsQuery) ([]history.Transaction, error)
}

type TransactionsHandlerInterface interface {
	Handle(ctx context.Context, req TransactionsByAddressRequest) ([]history.Transaction, error)
}

type TransactionsHandler struct {
	merger HistoricalTransactions
}

func NewTransactionsHandler(merger HistoricalTransactions) *TransactionsHandler {
	return &TransactionsHandler{
		merger,
	}
}

func (h *TransactionsHandler) Handle(ctx context.Context, req TransactionsByAddressRequest) ([]history.Transaction, error) {
	if req.Address == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("address not sent"))
	}

	if !common.IsHexAddress(req.Address) {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, fmt.Errorf("invalid address: %s", req.Address))
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return h.merger.TransactionsByAddress(ctx, history.TransactionsQuery{
		Address:   req.Address,
		FromBlock: req.FromBlock,
		ToBlock:   req.ToBlock,
		PageSize:  pageSize,
	})
}
