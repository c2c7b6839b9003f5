package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goevery/chainwatch/internal/history"
	"github.com/goevery/chainwatch/internal/ierr"
)

type TokenTransfersRequest struct {
	FromAddress     string `json:"fromAddress,omitempty"`
	ToAddress       string `json:"toAddress,omitempty"`
	ContractAddress string `json:"contractAddress"`
	FromBlock       uint64 `json:"fromBlock,omitempty"`
	ToBlock         uint64 `json:"toBlock,omitempty"`
}

type HistoricalTransfers interface {
	TokenTransfers(ctx context.Context, q history.TokenTransfersQuery) ([]history.TokenTransfer, error)
}

type TokenTransfersHandlerInterface interface {
	Handle(ctx context.Context, req TokenTransfersRequest) ([]history.TokenTransfer, error)
}

type TokenTransfersHandler struct {
	merger HistoricalTransfers
}

func NewTokenTransfersHandler(merger HistoricalTransfers) *TokenTransfersHandler {
	return &TokenTransfersHandler{
		merger,
	}
}

func (h *TokenTransfersHandler) Handle(ctx context.Context, req TokenTransfersRequest) ([]history.TokenTransfer, error) {
	if req.ContractAddress == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("contractAddress not sent"))
	}

	for _, addr := range []string{req.ContractAddress, req.FromAddress, req.ToAddress} {
		if addr != "" && !common.IsHexAddress(addr) {
			return nil, ierr.New(ierr.ErrorCodeInvalidArgument, fmt.Errorf("invalid address: %s", addr))
		}
	}

	return h.merger.TokenTransfers(ctx, history.TokenTransfersQuery{
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Contract:    req.ContractAddress,
		FromBlock:   req.FromBlock,
		ToBlock:     req.ToBlock,
	})
}
