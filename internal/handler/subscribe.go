package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goevery/chainwatch/internal/ierr"
	"github.com/goevery/chainwatch/internal/watch"
)

type SubscribeAccountRequest struct {
	Account string   `json:"account"`
	Tokens  []string `json:"tokens,omitempty"`
}

type SubscribeAccountResponse struct {
	Subscribed bool `json:"subscribed"`
}

type AccountRegistry interface {
	Register(ctx context.Context, cid string, event string, account common.Address, tokens []common.Address, sink watch.Sink) error
}

type SubscribeAccountHandlerInterface interface {
	Handle(ctx context.Context, req SubscribeAccountRequest) (SubscribeAccountResponse, error)
}

type SubscribeAccountHandler struct {
	registry AccountRegistry
}

func NewSubscribeAccountHandler(registry AccountRegistry) *SubscribeAccountHandler {
	return &SubscribeAccountHandler{
		registry,
	}
}

func (h *SubscribeAccountHandler) Handle(ctx context.Context, req SubscribeAccountRequest) (SubscribeAccountResponse, error) {
	if req.Account == "" {
		return SubscribeAccountResponse{},
			ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("account not sent"))
	}

	if !common.IsHexAddress(req.Account) {
		return SubscribeAccountResponse{},
			ierr.New(ierr.ErrorCodeInvalidArgument, fmt.Errorf("invalid account address: %s", req.Account))
	}

	connection, ok := watch.ConnectionFromContext(ctx)
	if !ok {
		return SubscribeAccountResponse{}, errors.New("connection not found in context")
	}

	tokens := make([]common.Address, 0, len(req.Tokens))
	for _, token := range req.Tokens {
		if !common.IsHexAddress(token) {
			return SubscribeAccountResponse{},
				ierr.New(ierr.ErrorCodeInvalidArgument, fmt.Errorf("invalid token address: %s", token))
		}

		tokens = append(tokens, common.HexToAddress(token))
	}

	err := h.registry.Register(
		ctx,
		connection.Id,
		watch.EventAccount,
		common.HexToAddress(req.Account),
		tokens,
		connection,
	)
	if err != nil {
		return SubscribeAccountResponse{}, err
	}

	return SubscribeAccountResponse{
		Subscribed: true,
	}, nil
}
