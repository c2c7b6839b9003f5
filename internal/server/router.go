package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/goevery/chainwatch/internal/handler"
	"github.com/goevery/chainwatch/internal/ierr"
	"go.uber.org/zap"
)

type Router struct {
	logger *zap.Logger

	statusHandler       handler.StatusHandlerInterface
	subscribeHandler    handler.SubscribeAccountHandlerInterface
	transactionsHandler handler.TransactionsHandlerInterface
	transfersHandler    handler.TokenTransfersHandlerInterface
}

func NewRouter(
	logger *zap.Logger,
	statusHandler handler.StatusHandlerInterface,
	subscribeHandler handler.SubscribeAccountHandlerInterface,
	transactionsHandler handler.TransactionsHandlerInterface,
	transfersHandler handler.TokenTransfersHandlerInterface,
) *Router {
	return &Router{
		logger,
		statusHandler,
		subscribeHandler,
		transactionsHandler,
		transfersHandler,
	}
}

func (r *Router) RouteRequest(ctx context.Context, request handler.Request) *handler.Response {
	response, err := r.Handle(ctx, request)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	if !request.ReplyExpected() {
		return nil
	}

	rawJson, err := json.Marshal(response)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	payload := json.RawMessage(rawJson)
	reply := request.Reply(&payload)

	return &reply
}

func (r *Router) Handle(ctx context.Context, request handler.Request) (any, error) {
	switch request.Method {
	case "status":
		return r.statusHandler.Handle(), nil
	case "subscribeAccount":
		// Absent params fall through to the handler, which rejects the
		// missing account with its own client-visible message.
		var req handler.SubscribeAccountRequest
		if request.Params != nil {
			if err := decodeParams(request.Params, &req); err != nil {
				return nil, err
			}
		}

		return r.subscribeHandler.Handle(ctx, req)
	case "getTransactionsByAddress":
		var req handler.TransactionsByAddressRequest
		if err := decodeParams(request.Params, &req); err != nil {
			return nil, err
		}

		return r.transactionsHandler.Handle(ctx, req)
	case "getTokenTransfers":
		var req handler.TokenTransfersRequest
		if err := decodeParams(request.Params, &req); err != nil {
			return nil, err
		}

		return r.transfersHandler.Handle(ctx, req)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+request.Method))
	}
}

func (r *Router) mapError(err error) ierr.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	r.logger.Error("error in rpc handler", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
}

func decodeParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing params"))
	}

	if err := json.Unmarshal(*params, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid params: "+err.Error()))
	}

	return nil
}
