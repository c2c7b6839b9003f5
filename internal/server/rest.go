package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/goevery/chainwatch/internal/auth"
	"github.com/goevery/chainwatch/internal/handler"
	"github.com/goevery/chainwatch/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type RESTServer struct {
	logger *zap.Logger

	statusHandler       handler.StatusHandlerInterface
	transactionsHandler handler.TransactionsHandlerInterface
	transfersHandler    handler.TokenTransfersHandlerInterface
	authenticator       *auth.Authenticator
}

func NewRESTServer(
	logger *zap.Logger,
	statusHandler handler.StatusHandlerInterface,
	transactionsHandler handler.TransactionsHandlerInterface,
	transfersHandler handler.TokenTransfersHandlerInterface,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		statusHandler,
		transactionsHandler,
		transfersHandler,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, s.statusHandler.Handle())
	}).Methods("GET")

	router.HandleFunc("/getTransactionsByAddress", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(w, r) {
			return
		}

		var req handler.TransactionsByAddressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		transactions, err := s.transactionsHandler.Handle(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, transactions)
	}).Methods("POST")

	router.HandleFunc("/getTokenTransfers", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(w, r) {
			return
		}

		var req handler.TokenTransfersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		transfers, err := s.transfersHandler.Handle(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, transfers)
	}).Methods("POST")
}

func (s *RESTServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if !s.authenticator.Enabled() {
		return true
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return false
	}

	if _, err := s.authenticator.AuthenticateAPIKey(token); err == nil {
		return true
	}

	if _, err := s.authenticator.AuthenticateJWT(token); err == nil {
		return true
	}

	http.Error(w, "invalid credentials", http.StatusUnauthorized)

	return false
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("failed to handle rest request", zap.Error(err))

	status := http.StatusInternalServerError

	var coded ierr.Error
	if errors.As(err, &coded) {
		switch coded.Code {
		case ierr.ErrorCodeInvalidArgument:
			status = http.StatusBadRequest
		case ierr.ErrorCodeResourceExhausted:
			status = http.StatusTooManyRequests
		case ierr.ErrorCodeUnavailable:
			status = http.StatusBadGateway
		}
	}

	http.Error(w, err.Error(), status)
}
