package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goevery/chainwatch/internal/auth"
	"github.com/goevery/chainwatch/internal/handler"
	"github.com/goevery/chainwatch/internal/history"
	"github.com/goevery/chainwatch/internal/server"
	"github.com/goevery/chainwatch/internal/upstream"
	"github.com/goevery/chainwatch/internal/watch"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings
}

func NewApp(logger *zap.Logger, settings Settings) *App {
	return &App{
		logger:   logger,
		settings: settings,
	}
}

func (a *App) run(ctx context.Context) error {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	node, err := upstream.Dial(notifyCtx, a.settings.NodeURL)
	if err != nil {
		return fmt.Errorf("dial node: %w", err)
	}
	defer node.Close()

	chainID, err := node.ChainID(notifyCtx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	// A node that cannot report a valid block height at startup is the
	// one fatal condition; everything after this point degrades and
	// retries instead of aborting.
	height, err := node.BlockNumber(notifyCtx)
	if err != nil {
		return fmt.Errorf("initial block height: %w", err)
	}

	a.logger.Info("connected to node",
		zap.String("chainId", chainID.String()),
		zap.Uint64("height", height))

	transfers := make(chan watch.TransferEvent, 256)
	multiplexer := watch.NewMultiplexer(a.logger, node, transfers, a.settings.MaxContracts)
	registry := watch.NewRegistry(a.logger, node, multiplexer, a.settings.MaxSubscriptions)

	dispatcher := watch.NewDispatcher(a.logger, node, registry, chainID)
	dispatcher.SetHeight(height)

	heads := make(chan *types.Header, 16)
	source := upstream.NewSource(a.logger, node, time.Duration(a.settings.HeadRetrySeconds)*time.Second)

	go source.Run(notifyCtx, heads)
	go dispatcher.Run(notifyCtx, heads, transfers)
	go registry.RunSweeper(notifyCtx, time.Duration(a.settings.SweepSeconds)*time.Second)

	indexer := history.NewHTTPIndexer(a.settings.IndexerURL)
	merger := history.NewMerger(a.logger, indexer, node)

	statusHandler := handler.NewStatusHandler(dispatcher)
	subscribeHandler := handler.NewSubscribeAccountHandler(registry)
	transactionsHandler := handler.NewTransactionsHandler(merger)
	transfersHandler := handler.NewTokenTransfersHandler(merger)

	rpcRouter := server.NewRouter(
		a.logger,
		statusHandler,
		subscribeHandler,
		transactionsHandler,
		transfersHandler,
	)

	upgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: true,
		CheckOrigin:       func(r *http.Request) bool { return true },
	}

	authenticator := auth.NewAuthenticator(a.settings.JWTSecret, splitAPIKeys(a.settings.APIKeys))

	websocketServer := server.NewWebSocketServer(a.logger, upgrader, registry, rpcRouter)
	restServer := server.NewRESTServer(
		a.logger,
		statusHandler,
		transactionsHandler,
		transfersHandler,
		authenticator,
	)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	websocketServer.Register(router)
	restServer.Register(router)

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)
	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	a.logger.Info("http server stopped")

	return nil
}

func splitAPIKeys(raw string) []string {
	if raw == "" {
		return nil
	}

	keys := strings.Split(raw, ",")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}

	return keys
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		bootstrapLogger, _ := zap.NewDevelopment()
		bootstrapLogger.Fatal("failed to parse settings from environment", zap.Error(err))
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		bootstrapLogger, _ := zap.NewDevelopment()
		bootstrapLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	app := NewApp(logger, settings)

	if err := app.run(ctx); err != nil {
		logger.Fatal("failed to run", zap.Error(err))
	}
}
